package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"collab-lab/contract"
	"collab-lab/observability"
)

// TelemetryWorker periodically logs a snapshot of relay counters together
// with process self-stats (CPU, RSS) and feeds the prometheus gauges.
type TelemetryWorker struct {
	log        *slog.Logger
	registry   contract.IRegistry
	monitoring *observability.MonitoringManager
	interval   time.Duration
}

func NewTelemetryWorker(
	log *slog.Logger,
	registry contract.IRegistry,
	monitoring *observability.MonitoringManager,
	interval time.Duration,
) *TelemetryWorker {
	return &TelemetryWorker{
		log:        log,
		registry:   registry,
		monitoring: monitoring,
		interval:   interval,
	}
}

// Run executes the main loop of the worker, logging relay and process
// metrics on every tick.
func (w *TelemetryWorker) Run(ctx context.Context) error {
	w.log.Info("Starting telemetry worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}

			snapshot := w.monitoring.Snapshot(len(w.registry.List()))
			w.log.Info("telemetry",
				"participants", snapshot.ActiveParticipants,
				"messages_routed", snapshot.MessagesRouted,
				"video_packets", snapshot.VideoPacketsRelayed,
				"audio_packets", snapshot.AudioPacketsRelayed,
				"share_frames", snapshot.ShareFramesRelayed,
				"files_uploaded", snapshot.FilesUploaded,
				"bytes_up", snapshot.BytesUploaded,
				"bytes_down", snapshot.BytesDownloaded,
				"parse_errors", snapshot.ParseErrors,
				"cpu_percent", cpu,
				"ram_bytes", rss,
			)
		}
	}
}

// selfStats retrieves memory and CPU usage for the given process.
func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
