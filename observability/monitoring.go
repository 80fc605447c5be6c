package observability

import (
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"
)

// MonitoringStats aggregates the relay counters for one telemetry tick.
type MonitoringStats struct {
	ActiveParticipants  int       `json:"active_participants"`
	ConnectionsTotal    uint64    `json:"connections_total"`
	MessagesRouted      uint64    `json:"messages_routed"`
	VideoPacketsRelayed uint64    `json:"video_packets_relayed"`
	AudioPacketsRelayed uint64    `json:"audio_packets_relayed"`
	ShareFramesRelayed  uint64    `json:"share_frames_relayed"`
	FilesUploaded       uint64    `json:"files_uploaded"`
	BytesUploaded       uint64    `json:"bytes_uploaded"`
	BytesDownloaded     uint64    `json:"bytes_downloaded"`
	ParseErrors         uint64    `json:"parse_errors"`
	DroppedDeliveries   uint64    `json:"dropped_deliveries"`
	AllocMemMb          uint64    `json:"alloc_mem_mb"`
	NumGC               uint32    `json:"num_gc"`
	StartedAt           time.Time `json:"started_at"`
}

// MonitoringManager collects real-time counters from every relay component.
// All increments are atomic; Snapshot is the only aggregation point.
type MonitoringManager struct {
	log       *slog.Logger
	startedAt time.Time

	ConnectionsTotal    uint64
	MessagesRouted      uint64
	VideoPacketsRelayed uint64
	AudioPacketsRelayed uint64
	ShareFramesRelayed  uint64
	FilesUploaded       uint64
	BytesUploaded       uint64
	BytesDownloaded     uint64
	ParseErrors         uint64
	DroppedDeliveries   uint64

	metrics *Metrics
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log, startedAt: time.Now()}
}

// WithMetrics attaches prometheus metrics; without it the manager only keeps
// in-process counters.
func (mm *MonitoringManager) WithMetrics(metrics *Metrics) *MonitoringManager {
	mm.metrics = metrics
	return mm
}

func (mm *MonitoringManager) IncrConnections() {
	atomic.AddUint64(&mm.ConnectionsTotal, 1)
	if mm.metrics != nil {
		mm.metrics.ConnectionsTotal.Inc()
	}
}

func (mm *MonitoringManager) IncrMessagesRouted() {
	atomic.AddUint64(&mm.MessagesRouted, 1)
	if mm.metrics != nil {
		mm.metrics.MessagesRouted.Inc()
	}
}

func (mm *MonitoringManager) IncrVideoPackets() {
	atomic.AddUint64(&mm.VideoPacketsRelayed, 1)
	if mm.metrics != nil {
		mm.metrics.VideoPacketsRelayed.Inc()
	}
}

func (mm *MonitoringManager) IncrAudioPackets() {
	atomic.AddUint64(&mm.AudioPacketsRelayed, 1)
	if mm.metrics != nil {
		mm.metrics.AudioPacketsRelayed.Inc()
	}
}

func (mm *MonitoringManager) IncrShareFrames() {
	atomic.AddUint64(&mm.ShareFramesRelayed, 1)
	if mm.metrics != nil {
		mm.metrics.ShareFramesRelayed.Inc()
	}
}

func (mm *MonitoringManager) IncrFilesUploaded() {
	atomic.AddUint64(&mm.FilesUploaded, 1)
	if mm.metrics != nil {
		mm.metrics.FilesUploaded.Inc()
	}
}

func (mm *MonitoringManager) AddBytesUploaded(n uint64) {
	atomic.AddUint64(&mm.BytesUploaded, n)
	if mm.metrics != nil {
		mm.metrics.BytesUploaded.Add(float64(n))
	}
}

func (mm *MonitoringManager) AddBytesDownloaded(n uint64) {
	atomic.AddUint64(&mm.BytesDownloaded, n)
	if mm.metrics != nil {
		mm.metrics.BytesDownloaded.Add(float64(n))
	}
}

func (mm *MonitoringManager) IncrParseErrors() {
	atomic.AddUint64(&mm.ParseErrors, 1)
	if mm.metrics != nil {
		mm.metrics.ParseErrors.Inc()
	}
}

func (mm *MonitoringManager) IncrDroppedDeliveries() {
	atomic.AddUint64(&mm.DroppedDeliveries, 1)
	if mm.metrics != nil {
		mm.metrics.DroppedDeliveries.Inc()
	}
}

// Snapshot reads every counter plus Go memory stats. activeParticipants
// comes from the registry because the manager does not track membership.
func (mm *MonitoringManager) Snapshot(activeParticipants int) MonitoringStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	if mm.metrics != nil {
		mm.metrics.ActiveParticipants.Set(float64(activeParticipants))
	}

	return MonitoringStats{
		ActiveParticipants:  activeParticipants,
		ConnectionsTotal:    atomic.LoadUint64(&mm.ConnectionsTotal),
		MessagesRouted:      atomic.LoadUint64(&mm.MessagesRouted),
		VideoPacketsRelayed: atomic.LoadUint64(&mm.VideoPacketsRelayed),
		AudioPacketsRelayed: atomic.LoadUint64(&mm.AudioPacketsRelayed),
		ShareFramesRelayed:  atomic.LoadUint64(&mm.ShareFramesRelayed),
		FilesUploaded:       atomic.LoadUint64(&mm.FilesUploaded),
		BytesUploaded:       atomic.LoadUint64(&mm.BytesUploaded),
		BytesDownloaded:     atomic.LoadUint64(&mm.BytesDownloaded),
		ParseErrors:         atomic.LoadUint64(&mm.ParseErrors),
		DroppedDeliveries:   atomic.LoadUint64(&mm.DroppedDeliveries),
		AllocMemMb:          m.Alloc / 1024 / 1024,
		NumGC:               m.NumGC,
		StartedAt:           mm.startedAt,
	}
}
