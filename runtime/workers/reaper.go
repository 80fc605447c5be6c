package workers

import (
	"context"
	"log/slog"
	"time"

	"collab-lab/contract"
)

// ReaperWorker sweeps the registry for participants that went silent past
// the heartbeat timeout and runs the logout cascade for each. The cascade
// itself lives on the control server (contract.Disconnector); the reaper only
// decides who is dead.
type ReaperWorker struct {
	log          *slog.Logger
	registry     contract.IRegistry
	disconnector contract.Disconnector
	interval     time.Duration
	timeout      time.Duration
}

func NewReaperWorker(
	log *slog.Logger,
	registry contract.IRegistry,
	disconnector contract.Disconnector,
	interval time.Duration,
	timeout time.Duration,
) *ReaperWorker {
	return &ReaperWorker{
		log:          log,
		registry:     registry,
		disconnector: disconnector,
		interval:     interval,
		timeout:      timeout,
	}
}

func (w *ReaperWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat reaper", "interval", w.interval, "timeout", w.timeout)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-w.timeout)
			for _, uid := range w.registry.Expired(cutoff) {
				w.log.Info("Removing inactive participant", "uid", uid)
				w.disconnector.Disconnect(uid, "heartbeat timeout")
			}
		}
	}
}
