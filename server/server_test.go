package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"collab-lab/domain"
	"collab-lab/errors"
	"collab-lab/internal"
	"collab-lab/moderation"
	"collab-lab/observability"
	"collab-lab/runtime"
	"collab-lab/services"
)

// memCatalog is an in-memory stand-in for the Badger catalog.
type memCatalog struct {
	mu    sync.Mutex
	files map[string]domain.FileInfo
	msgs  []domain.HistoryEntry
}

func newMemCatalog() *memCatalog {
	return &memCatalog{files: make(map[string]domain.FileInfo)}
}

func (c *memCatalog) PutFile(info domain.FileInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[info.Filename] = info
	return nil
}

func (c *memCatalog) GetFile(filename string) (domain.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.files[filename]
	if !ok {
		return domain.FileInfo{}, fmt.Errorf("%w: %s", errors.ErrNotFound, filename)
	}
	return info, nil
}

func (c *memCatalog) ListFiles() ([]domain.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.FileInfo, 0, len(c.files))
	for _, info := range c.files {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (c *memCatalog) AppendMessage(entry domain.HistoryEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, entry)
	return nil
}

func (c *memCatalog) RecentMessages(limit int) ([]domain.HistoryEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) > limit {
		return append([]domain.HistoryEntry(nil), c.msgs[len(c.msgs)-limit:]...), nil
	}
	return append([]domain.HistoryEntry(nil), c.msgs...), nil
}

func testConfig() internal.Config {
	return internal.Config{
		Host:              "127.0.0.1",
		ControlPort:       0,
		OutboundQueueSize: 16,
		DeliveryTimeout:   2 * time.Second,
		MaxFrameSize:      1 << 20,
		MaxChatHistory:    100,
		MaxContentLength:  4096,
		MediaBufferSize:   65536,
		RateLimitWindow:   time.Minute,
		RateLimitAttempts: 100,
		ScreenSharePort:   12000,
		UploadPort:        13000,
		DownloadPort:      14000,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type controlStack struct {
	cfg      internal.Config
	registry *runtime.Registry
	catalog  *memCatalog
	control  *ControlServer
	cancel   context.CancelFunc
}

// startControlStack boots a control server on a loopback ephemeral port and
// waits until it accepts connections.
func startControlStack(t *testing.T) *controlStack {
	t.Helper()

	log := testLogger()
	cfg := testConfig()
	registry := runtime.NewRegistry()
	catalog := newMemCatalog()
	moderator, err := moderation.NewModerator(nil, '*')
	require.NoError(t, err)
	history := domain.NewHistory(cfg.MaxChatHistory)
	chat := services.NewChatService(log, moderator, history, catalog, cfg.MaxContentLength)
	monitoring := observability.NewMonitoringManager(log)

	control := NewControlServer(cfg, log, registry, chat, catalog, NewTransferTracker(), monitoring)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := control.Run(ctx); err != nil {
			log.Error("control server stopped", "error", err)
		}
	}()
	waitForAddr(t, func() bool { return control.Addr() != nil })

	t.Cleanup(cancel)
	return &controlStack{
		cfg:      cfg,
		registry: registry,
		catalog:  catalog,
		control:  control,
		cancel:   cancel,
	}
}

func waitForAddr(t *testing.T, ready func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ready() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("listener did not come up in time")
}
