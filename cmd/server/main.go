package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"collab-lab/contract"
	"collab-lab/internal"
	"collab-lab/internal/logs"
	"collab-lab/moderation"
	"collab-lab/observability"
	"collab-lab/runtime"
	"collab-lab/runtime/workers"
	"collab-lab/server"
	"collab-lab/services"
	"collab-lab/storage"

	"collab-lab/domain"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the relay lifecycle, and centralizes
// error reporting so every defer (database close, listener teardown) executes
// before the process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}
	charReplacement, err := config.CharacterRune()
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx := context.Background()

	// 2. Database (BadgerDB) & disk storage
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		// Defer ensures the database lock is released and buffers are flushed.
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	store, err := storage.NewStore(config.StorageRoot, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("storage init failed: %w", err)
	}
	catalog := storage.NewCatalog(db, logger)

	// 3. Domain services
	moderator, err := moderation.NewModerator(splitWords(config.CensoredWords), charReplacement)
	if err != nil {
		return exitConfig, fmt.Errorf("moderation init failed: %w", err)
	}
	history := domain.NewHistory(config.MaxChatHistory)
	catalog.WarmHistory(history, config.MaxChatHistory)
	chatService := services.NewChatService(logger, moderator, history, catalog, config.MaxContentLength)

	monitoring := observability.NewMonitoringManager(logger)
	if config.MetricsEnabled {
		monitoring = monitoring.WithMetrics(observability.NewMetrics())
		go serveMetrics(logger, config.MetricsPort)
	}

	// 4. Listeners & workers
	registry := runtime.NewRegistry()
	transfers := server.NewTransferTracker()
	control := server.NewControlServer(config, logger, registry, chatService, catalog, transfers, monitoring)
	videoRelay := server.NewMediaRelay(contract.MediaVideo,
		config.Host, config.VideoPort, config.MediaBufferSize, logger, registry, monitoring)
	audioRelay := server.NewMediaRelay(contract.MediaAudio,
		config.Host, config.AudioPort, config.MediaBufferSize, logger, registry, monitoring)
	screenShare := server.NewScreenShareServer(
		config.Host, config.ScreenSharePort, logger, registry, control, monitoring)
	upload := server.NewUploadServer(
		config.Host, config.UploadPort, config.MaxUploadSize, uint32(config.MaxFrameSize),
		logger, registry, store, catalog, transfers, control, monitoring)
	download := server.NewDownloadServer(
		config.Host, config.DownloadPort, uint32(config.MaxFrameSize),
		logger, registry, store, catalog, transfers, monitoring)
	reaper := workers.NewReaperWorker(
		logger, registry, control, config.HeartbeatInterval, config.HeartbeatTimeout())
	telemetry := workers.NewTelemetryWorker(logger, registry, monitoring, config.MetricInterval)

	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(control, videoRelay, audioRelay, screenShare, upload, download, reaper, telemetry)

	// 5. Context & Signals
	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Relay starting",
		"control", config.ControlPort,
		"video", config.VideoPort,
		"audio", config.AudioPort,
		"screen_share", config.ScreenSharePort,
		"upload", config.UploadPort,
		"download", config.DownloadPort,
	)
	// Run blocks until the signal context cancels and every worker drains.
	sup.Run(ctx)
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerPath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}

	return options
}

func serveMetrics(logger *slog.Logger, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Info("Prometheus metrics exposed", "addr", addr, "path", "/metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server stopped", "error", err)
	}
}

func splitWords(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	words := strings.Split(csv, ",")
	for i := range words {
		words[i] = strings.TrimSpace(words[i])
	}
	return words
}
