package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"

	"collab-lab/contract"
	"collab-lab/domain"
	"collab-lab/internal"
	"collab-lab/moderation"
	"collab-lab/observability"
	"collab-lab/runtime"
	"collab-lab/runtime/workers"
	"collab-lab/server"
	"collab-lab/services"
	"collab-lab/storage"
)

// BaseRelaySuite boots a complete relay in-process on ephemeral loopback
// ports: control channel, both media relays, screen share, upload and
// download listeners, a real Badger catalog, and the worker supervisor.
type BaseRelaySuite struct {
	suite.Suite
	Config Config

	RelayCfg internal.Config
	cancel   context.CancelFunc
	workDir  string
	db       *badger.DB

	control *server.ControlServer
	video   *server.MediaRelay
	audio   *server.MediaRelay
	share   *server.ScreenShareServer
}

// SetupSuite loads the environment configuration and starts the relay.
func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)

	s.workDir, err = os.MkdirTemp("", "relay-e2e-*")
	s.Require().NoError(err)

	cfg := internal.Config{
		Host:               s.Config.Host,
		ControlPort:        s.freePort(),
		VideoPort:          s.freePort(),
		AudioPort:          s.freePort(),
		ScreenSharePort:    s.freePort(),
		UploadPort:         s.freePort(),
		DownloadPort:       s.freePort(),
		HeartbeatInterval:  10 * time.Second,
		HeartbeatMissLimit: 3,
		OutboundQueueSize:  64,
		DeliveryTimeout:    5 * time.Second,
		MaxFrameSize:       1 << 20,
		MaxChatHistory:     500,
		MaxContentLength:   4096,
		CensoredWords:      s.Config.CensoredWords,
		CharReplacement:    "*",
		StorageRoot:        s.workDir + "/uploads",
		BadgerPath:         s.workDir + "/catalog",
		MaxUploadSize:      100 << 20,
		MediaBufferSize:    65536,
		RateLimitWindow:    time.Minute,
		RateLimitAttempts:  1000,
		RestartInterval:    200 * time.Millisecond,
	}
	s.RelayCfg = cfg

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.db, err = badger.Open(badger.DefaultOptions(cfg.BadgerPath).
		WithLoggingLevel(badger.ERROR))
	s.Require().NoError(err)

	store, err := storage.NewStore(cfg.StorageRoot, logger)
	s.Require().NoError(err)
	catalog := storage.NewCatalog(s.db, logger)

	moderator, err := moderation.NewModerator([]string{s.Config.CensoredWords}, '*')
	s.Require().NoError(err)
	history := domain.NewHistory(cfg.MaxChatHistory)
	chatService := services.NewChatService(logger, moderator, history, catalog, cfg.MaxContentLength)
	monitoring := observability.NewMonitoringManager(logger)

	registry := runtime.NewRegistry()
	transfers := server.NewTransferTracker()
	s.control = server.NewControlServer(cfg, logger, registry, chatService, catalog, transfers, monitoring)
	s.video = server.NewMediaRelay(contract.MediaVideo,
		cfg.Host, cfg.VideoPort, cfg.MediaBufferSize, logger, registry, monitoring)
	s.audio = server.NewMediaRelay(contract.MediaAudio,
		cfg.Host, cfg.AudioPort, cfg.MediaBufferSize, logger, registry, monitoring)
	s.share = server.NewScreenShareServer(
		cfg.Host, cfg.ScreenSharePort, logger, registry, s.control, monitoring)
	upload := server.NewUploadServer(
		cfg.Host, cfg.UploadPort, cfg.MaxUploadSize, uint32(cfg.MaxFrameSize),
		logger, registry, store, catalog, transfers, s.control, monitoring)
	download := server.NewDownloadServer(
		cfg.Host, cfg.DownloadPort, uint32(cfg.MaxFrameSize),
		logger, registry, store, catalog, transfers, monitoring)
	reaper := workers.NewReaperWorker(
		logger, registry, s.control, cfg.HeartbeatInterval, cfg.HeartbeatTimeout())

	sup := workers.NewSupervisor(logger, cfg.RestartInterval)
	sup.Add(s.control, s.video, s.audio, s.share, upload, download, reaper)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go sup.Run(ctx)

	s.waitListeners()
}

func (s *BaseRelaySuite) TearDownSuite() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.workDir != "" {
		_ = os.RemoveAll(s.workDir)
	}
}

// Step prints a colorized header so scenario output reads as a narrative.
func (s *BaseRelaySuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

func (s *BaseRelaySuite) ControlAddr() string {
	return fmt.Sprintf("%s:%d", s.RelayCfg.Host, s.RelayCfg.ControlPort)
}

func (s *BaseRelaySuite) UploadAddr() string {
	return fmt.Sprintf("%s:%d", s.RelayCfg.Host, s.RelayCfg.UploadPort)
}

func (s *BaseRelaySuite) DownloadAddr() string {
	return fmt.Sprintf("%s:%d", s.RelayCfg.Host, s.RelayCfg.DownloadPort)
}

func (s *BaseRelaySuite) ShareAddr() string {
	return fmt.Sprintf("%s:%d", s.RelayCfg.Host, s.RelayCfg.ScreenSharePort)
}

func (s *BaseRelaySuite) VideoAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(s.RelayCfg.Host), Port: s.RelayCfg.VideoPort}
}

// freePort grabs an ephemeral port by binding and immediately releasing it.
// Good enough on loopback where nothing else is racing for ports.
func (s *BaseRelaySuite) freePort() int {
	ln, err := net.Listen("tcp", s.Config.Host+":0")
	s.Require().NoError(err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func (s *BaseRelaySuite) waitListeners() {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", s.ControlAddr(), time.Second)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	s.FailNow("relay did not come up in time")
}
