package internal

import (
	"fmt"
	"time"
)

// Config holds every tunable of the relay. Values come from the environment,
// optionally seeded from a .env file in cmd/server.
type Config struct {
	Host            string `env:"HOST,default=0.0.0.0"`
	ControlPort     int    `env:"CONTROL_PORT,default=9000"`
	VideoPort       int    `env:"VIDEO_PORT,default=10000"`
	AudioPort       int    `env:"AUDIO_PORT,default=11000"`
	ScreenSharePort int    `env:"SCREEN_SHARE_PORT,default=12000"`
	UploadPort      int    `env:"UPLOAD_PORT,default=13000"`
	DownloadPort    int    `env:"DOWNLOAD_PORT,default=14000"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=10s"`
	// A participant silent for HeartbeatInterval*HeartbeatMissLimit is reaped.
	HeartbeatMissLimit int `env:"HEARTBEAT_MISS_LIMIT,default=3"`

	OutboundQueueSize int           `env:"OUTBOUND_QUEUE_SIZE,default=64"`
	DeliveryTimeout   time.Duration `env:"DELIVERY_TIMEOUT,default=5s"`
	MaxFrameSize      int           `env:"MAX_FRAME_SIZE,default=1048576"`

	MaxChatHistory   int    `env:"MAX_CHAT_HISTORY,default=500"`
	MaxContentLength int    `env:"MAX_CONTENT_LENGTH,default=4096"`
	CensoredWords    string `env:"CENSORED_WORDS"`
	CharReplacement  string `env:"CHARACTER_REPLACEMENT,default=*"`

	StorageRoot   string `env:"STORAGE_ROOT,default=uploads"`
	BadgerPath    string `env:"BADGER_FILEPATH,default=catalog"`
	MaxUploadSize int64  `env:"MAX_UPLOAD_SIZE,default=104857600"`

	MediaBufferSize int `env:"MEDIA_BUFFER_SIZE,default=65536"`

	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
	RateLimitAttempts int           `env:"RATE_LIMIT_ATTEMPTS,default=30"`

	MetricsEnabled bool          `env:"METRICS_ENABLED,default=false"`
	MetricsPort    int           `env:"METRICS_PORT,default=8090"`
	MetricInterval time.Duration `env:"METRIC_INTERVAL,default=30s"`

	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO"`
}

// HeartbeatTimeout is the silence window after which a participant is
// considered gone.
func (c Config) HeartbeatTimeout() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.HeartbeatMissLimit)
}

func (c Config) CharacterRune() (rune, error) {
	r := []rune(c.CharReplacement)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			c.CharReplacement,
		)
	}
	return r[0], nil
}

// Validate rejects configurations the listeners cannot start with.
func (c Config) Validate() error {
	ports := map[string]int{
		"CONTROL_PORT":      c.ControlPort,
		"VIDEO_PORT":        c.VideoPort,
		"AUDIO_PORT":        c.AudioPort,
		"SCREEN_SHARE_PORT": c.ScreenSharePort,
		"UPLOAD_PORT":       c.UploadPort,
		"DOWNLOAD_PORT":     c.DownloadPort,
	}
	for name, port := range ports {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive, got %s", c.HeartbeatInterval)
	}
	if c.HeartbeatMissLimit < 1 {
		return fmt.Errorf("HEARTBEAT_MISS_LIMIT must be at least 1, got %d", c.HeartbeatMissLimit)
	}
	if c.OutboundQueueSize < 1 {
		return fmt.Errorf("OUTBOUND_QUEUE_SIZE must be at least 1, got %d", c.OutboundQueueSize)
	}
	if c.MaxFrameSize < 1024 {
		return fmt.Errorf("MAX_FRAME_SIZE must be at least 1024, got %d", c.MaxFrameSize)
	}
	if c.MaxUploadSize < 1 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got %d", c.MaxUploadSize)
	}
	return nil
}
