package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_COLOURS enables colorized step headers for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
	// E2E_HOST is the loopback interface the in-process relay binds to
	Host string `envconfig:"E2E_HOST" default:"127.0.0.1"`
	// E2E_CENSORED_WORDS seeds the moderation list for the scenario run
	CensoredWords string `envconfig:"E2E_CENSORED_WORDS" default:"blast"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
