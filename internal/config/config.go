// Package config loads the coordinator's runtime configuration from a
// .env file (if present) and the process environment, following the same
// godotenv-then-envconfig pattern used across the example pack.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every value the coordinator needs at startup that isn't a
// positional CLI argument.
type Config struct {
	ListenAddr    string        `envconfig:"LISTEN_ADDR" default:"0.0.0.0:1234"`
	HTTPAddr      string        `envconfig:"HTTP_ADDR" default:"0.0.0.0:80"`
	StaticRoot    string        `envconfig:"STATIC_ROOT" default:"static"`
	TileTimeout   time.Duration `envconfig:"TILE_TIMEOUT" default:"5s"`
	SegmentLength time.Duration `envconfig:"SEGMENT_LENGTH" default:"6s"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty     bool          `envconfig:"LOG_PRETTY" default:"true"`
}

// Load reads a .env file from the working directory when one exists — its
// absence is not an error, since production deploys set the environment
// directly — then overlays process environment variables under the TC_
// prefix into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	var cfg Config
	if err := envconfig.Process("tc", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
