// Package collab parses collab command flags and composes transport entrypoints.
package collab

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	entrypoint "github.com/duckviet/mind-notion-collab/internal/platform/cmd"
	server "github.com/duckviet/mind-notion-collab/internal/services/collab/app"
)

// defaultDevTokenSecret keeps local development working without setup. The
// server logs a warning when it is in effect.
const defaultDevTokenSecret = "dev-collab-secret"

// Config holds collab command configuration.
type Config struct {
	HTTPAddr              string        `env:"COLLAB_HTTP_ADDR"                 envDefault:":1234"`
	TokenSecret           string        `env:"COLLAB_TOKEN_SECRET"`
	MaxConnectionsPerNote int           `env:"COLLAB_MAX_CONNECTIONS_PER_NOTE"  envDefault:"25"`
	StoragePath           string        `env:"COLLAB_STORAGE_PATH"              envDefault:"collab.db"`
	SaveInterval          time.Duration `env:"COLLAB_SAVE_INTERVAL"             envDefault:"30s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "collab HTTP listen address")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "shared secret for note access tokens")
	fs.IntVar(&cfg.MaxConnectionsPerNote, "max-connections-per-note", cfg.MaxConnectionsPerNote, "connection cap per note")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "sqlite note store path, empty disables persistence")
	fs.DurationVar(&cfg.SaveInterval, "save-interval", cfg.SaveInterval, "interval between dirty note flushes")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the collab app and serves the realtime editing transport.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCollab, func(context.Context) error {
		secret := cfg.TokenSecret
		if secret == "" {
			log.Printf("COLLAB_TOKEN_SECRET is not set, using the development secret; do not run this in production")
			secret = defaultDevTokenSecret
		}
		if err := server.Run(ctx, server.Config{
			HTTPAddr:              cfg.HTTPAddr,
			TokenSecret:           secret,
			MaxConnectionsPerNote: cfg.MaxConnectionsPerNote,
			StoragePath:           cfg.StoragePath,
			SaveInterval:          cfg.SaveInterval,
		}); err != nil {
			return fmt.Errorf("serve collab: %w", err)
		}
		return nil
	})
}
