// Package entityd parses entity server flags and launches the service.
package entityd

import (
	"context"
	"flag"

	"github.com/louisbranch/entityd/internal/app"
	entrypoint "github.com/louisbranch/entityd/internal/platform/cmd"
)

// Config holds entity server command configuration.
type Config struct {
	Port int `env:"ENTITYD_PORT" envDefault:"8080"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The entity HTTP server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the entity HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEntityd, func(context.Context) error {
		return app.Run(ctx, cfg.Port)
	})
}
