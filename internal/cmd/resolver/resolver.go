// Package resolver parses resolver command flags and launches the resolver
// runtime.
package resolver

import (
	"context"
	"flag"
	"time"

	"github.com/lowenmark/crownfall/internal/app"
	entrypoint "github.com/lowenmark/crownfall/internal/platform/cmd"
)

// Config holds resolver command configuration.
type Config struct {
	Port             int           `env:"CROWNFALL_RESOLVER_PORT" envDefault:"8090"`
	Driver           string        `env:"CROWNFALL_RESOLVER_DB_DRIVER" envDefault:"sqlite"`
	DBPath           string        `env:"CROWNFALL_RESOLVER_DB_PATH" envDefault:"data/resolver.db"`
	DBURL            string        `env:"CROWNFALL_RESOLVER_DB_URL"`
	PollInterval     time.Duration `env:"CROWNFALL_RESOLVER_POLL_INTERVAL" envDefault:"2s"`
	MaxProgress      int           `env:"CROWNFALL_RESOLVER_MAX_PROGRESS" envDefault:"5"`
	ClaimLease       time.Duration `env:"CROWNFALL_RESOLVER_CLAIM_LEASE" envDefault:"1m"`
	TravelSpeedMod   float64       `env:"CROWNFALL_RESOLVER_TRAVEL_SPEED_MOD" envDefault:"1.0"`
	ImmediateActions bool          `env:"CROWNFALL_RESOLVER_IMMEDIATE_ACTIONS" envDefault:"false"`
	ResearchInterval time.Duration `env:"CROWNFALL_RESOLVER_RESEARCH_INTERVAL" envDefault:"1h"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The resolver health gRPC server port")
	fs.StringVar(&cfg.Driver, "db-driver", cfg.Driver, "The storage driver: sqlite or postgres")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The resolver SQLite database path")
	fs.StringVar(&cfg.DBURL, "db-url", cfg.DBURL, "The resolver Postgres connection string")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Due-action poll interval")
	fs.IntVar(&cfg.MaxProgress, "max-progress", cfg.MaxProgress, "Maximum actions resolved per tick")
	fs.DurationVar(&cfg.ClaimLease, "claim-lease", cfg.ClaimLease, "Due-action claim lease duration")
	fs.Float64Var(&cfg.TravelSpeedMod, "travel-speed-mod", cfg.TravelSpeedMod, "Travel speed modifier applied to disengage nudges")
	fs.BoolVar(&cfg.ImmediateActions, "immediate-actions", cfg.ImmediateActions, "Resolve standing actions synchronously at enqueue time")
	fs.DurationVar(&cfg.ResearchInterval, "research-interval", cfg.ResearchInterval, "Delay between research cycle advances")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the resolver runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceResolver, func(context.Context) error {
		return app.Run(ctx, app.RuntimeConfig{
			Port:             cfg.Port,
			Driver:           cfg.Driver,
			DBPath:           cfg.DBPath,
			DBURL:            cfg.DBURL,
			PollInterval:     cfg.PollInterval,
			MaxProgress:      cfg.MaxProgress,
			ClaimLease:       cfg.ClaimLease,
			TravelSpeedMod:   cfg.TravelSpeedMod,
			ImmediateActions: cfg.ImmediateActions,
			ResearchInterval: cfg.ResearchInterval,
		})
	})
}
