// Package app wires the resolver daemon: durable stores, the resolution
// engine, a gRPC health endpoint, and the tick loop that drives Progress.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lowenmark/crownfall/internal/game/engine"
	"github.com/lowenmark/crownfall/internal/game/worldmem"
	"github.com/lowenmark/crownfall/internal/storage/sqlstore"
	"github.com/lowenmark/crownfall/internal/telemetry"
)

// RuntimeConfig controls resolver startup, storage, and loop behavior.
type RuntimeConfig struct {
	Port int

	// Driver selects the storage backend: "sqlite" (default) or
	// "postgres". DBPath is the SQLite file; DBURL the Postgres DSN.
	Driver string
	DBPath string
	DBURL  string

	PollInterval time.Duration

	MaxProgress      int
	ClaimLease       time.Duration
	TravelSpeedMod   float64
	ImmediateActions bool
	ResearchInterval time.Duration
}

const (
	defaultResolverPort = 8090
	defaultResolverDB   = "data/resolver.db"
	defaultPollInterval = 2 * time.Second
)

// Run starts resolver runtime dependencies and the tick loop.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultResolverPort
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close resolver store: %v", closeErr)
		}
	}()

	// The campaign world backend is in-memory until the surrounding game
	// services are wired in; the engine only sees the interfaces.
	world := worldmem.New()
	world.AttachBattles(store)

	eng, err := engine.New(engine.Config{
		MaxProgress:      cfg.MaxProgress,
		TravelSpeedMod:   cfg.TravelSpeedMod,
		ImmediateActions: cfg.ImmediateActions,
		ClaimLease:       cfg.ClaimLease,
		ResearchInterval: cfg.ResearchInterval,
	}, engine.Deps{
		Actions:       store,
		Battles:       store,
		World:         world,
		History:       world,
		Politics:      world,
		Interactions:  world,
		Geography:     world,
		Communication: world,
		Permissions:   world,
		Military:      world,
		Eligibility:   world,
		Telemetry:     telemetry.NewEmitter(store),
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on resolver port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("resolver.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("resolver server listening at %v", listener.Addr())
	return tickLoop(ctx, eng, cfg.PollInterval)
}

func openStore(cfg RuntimeConfig) (*sqlstore.Store, error) {
	driver := strings.TrimSpace(strings.ToLower(cfg.Driver))
	switch driver {
	case "", string(sqlstore.DialectSQLite):
		dbPath := cfg.DBPath
		if strings.TrimSpace(dbPath) == "" {
			dbPath = defaultResolverDB
		}
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create resolver storage dir: %w", err)
			}
		}
		store, err := sqlstore.Open(sqlstore.DialectSQLite, dbPath)
		if err != nil {
			return nil, fmt.Errorf("open resolver sqlite store: %w", err)
		}
		return store, nil
	case string(sqlstore.DialectPostgres):
		store, err := sqlstore.Open(sqlstore.DialectPostgres, cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("open resolver postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// tickLoop drives Progress on the poll interval until the context ends.
// Each pass runs under its own span; a failing pass is logged and the loop
// keeps going.
func tickLoop(ctx context.Context, eng *engine.Engine, interval time.Duration) error {
	tracer := otel.Tracer("crownfall/resolver")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := progressOnce(ctx, tracer, eng); err != nil {
				log.Printf("resolver progress: %v", err)
			}
		}
	}
}

func progressOnce(ctx context.Context, tracer trace.Tracer, eng *engine.Engine) error {
	spanCtx, span := tracer.Start(ctx, "resolver.progress",
		trace.WithAttributes(attribute.String("service", "resolver")))
	defer span.End()
	if err := eng.Progress(spanCtx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
