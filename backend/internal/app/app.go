// Package app builds the core from configuration. Both binaries share it so
// the HTTP server and the Discord bot run against the same wiring.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"bimoi/backend/internal/constants"
	"bimoi/backend/internal/core"
	"bimoi/backend/internal/graph"
	"bimoi/backend/internal/memory"
	"bimoi/backend/internal/metrics"
	"bimoi/backend/pkg/config"
	"bimoi/backend/pkg/logger"
)

// App is a configured core plus the resources behind it
type App struct {
	Core    *core.Core
	Metrics *metrics.Collector
	// Health pings the store
	Health func(ctx context.Context) error

	cfg    *config.Config
	closer func() error
	logger *zap.Logger
}

// New opens the configured store and builds the core on top of it
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.Get()
	m := metrics.NewCollector(constants.MetricsNamespace)

	a := &App{
		Metrics: m,
		cfg:     cfg,
		closer:  func() error { return nil },
		logger:  log,
	}

	var store core.Store
	switch cfg.StoreBackend {
	case config.StoreMemory:
		log.Warn("Using in-memory store; data is lost on restart")
		store = memory.NewStore()
		a.Health = func(context.Context) error { return nil }

	default:
		driver, err := graph.NewDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		guard := graph.NewGuardFromSettings(cfg.StoreTimeout, cfg.BreakerMaxFailures, cfg.BreakerOpenTimeout, m)
		repo := graph.NewRepository(driver, graph.WithDatabase(cfg.Neo4jDatabase), graph.WithGuard(guard))
		if err := repo.EnsureSchema(ctx, false); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
		store = repo
		a.Health = repo.Ping
		a.closer = repo.Close
	}

	a.Core = core.New(store, core.Options{
		Channels:    cfg.IdentityChannels,
		PhoneRegion: cfg.PhoneDefaultRegion,
		PendingTTL:  cfg.FlowPendingTTL,
		Epoch:       cfg.FlowEpoch,
		Instance:    instanceName(cfg),
		Metrics:     m,
	})

	log.Info("Core initialized",
		zap.String("store", cfg.StoreBackend),
		zap.String("instance", a.Core.Flows().Instance()),
		zap.String("epoch", a.Core.Flows().Epoch()),
		zap.Strings("channels", cfg.IdentityChannels))
	return a, nil
}

// RunReaper clears pending cards left by earlier runs, then keeps expiring
// stale ones until ctx is done.
func (a *App) RunReaper(ctx context.Context) error {
	return a.Core.Flows().Run(ctx, a.cfg.FlowReapInterval)
}

// Close releases the store
func (a *App) Close() error {
	return a.closer()
}

// instanceName is FLOW_INSTANCE, or the binary name so the server and the bot
// never reap each other's pending cards. Replicas of one binary must set it.
func instanceName(cfg *config.Config) string {
	if cfg.FlowInstance != "" {
		return cfg.FlowInstance
	}
	return filepath.Base(os.Args[0])
}
