package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"bimoi/backend/internal/metrics"
	"bimoi/backend/pkg/logger"
)

// Repository handles all Neo4j database operations. Every public method is
// one managed transaction run through the guard.
type Repository struct {
	driver   neo4j.DriverWithContext
	database string
	guard    *Guard
	logger   *zap.Logger
}

// Option configures a Repository
type Option func(*Repository)

// WithDatabase selects a database other than the server default
func WithDatabase(name string) Option {
	return func(r *Repository) { r.database = name }
}

// WithGuard replaces the default guard
func WithGuard(g *Guard) Option {
	return func(r *Repository) { r.guard = g }
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext, opts ...Option) *Repository {
	r := &Repository{
		driver: driver,
		logger: logger.Get(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.guard == nil {
		r.guard = NewGuard(DefaultGuardConfig("neo4j"), nil)
	}
	return r
}

// NewDriver opens a driver and verifies connectivity
func NewDriver(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return driver, nil
}

// NewGuardFromSettings is a convenience for wiring from config values
func NewGuardFromSettings(timeout time.Duration, maxFailures uint32, openTimeout time.Duration, m *metrics.Collector) *Guard {
	return NewGuard(GuardConfig{
		Name:        "neo4j",
		Timeout:     timeout,
		MaxFailures: maxFailures,
		OpenTimeout: openTimeout,
	}, m)
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// Ping checks the server is reachable; used by health checks
func (r *Repository) Ping(ctx context.Context) error {
	_, err := r.guard.Do(ctx, "ping", func(ctx context.Context) (interface{}, error) {
		return nil, r.driver.VerifyConnectivity(ctx)
	})
	return err
}

func (r *Repository) write(ctx context.Context, op string, work neo4j.ManagedTransactionWork) (interface{}, error) {
	return r.guard.Do(ctx, op, func(ctx context.Context) (interface{}, error) {
		session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: r.database})
		defer session.Close(ctx)
		return session.ExecuteWrite(ctx, work)
	})
}

func (r *Repository) read(ctx context.Context, op string, work neo4j.ManagedTransactionWork) (interface{}, error) {
	return r.guard.Do(ctx, op, func(ctx context.Context) (interface{}, error) {
		session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: r.database})
		defer session.Close(ctx)
		return session.ExecuteRead(ctx, work)
	})
}

// now formats a timestamp the way queries pass it to datetime()
func now(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
