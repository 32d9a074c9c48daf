package graph

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"bimoi/backend/internal/metrics"
	apperrors "bimoi/backend/pkg/errors"
	"bimoi/backend/pkg/logger"
)

// GuardConfig bounds store calls
type GuardConfig struct {
	Name        string
	Timeout     time.Duration // per operation
	MaxFailures uint32        // consecutive infrastructure failures before opening
	OpenTimeout time.Duration // how long the breaker stays open
}

// DefaultGuardConfig returns the defaults used when config leaves them unset
func DefaultGuardConfig(name string) GuardConfig {
	return GuardConfig{
		Name:        name,
		Timeout:     5 * time.Second,
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	}
}

// Guard runs store operations under a timeout and a circuit breaker and
// turns infrastructure failures into retryable StorageUnavailable errors.
// Domain outcomes (duplicate, not found, validation) pass through untouched
// and never count against the breaker.
type Guard struct {
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewGuard creates a guard
func NewGuard(cfg GuardConfig, m *metrics.Collector) *Guard {
	def := DefaultGuardConfig(cfg.Name)
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	g := &Guard{
		timeout: cfg.Timeout,
		metrics: m,
		logger:  logger.Get(),
	}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.logger.Warn("Store circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			g.metrics.SetBreakerState(name, float64(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isInfrastructureError(err)
		},
	})
	return g
}

// Do runs fn with a bounded context
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	v, err := g.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	err = g.classify(op, err)

	status := "ok"
	if err != nil {
		status = "error"
		if apperrors.IsErrorType(err, apperrors.ErrorTypeStorage) {
			status = "unavailable"
		}
	}
	g.metrics.ObserveStore(op, status, time.Since(start))
	return v, err
}

// State reports the breaker state
func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}

func (g *Guard) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.NewStorageUnavailable(op, err)
	}
	if _, ok := apperrors.TypeOf(err); ok {
		return err
	}
	if isInfrastructureError(err) {
		g.logger.Warn("Store operation failed",
			zap.String("operation", op),
			zap.Error(err))
		return apperrors.NewStorageUnavailable(op, err)
	}
	return fmt.Errorf("failed to %s: %w", strings.ReplaceAll(op, "_", " "), err)
}

// isInfrastructureError reports failures of the store itself rather than
// of the request: timeouts, lost connections, transient cluster errors.
func isInfrastructureError(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := apperrors.TypeOf(err); ok {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if stderrors.Is(err, context.Canceled) {
		// the caller went away; not the store's fault
		return false
	}
	if neo4j.IsConnectivityError(err) {
		return true
	}
	var neoErr *neo4j.Neo4jError
	if stderrors.As(err, &neoErr) {
		return strings.HasPrefix(neoErr.Code, "Neo.TransientError")
	}
	return false
}
