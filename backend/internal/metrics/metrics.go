package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus metrics for the service. A nil *Collector
// is valid and records nothing, so components can take one optionally.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Business metrics
	IdentitiesResolved *prometheus.CounterVec
	ContactsCreated    *prometheus.CounterVec
	DuplicatesRejected *prometheus.CounterVec
	FlowTransitions    *prometheus.CounterVec

	// Store metrics
	StoreOperations *prometheus.CounterVec
	StoreDuration   *prometheus.HistogramVec
	BreakerState    *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		IdentitiesResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identities_resolved_total",
				Help:      "Identity resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ContactsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "contacts_created_total",
				Help:      "Contacts created, by whether an existing account node was reused",
			},
			[]string{"node"},
		),
		DuplicatesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicates_rejected_total",
				Help:      "Contact submissions rejected as duplicates",
			},
			[]string{"matched_on"},
		),
		FlowTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_transitions_total",
				Help:      "Pending flow transitions",
			},
			[]string{"transition"},
		),
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Store operations by status",
			},
			[]string{"operation", "status"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Store operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.IdentitiesResolved,
		c.ContactsCreated,
		c.DuplicatesRejected,
		c.FlowTransitions,
		c.StoreOperations,
		c.StoreDuration,
		c.BreakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the registry metrics are registered on
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one HTTP request
func (c *Collector) ObserveHTTP(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// IdentityResolved counts a resolution
func (c *Collector) IdentityResolved(created bool) {
	if c == nil {
		return
	}
	outcome := "existing"
	if created {
		outcome = "created"
	}
	c.IdentitiesResolved.WithLabelValues(outcome).Inc()
}

// ContactCreated counts a created contact
func (c *Collector) ContactCreated(reusedNode bool) {
	if c == nil {
		return
	}
	node := "new"
	if reusedNode {
		node = "reused"
	}
	c.ContactsCreated.WithLabelValues(node).Inc()
}

// DuplicateRejected counts a duplicate rejection
func (c *Collector) DuplicateRejected(matchedOn string) {
	if c == nil {
		return
	}
	c.DuplicatesRejected.WithLabelValues(matchedOn).Inc()
}

// FlowTransition counts a pending flow transition such as "card_received"
func (c *Collector) FlowTransition(transition string) {
	if c == nil {
		return
	}
	c.FlowTransitions.WithLabelValues(transition).Inc()
}

// PendingReaped counts pending cards removed by the reaper
func (c *Collector) PendingReaped(n int) {
	if c == nil {
		return
	}
	c.FlowTransitions.WithLabelValues("expired").Add(float64(n))
}

// ObserveStore records one store operation
func (c *Collector) ObserveStore(operation, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.StoreOperations.WithLabelValues(operation, status).Inc()
	c.StoreDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// SetBreakerState records the breaker state
func (c *Collector) SetBreakerState(name string, state float64) {
	if c == nil {
		return
	}
	c.BreakerState.WithLabelValues(name).Set(state)
}
