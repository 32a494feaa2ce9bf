// Package metrics exposes cart activity as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Config struct {
	Namespace string
	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(ns string) Option {
	return func(c *Config) { c.Namespace = ns }
}

func WithRegistry(r prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = r }
}

// Metrics implements cart.Observer and tracks live sessions.
type Metrics struct {
	mutations      *prometheus.CounterVec
	externalSyncs  prometheus.Counter
	activeSessions prometheus.Gauge
	catalogLookups *prometheus.CounterVec
	publishErrors  prometheus.Counter
}

func New(opts ...Option) *Metrics {
	cfg := Config{Namespace: "koji_cart", Registry: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "mutations_total",
			Help:      "Cart operations by operation and outcome",
		}, []string{"op", "result"}),
		externalSyncs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "external_syncs_total",
			Help:      "Cart states replaced by a write from another context",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "active_sessions",
			Help:      "Carts currently held in memory",
		}),
		catalogLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "catalog_lookups_total",
			Help:      "Artwork lookups by outcome",
		}, []string{"result"}),
		publishErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "change_publish_errors_total",
			Help:      "Slot changes that could not be published to other contexts",
		}),
	}
}

func (m *Metrics) Mutation(op, result string) {
	m.mutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ExternalSync() {
	m.externalSyncs.Inc()
}

func (m *Metrics) SessionOpened() { m.activeSessions.Inc() }
func (m *Metrics) SessionClosed() { m.activeSessions.Dec() }

func (m *Metrics) CatalogLookup(result string) {
	m.catalogLookups.WithLabelValues(result).Inc()
}

// PublishError counts a failed change publish; usable as slot.WithPublisher's onError.
func (m *Metrics) PublishError(error) {
	m.publishErrors.Inc()
}
