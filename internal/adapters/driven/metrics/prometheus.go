// Package metrics exports integration events as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.Metrics = (*Registry)(nil)

const namespace = "ledgersync"

// Registry holds every collector of the service.
type Registry struct {
	reg *prometheus.Registry

	SyncRunsTotal        *prometheus.CounterVec
	SyncDuration         *prometheus.HistogramVec
	SyncRecordsTotal     *prometheus.CounterVec
	TokenRefreshTotal    *prometheus.CounterVec
	TokenRefreshDuration *prometheus.HistogramVec
	ConversionsTotal     *prometheus.CounterVec
}

// NewRegistry creates the collectors and registers them on a private
// registry along with the Go and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		SyncRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Reconciliation runs by provider and status",
			},
			[]string{"provider", "status"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Reconciliation run duration in seconds",
				Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"provider"},
		),
		SyncRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_records_total",
				Help:      "Catalog records processed by kind and outcome",
			},
			[]string{"provider", "kind", "outcome"},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_total",
				Help:      "Token refresh attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		TokenRefreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "token_refresh_duration_seconds",
				Help:      "Token refresh round trip in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider"},
		),
		ConversionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Order finalizations by provider and status",
			},
			[]string{"provider", "status"},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.SyncRunsTotal,
		r.SyncDuration,
		r.SyncRecordsTotal,
		r.TokenRefreshTotal,
		r.TokenRefreshDuration,
		r.ConversionsTotal,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) ObserveSync(result *domain.SyncResult) {
	if result == nil {
		return
	}
	provider := providerLabel(result.Provider)
	r.SyncRunsTotal.WithLabelValues(provider, syncStatus(result)).Inc()
	if result.Skipped {
		return
	}
	r.SyncDuration.WithLabelValues(provider).Observe(result.Duration.Seconds())
	observeCounts(r.SyncRecordsTotal, provider, "customer", result.Customers)
	observeCounts(r.SyncRecordsTotal, provider, "product", result.Products)
}

func (r *Registry) ObserveTokenRefresh(provider domain.ProviderType, outcome string, elapsed time.Duration) {
	label := providerLabel(provider)
	r.TokenRefreshTotal.WithLabelValues(label, outcome).Inc()
	if elapsed > 0 {
		r.TokenRefreshDuration.WithLabelValues(label).Observe(elapsed.Seconds())
	}
}

func (r *Registry) ObserveConversion(provider domain.ProviderType, status domain.ConversionStatus) {
	r.ConversionsTotal.WithLabelValues(providerLabel(provider), string(status)).Inc()
}

func syncStatus(result *domain.SyncResult) string {
	switch {
	case result.Skipped:
		return "skipped"
	case result.ReAuthRequired:
		return "reauth_required"
	case result.Success:
		return "success"
	default:
		return "failed"
	}
}

func observeCounts(vec *prometheus.CounterVec, provider, kind string, c domain.SyncCounts) {
	add := func(outcome string, n int) {
		if n > 0 {
			vec.WithLabelValues(provider, kind, outcome).Add(float64(n))
		}
	}
	add("created", c.Created)
	add("updated", c.Updated)
	add("errored", c.Errored)
}

func providerLabel(p domain.ProviderType) string {
	if p == "" {
		return "none"
	}
	return string(p)
}
