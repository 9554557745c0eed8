// Package metrics exposes Prometheus collectors for the ledger.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/warp/pos-ledger/ledger"
)

// Config holds metrics configuration.
type Config struct {
	Namespace string
}

func DefaultConfig() Config {
	return Config{Namespace: "pos_ledger"}
}

// Recorder holds all ledger metrics on its own registry. It is a
// ledger.Listener: every Open and Apply outcome is counted.
type Recorder struct {
	registry *prometheus.Registry

	Entries        *prometheus.CounterVec
	ApplyDuration  *prometheus.HistogramVec
	RegisterCloses *prometheus.CounterVec
	Variance       prometheus.Histogram
	EventsDropped  *prometheus.CounterVec
	LowStockItems  prometheus.Gauge
	VerifyFailures *prometheus.CounterVec
}

func New(cfg Config) *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Recorder{registry: registry}

	r.Entries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by account type, kind and result",
		},
		[]string{"op", "account_type", "kind", "result"},
	)

	r.ApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time from lock request to commit or rejection",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"op", "account_type"},
	)

	r.RegisterCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "register_closes_total",
			Help:      "Closed register sessions by variance class",
		},
		[]string{"variance_class"},
	)

	r.Variance = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "register_variance",
			Help:      "Declared minus expected cash at register close",
			Buckets:   []float64{-100, -20, -5, -1, -0.01, 0, 0.01, 1, 5, 20, 100},
		},
	)

	r.EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "events_dropped_total",
			Help:      "Post-commit events that were not delivered",
		},
		[]string{"reason"},
	)

	r.LowStockItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "low_stock_items",
			Help:      "Stock items at or below their minimum at the last check",
		},
	)

	r.VerifyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "verify_discrepancies_total",
			Help:      "Discrepancies found when replaying account logs",
		},
		[]string{"account_type", "discrepancy"},
	)

	registry.MustRegister(
		r.Entries,
		r.ApplyDuration,
		r.RegisterCloses,
		r.Variance,
		r.EventsDropped,
		r.LowStockItems,
		r.VerifyFailures,
	)
	return r
}

var _ ledger.Listener = (*Recorder)(nil)

// Observe counts one ledger outcome.
func (r *Recorder) Observe(_ context.Context, o ledger.Outcome) {
	r.Entries.WithLabelValues(o.Op, string(o.AccountType), string(o.Kind), ledger.Reason(o.Err)).Inc()
	r.ApplyDuration.WithLabelValues(o.Op, string(o.AccountType)).Observe(o.Duration.Seconds())
}

// ObserveClose records a register close.
func (r *Recorder) ObserveClose(class string, variance decimal.Decimal) {
	r.RegisterCloses.WithLabelValues(class).Inc()
	r.Variance.Observe(variance.InexactFloat64())
}

// EventDropped counts an undelivered post-commit event.
func (r *Recorder) EventDropped(reason string) {
	r.EventsDropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) SetLowStock(n int) {
	r.LowStockItems.Set(float64(n))
}

func (r *Recorder) ObserveDiscrepancy(accountType ledger.AccountType, kind ledger.DiscrepancyKind) {
	r.VerifyFailures.WithLabelValues(string(accountType), string(kind)).Inc()
}

// Registry returns the Prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler returns the HTTP handler for the metrics endpoint.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
