// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Cycle metrics
	PollsTotal      *prometheus.CounterVec
	RefreshesTotal  *prometheus.CounterVec
	FetchFailures   *prometheus.CounterVec
	ListingsFetched prometheus.Counter
	Classifications *prometheus.CounterVec
	CycleDuration   *prometheus.HistogramVec

	// Alert metrics
	AlertsSent     prometheus.Counter
	NotifyFailures prometheus.Counter
	AlertedSetSize prometheus.Gauge

	// Floor metrics
	FloorChanges *prometheus.CounterVec
	FloorPrice   *prometheus.GaugeVec
	NativeUSD    prometheus.Gauge

	// Storage metrics
	StoreFailures *prometheus.CounterVec

	// Health metrics
	LastSuccessfulPoll    prometheus.Gauge
	LastSuccessfulRefresh prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "floorwatch"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PollsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "polls_total",
			Help:      "Total number of poll cycles by status",
		}, []string{"status"}),
		RefreshesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "refreshes_total",
			Help:      "Total number of floor refresh cycles by status",
		}, []string{"status"}),
		FetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "failures_total",
			Help:      "Total number of failed fetches by source",
		}, []string{"source"}),
		ListingsFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "listings_total",
			Help:      "Total number of listings observed by poll cycles",
		}),
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "classifications_total",
			Help:      "Total number of classified listings by decision",
		}, []string{"decision"}),
		CycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cycle"}),

		AlertsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "sent_total",
			Help:      "Total number of delivered bargain alerts",
		}),
		NotifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "notify_failures_total",
			Help:      "Total number of failed alert deliveries",
		}),
		AlertedSetSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "alerted_listings",
			Help:      "Number of listings already alerted on",
		}),

		FloorChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "floor",
			Name:      "changes_total",
			Help:      "Total number of floor changes by rarity and reason",
		}, []string{"rarity", "reason"}),
		FloorPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "floor",
			Name:      "price",
			Help:      "Current floor price per rarity in native currency",
		}, []string{"rarity"}),
		NativeUSD: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rate",
			Name:      "native_usd",
			Help:      "Last native currency to USD rate",
		}),

		StoreFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "failures_total",
			Help:      "Total number of failed durable writes by table",
		}, []string{"table"}),

		LastSuccessfulPoll: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_poll_timestamp",
			Help:      "Unix timestamp of last successful poll",
		}),
		LastSuccessfulRefresh: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of last successful floor refresh",
		}),
	}
}

// Handler returns the HTTP handler for Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled. A listener failure is logged and
// Serve returns nil: monitoring keeps running without the endpoint.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", addr).Msg("metrics endpoint started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("listen", addr).Msg("metrics endpoint unavailable")
		}
		return nil
	}
}

// RecordPoll records a finished poll cycle.
func (m *Metrics) RecordPoll(status string, listings int, d time.Duration) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(status).Inc()
	m.CycleDuration.WithLabelValues("poll").Observe(d.Seconds())
	m.ListingsFetched.Add(float64(listings))
	if status == "ok" {
		m.LastSuccessfulPoll.SetToCurrentTime()
	}
}

// RecordRefresh records a finished floor refresh cycle.
func (m *Metrics) RecordRefresh(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshesTotal.WithLabelValues(status).Inc()
	m.CycleDuration.WithLabelValues("refresh").Observe(d.Seconds())
	if status == "ok" {
		m.LastSuccessfulRefresh.SetToCurrentTime()
	}
}

// RecordFetchFailure counts a failed fetch from source.
func (m *Metrics) RecordFetchFailure(source string) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(source).Inc()
}

// RecordDecision counts one classification outcome.
func (m *Metrics) RecordDecision(decision string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(decision).Inc()
}

// RecordAlert records a delivery attempt.
func (m *Metrics) RecordAlert(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.NotifyFailures.Inc()
		return
	}
	m.AlertsSent.Inc()
}

// RecordFloor records a floor change for rarity.
func (m *Metrics) RecordFloor(rarity, reason string, price decimal.Decimal) {
	if m == nil {
		return
	}
	m.FloorChanges.WithLabelValues(rarity, reason).Inc()
	m.FloorPrice.WithLabelValues(rarity).Set(price.InexactFloat64())
}

// SetFloor sets the floor gauge without counting a change.
func (m *Metrics) SetFloor(rarity string, price decimal.Decimal) {
	if m == nil {
		return
	}
	m.FloorPrice.WithLabelValues(rarity).Set(price.InexactFloat64())
}

// SetRate records the last native to USD rate.
func (m *Metrics) SetRate(rate decimal.Decimal) {
	if m == nil {
		return
	}
	m.NativeUSD.Set(rate.InexactFloat64())
}

// SetAlertedSetSize records the alerted set size.
func (m *Metrics) SetAlertedSetSize(n int) {
	if m == nil {
		return
	}
	m.AlertedSetSize.Set(float64(n))
}

// RecordStoreFailure counts a failed durable write.
func (m *Metrics) RecordStoreFailure(table string) {
	if m == nil {
		return
	}
	m.StoreFailures.WithLabelValues(table).Inc()
}
