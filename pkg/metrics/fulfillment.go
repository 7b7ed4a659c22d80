package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics records stock decrement outcomes per shipment transition.
type FulfillmentMetrics struct {
	duration   *prometheus.HistogramVec
	decrements *prometheus.CounterVec
	shortfalls *prometheus.CounterVec
	releases   *prometheus.CounterVec
}

// NewFulfillmentMetrics registers the fulfillment metrics on the provided registerer.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stock_decrement_duration_seconds",
		Help:    "Duration of shipment stock decrements in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"location"})
	decrements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_decrement_total",
		Help: "Successful shipment stock decrements.",
	}, []string{"location"})
	shortfalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_shortfall_total",
		Help: "Decrements rejected because stock was insufficient.",
	}, []string{"location"})
	releases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_release_total",
		Help: "Held units returned to the free pool.",
	}, []string{"location"})
	reg.MustRegister(duration, decrements, shortfalls, releases)
	return &FulfillmentMetrics{
		duration:   duration,
		decrements: decrements,
		shortfalls: shortfalls,
		releases:   releases,
	}
}

// ObserveDecrementDuration records how long a decrement transaction took.
func (m *FulfillmentMetrics) ObserveDecrementDuration(location string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(location)).Observe(duration.Seconds())
}

// IncDecrement increments the successful decrement counter.
func (m *FulfillmentMetrics) IncDecrement(location string) {
	if m == nil || m.decrements == nil {
		return
	}
	m.decrements.WithLabelValues(normalizeLabel(location)).Inc()
}

// IncShortfall increments the insufficient stock counter.
func (m *FulfillmentMetrics) IncShortfall(location string) {
	if m == nil || m.shortfalls == nil {
		return
	}
	m.shortfalls.WithLabelValues(normalizeLabel(location)).Inc()
}

// IncRelease increments the release counter.
func (m *FulfillmentMetrics) IncRelease(location string) {
	if m == nil || m.releases == nil {
		return
	}
	m.releases.WithLabelValues(normalizeLabel(location)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
