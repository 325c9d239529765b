package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// VATMetrics holds the engine's Prometheus collectors. It satisfies
// vat.Recorder.
type VATMetrics struct {
	// Calculations
	Calculations       *prometheus.CounterVec
	Replays            prometheus.Counter
	CalculationLatency prometheus.Histogram

	// Rates
	RateCacheLookups *prometheus.CounterVec
	RateGaps         *prometheus.CounterVec

	// Audit
	AuditFailures prometheus.Counter
	AuditDrops    prometheus.Counter

	// Refunds
	RefundAdjustments *prometheus.CounterVec

	// Transport
	EventsConsumed *prometheus.CounterVec
}

// NewVATMetrics registers all collectors on reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewVATMetrics(namespace string, reg prometheus.Registerer) *VATMetrics {
	if namespace == "" {
		namespace = "vatcore"
	}
	f := promauto.With(reg)

	return &VATMetrics{
		Calculations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vat",
				Name:      "calculations_total",
				Help:      "VAT transactions created, by applied rule",
			},
			[]string{"rule"},
		),
		Replays: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vat",
			Name:      "idempotent_replays_total",
			Help:      "Calculation requests answered from an existing transaction",
		}),
		CalculationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vat",
			Name:      "calculation_duration_seconds",
			Help:      "End-to-end calculation latency",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		RateCacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vat",
				Name:      "rate_cache_lookups_total",
				Help:      "Rate cache lookups by result",
			},
			[]string{"result"}, // hit, miss
		),
		RateGaps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vat",
				Name:      "rate_gaps_total",
				Help:      "Lookups that found no rate, by country",
			},
			[]string{"country"},
		),
		AuditFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Audit entries that failed to persist",
		}),
		AuditDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Audit entries dropped because the queue was full or closed",
		}),
		RefundAdjustments: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vat",
				Name:      "refund_adjustments_total",
				Help:      "Refund adjustments recorded, by kind",
			},
			[]string{"kind"},
		),
		EventsConsumed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "consumed_total",
				Help:      "Messages handled, by subject and outcome",
			},
			[]string{"subject", "outcome"},
		),
	}
}

func (m *VATMetrics) CalculationRecorded(rule string, replayed bool) {
	if replayed {
		m.Replays.Inc()
		return
	}
	m.Calculations.WithLabelValues(rule).Inc()
}

func (m *VATMetrics) CalculationDuration(d time.Duration) {
	m.CalculationLatency.Observe(d.Seconds())
}

func (m *VATMetrics) RateCacheLookup(hit bool) {
	if hit {
		m.RateCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.RateCacheLookups.WithLabelValues("miss").Inc()
}

func (m *VATMetrics) RateGap(country string) {
	m.RateGaps.WithLabelValues(country).Inc()
}

func (m *VATMetrics) AuditFailed()  { m.AuditFailures.Inc() }
func (m *VATMetrics) AuditDropped() { m.AuditDrops.Inc() }

func (m *VATMetrics) RefundAdjusted(kind string) {
	m.RefundAdjustments.WithLabelValues(kind).Inc()
}

// EventConsumed counts one handled message.
func (m *VATMetrics) EventConsumed(subject, outcome string) {
	m.EventsConsumed.WithLabelValues(subject, outcome).Inc()
}
