// Package metrics exposes Prometheus instrumentation for the ledger and payment flow.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace   = "creditledger"
	maxLabelLen = 64
)

// sanitizeLabel bounds label cardinality: empty values become "unknown",
// spaces become underscores and long values are truncated.
func sanitizeLabel(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// Metrics holds the service collectors.
type Metrics struct {
	registry *prometheus.Registry

	intentsCreated   *prometheus.CounterVec
	verifications    *prometheus.CounterVec
	verifyDuration   *prometheus.HistogramVec
	creditsPurchased *prometheus.CounterVec
	creditsDebited   *prometheus.CounterVec
	overageCredits   prometheus.Counter
	debitsRejected   *prometheus.CounterVec
	rollovers        *prometheus.CounterVec
	priceSyncs       *prometheus.CounterVec
	spotPrice        *prometheus.GaugeVec
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the process-wide metrics instance.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New builds a Metrics instance on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		intentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "intents_created_total",
			Help:      "Payment intents issued by package and method",
		}, []string{"package", "method"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "verifications_total",
			Help:      "Payment verifications by method and outcome",
		}, []string{"method", "outcome"}),
		verifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "verify_duration_seconds",
			Help:      "Latency of payment verification including the confirmation wait",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"outcome"}),
		creditsPurchased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "credits_purchased_total",
			Help:      "Credits granted by verified purchases",
		}, []string{"package"}),
		creditsDebited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "credits_debited_total",
			Help:      "Credits consumed by metered features",
		}, []string{"feature"}),
		overageCredits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "overage_credits_total",
			Help:      "Credits billed to subscription overage",
		}),
		debitsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "debits_rejected_total",
			Help:      "Debits refused for insufficient credits",
		}, []string{"feature"}),
		rollovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "transitions_total",
			Help:      "Time-driven subscription transitions",
		}, []string{"kind"}),
		priceSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "syncs_total",
			Help:      "Price feed syncs by result",
		}, []string{"result"}),
		spotPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "spot_usd",
			Help:      "Last synced USD spot price",
		}, []string{"symbol"}),
	}

	m.registry.MustRegister(
		m.intentsCreated,
		m.verifications,
		m.verifyDuration,
		m.creditsPurchased,
		m.creditsDebited,
		m.overageCredits,
		m.debitsRejected,
		m.rollovers,
		m.priceSyncs,
		m.spotPrice,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordIntentCreated counts an issued payment intent.
func (m *Metrics) RecordIntentCreated(packageType, method string) {
	m.intentsCreated.WithLabelValues(sanitizeLabel(packageType), sanitizeLabel(method)).Inc()
}

// RecordVerification counts a verification outcome and its latency.
// outcome should be a small enum such as credited, already_processed or mismatch.
func (m *Metrics) RecordVerification(method, outcome string, elapsed time.Duration) {
	outcome = sanitizeLabel(outcome)
	m.verifications.WithLabelValues(sanitizeLabel(method), outcome).Inc()
	m.verifyDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordPurchase adds credits granted by a purchase.
func (m *Metrics) RecordPurchase(packageType string, credits int64) {
	if credits <= 0 {
		return
	}
	m.creditsPurchased.WithLabelValues(sanitizeLabel(packageType)).Add(float64(credits))
}

// RecordDebit adds consumed and overage credits for a feature.
func (m *Metrics) RecordDebit(feature string, charged, overage int64) {
	if charged > 0 {
		m.creditsDebited.WithLabelValues(sanitizeLabel(strings.ToUpper(feature))).Add(float64(charged))
	}
	if overage > 0 {
		m.overageCredits.Add(float64(overage))
	}
}

// RecordDebitRejected counts a debit refused for insufficient credits.
func (m *Metrics) RecordDebitRejected(feature string) {
	m.debitsRejected.WithLabelValues(sanitizeLabel(strings.ToUpper(feature))).Inc()
}

// RecordRollover counts expired and reset subscriptions from one rollover pass.
func (m *Metrics) RecordRollover(expired, reset int) {
	if expired > 0 {
		m.rollovers.WithLabelValues("expired").Add(float64(expired))
	}
	if reset > 0 {
		m.rollovers.WithLabelValues("reset").Add(float64(reset))
	}
}

// RecordPriceSync counts a price feed sync.
func (m *Metrics) RecordPriceSync(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.priceSyncs.WithLabelValues(result).Inc()
}

// SetSpotPrice records the latest synced price of symbol.
func (m *Metrics) SetSpotPrice(symbol string, usd float64) {
	m.spotPrice.WithLabelValues(sanitizeLabel(symbol)).Set(usd)
}
