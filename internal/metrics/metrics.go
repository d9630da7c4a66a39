// Package metrics holds the Prometheus collectors for the Bmail client.
// Every method is safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bmail"

// Metrics is the set of collectors updated by the client.
type Metrics struct {
	sends        *prometheus.CounterVec
	uploads      *prometheus.CounterVec
	fetches      *prometheus.CounterVec
	listFailures *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	receiptWait  prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sends_total",
				Help:      "Number of send attempts by outcome",
			},
			[]string{"outcome"},
		),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "content_uploads_total",
				Help:      "Number of content uploads by pinning service and outcome",
			},
			[]string{"pinner", "outcome"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "content_fetches_total",
				Help:      "Number of gateway fetch attempts by gateway and outcome",
			},
			[]string{"gateway", "outcome"},
		),
		listFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "list_item_failures_total",
				Help:      "Number of listed messages that could not be decrypted, by reason",
			},
			[]string{"reason"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "keystore_fallbacks_total",
				Help:      "Number of key store operations served by the fallback backend",
			},
			[]string{"op"},
		),
		receiptWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ledger_receipt_wait_seconds",
				Help:      "Time spent waiting for ledger transaction receipts",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.sends, m.uploads, m.fetches, m.listFailures, m.fallbacks, m.receiptWait)
	}
	return m
}

// Send records the outcome of a send attempt.
func (m *Metrics) Send(outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome).Inc()
}

// Upload records the outcome of a content upload.
func (m *Metrics) Upload(pinner, outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(pinner, outcome).Inc()
}

// Fetch records one gateway attempt.
func (m *Metrics) Fetch(gateway, outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(gateway, outcome).Inc()
}

// ListFailure records a listed message that carries a decryption error.
func (m *Metrics) ListFailure(reason string) {
	if m == nil {
		return
	}
	m.listFailures.WithLabelValues(reason).Inc()
}

// KeyStoreFallback records a key store operation the primary backend could not serve.
func (m *Metrics) KeyStoreFallback(op string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(op).Inc()
}

// ReceiptWait records how long a transaction took to be mined.
func (m *Metrics) ReceiptWait(d time.Duration) {
	if m == nil {
		return
	}
	m.receiptWait.Observe(d.Seconds())
}

// Handler serves the collectors registered with g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
