// Package metrics exposes this module's Prometheus metrics: per-chain
// queue depth, batch flush latency, authorization outcomes by error kind,
// and key pool exhaustion. It replaces the teacher's hand-rolled registry
// and text-exposition exporter (Registry, PrometheusExporter, Meter, EWMA,
// runtime/cpu samplers) with github.com/prometheus/client_golang, since
// that dependency already does everything the teacher's bespoke exporter
// did and this module has no reason to carry a second, parallel metrics
// stack that nothing in the spec calls for. See DESIGN.md for the full
// justification of this replacement.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter/gauge/histogram this module exports.
// Exactly one Metrics is expected per process; it is passed explicitly to
// the components that record against it rather than reached through a
// package-level singleton, matching §5's "no implicit global state" rule.
type Metrics struct {
	QueueDepth           *prometheus.GaugeVec
	BatchFlushLatency    *prometheus.HistogramVec
	BatchesFlushedTotal  *prometheus.CounterVec
	AuthorizationOutcome *prometheus.CounterVec
	KeyPoolExhaustion    *prometheus.CounterVec
	KeyPoolUsedKeys      *prometheus.GaugeVec
	AnonymitySetSize     *prometheus.GaugeVec
	NullifierRejections  *prometheus.CounterVec
}

// New registers every metric under namespace (e.g. "siaac") against reg.
// Passing a fresh prometheus.NewRegistry() keeps tests hermetic; passing
// prometheus.DefaultRegisterer wires this module into the process-wide
// default registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "queue_depth",
			Help:      "Number of authorized intents currently waiting in a chain's FIFO queue.",
		}, []string{"chain"}),
		BatchFlushLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "batch_flush_latency_seconds",
			Help:      "Time from a batch's first intent being enqueued to the batch being flushed.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain"}),
		BatchesFlushedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "batches_flushed_total",
			Help:      "Total number of batches flushed, labeled by trigger (size or time).",
		}, []string{"chain", "trigger"}),
		AuthorizationOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "authorization_outcomes_total",
			Help:      "Authorization attempts, labeled by outcome (ok or an error kind).",
		}, []string{"outcome"}),
		KeyPoolExhaustion: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keypool",
			Name:      "exhaustion_total",
			Help:      "Number of times a key pool was asked to sign with no unused keys remaining.",
		}, []string{"pool"}),
		KeyPoolUsedKeys: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "keypool",
			Name:      "used_keys",
			Help:      "Number of keys burned so far in a given pool.",
		}, []string{"pool"}),
		AnonymitySetSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "anonpool",
			Name:      "anonymity_set_size",
			Help:      "Current |tree.leaves| - |usedNullifierSet| for a pool.",
		}, []string{"pool"}),
		NullifierRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "anonpool",
			Name:      "nullifier_rejections_total",
			Help:      "Withdrawal attempts rejected, labeled by reason (already_used, stale_root, bad_proof).",
		}, []string{"reason"}),
	}
}

// Handler returns an http.Handler serving the given registry's metrics in
// Prometheus text exposition format, for wiring into an operator's HTTP
// mux at --metrics.addr.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
