/*
Package metrics defines the Prometheus instruments of the node.

All methods are safe to call on a nil *Metrics so components can be used without
observability (tests, embedding).
*/
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "powledger"

// peer fetch failure reasons
const (
	ReasonUnreachable  = "unreachable"
	ReasonMalformed    = "malformed"
	ReasonInvalidChain = "invalid_chain"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	blocksMined   prometheus.Counter
	staleSeals    prometheus.Counter
	proofDuration prometheus.Histogram
	proofAttempts prometheus.Histogram
	txSubmitted   prometheus.Counter
	resolveRuns   *prometheus.CounterVec
	peerFailures  *prometheus.CounterVec
	chainLength   prometheus.Gauge
	peerCount     prometheus.Gauge
	httpCalls     *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates the instruments and registers them with reg.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		gatherer: reg,
		blocksMined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chain", Name: "blocks_mined_total",
			Help: "Number of blocks sealed by this node.",
		}),
		staleSeals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chain", Name: "stale_seals_total",
			Help: "Number of proofs discarded because the chain tip changed during the search.",
		}),
		proofDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pow", Name: "search_duration_seconds",
			Help:    "How long the proof-of-work search took.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		proofAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pow", Name: "search_attempts",
			Help:    "Candidates tried before a valid proof was found.",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10),
		}),
		txSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chain", Name: "transactions_submitted_total",
			Help: "Number of transactions accepted into the pending buffer.",
		}),
		resolveRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consensus", Name: "resolve_total",
			Help: "Consensus resolutions by outcome.",
		}, []string{"outcome"}),
		peerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consensus", Name: "peer_failures_total",
			Help: "Peers skipped during resolution by reason.",
		}, []string{"reason"}),
		chainLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "chain", Name: "length",
			Help: "Number of blocks in the local chain.",
		}),
		peerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "p2p", Name: "peers",
			Help: "Number of registered peers.",
		}),
		httpCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "calls_total",
			Help: "How many times the endpoint has been called.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "duration_seconds",
			Help:    "How long it took to serve the request.",
			Buckets: []float64{100e-6, 200e-6, 400e-6, 800e-6, 0.0016, 0.01, 0.05, 0.1, 1, 10},
		}, []string{"route"}),
	}

	for _, c := range []prometheus.Collector{
		m.blocksMined, m.staleSeals, m.proofDuration, m.proofAttempts, m.txSubmitted,
		m.resolveRuns, m.peerFailures, m.chainLength, m.peerCount, m.httpCalls, m.httpDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{MaxRequestsInFlight: 1})
}

func (m *Metrics) BlockMined(searchDuration time.Duration, attempts uint64) {
	if m == nil {
		return
	}
	m.blocksMined.Inc()
	m.proofDuration.Observe(searchDuration.Seconds())
	m.proofAttempts.Observe(float64(attempts))
}

func (m *Metrics) StaleSeal() {
	if m == nil {
		return
	}
	m.staleSeals.Inc()
}

func (m *Metrics) TransactionSubmitted() {
	if m == nil {
		return
	}
	m.txSubmitted.Inc()
}

func (m *Metrics) Resolved(replaced bool) {
	if m == nil {
		return
	}
	outcome := "kept"
	if replaced {
		outcome = "replaced"
	}
	m.resolveRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PeerFailure(reason string) {
	if m == nil {
		return
	}
	m.peerFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetChainLength(n int) {
	if m == nil {
		return
	}
	m.chainLength.Set(float64(n))
}

func (m *Metrics) SetPeerCount(n int) {
	if m == nil {
		return
	}
	m.peerCount.Set(float64(n))
}

func (m *Metrics) HTTPCall(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	st := "ok"
	if status >= http.StatusBadRequest {
		st = "err"
	}
	m.httpCalls.WithLabelValues(route, st).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
