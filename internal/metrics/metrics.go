// Package metrics exposes the crank's prometheus counters/gauges. Scraping
// and HTTP exposition are out of scope (spec §1); callers register Metrics
// against their own prometheus.Registerer, matching the teacher's pattern of
// handing a registerer to a constructor (see plugin/evm/gossip_eth_tx_pool.go).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge the orchestrator and supervisor update.
// All fields are race-free: prometheus collectors serialize their own
// increments internally, satisfying spec §5's "race-free increments" rule.
type Metrics struct {
	Polls             prometheus.Counter
	Successes         prometheus.Counter
	Failures          prometheus.Counter
	ConsecutiveErrors prometheus.Gauge
	RollbackQueueSize prometheus.Gauge
	SettlementsByStatus *prometheus.GaugeVec
	RelayerLatency    prometheus.Histogram
}

// New creates and registers Metrics against reg. Passing nil is valid and
// yields unregistered (but still usable) collectors, for tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crank",
			Name:      "polls_total",
			Help:      "Number of orchestrator poll iterations run.",
		}),
		Successes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crank",
			Name:      "settlements_succeeded_total",
			Help:      "Number of matched pairs whose poll-iteration processing returned no error, including pairs skipped for cooldown, dedup or lock contention.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crank",
			Name:      "settlements_failed_total",
			Help:      "Number of poll failures: a ledger listing error or a matched pair whose processing returned an error.",
		}),
		ConsecutiveErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crank",
			Name:      "consecutive_errors",
			Help:      "Current consecutive-error count tracked by the circuit-breaker supervisor.",
		}),
		RollbackQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crank",
			Name:      "rollback_queue_size",
			Help:      "Number of rollback operations ready to process after the latest drain; operations waiting out a retry backoff are not counted.",
		}),
		SettlementsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "crank",
			Name:      "settlements_by_status",
			Help:      "Count of settlement rows currently in each status.",
		}, []string{"status"}),
		RelayerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crank",
			Name:      "relayer_transfer_latency_seconds",
			Help:      "Latency of private-transfer relayer calls.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Polls, m.Successes, m.Failures, m.ConsecutiveErrors,
			m.RollbackQueueSize, m.SettlementsByStatus, m.RelayerLatency)
	}
	return m
}
