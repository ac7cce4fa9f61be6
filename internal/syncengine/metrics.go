package syncengine

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kinexsync",
		Subsystem: "engine",
		Name:      "attempts_total",
		Help:      "Queue item sync attempts by entity, operation and outcome.",
	}, []string{"entity", "operation", "outcome"})

	retryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kinexsync",
		Subsystem: "engine",
		Name:      "retries_scheduled_total",
		Help:      "Failed attempts rescheduled with backoff, labeled by error kind.",
	}, []string{"kind"})

	passCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kinexsync",
		Subsystem: "engine",
		Name:      "passes_total",
		Help:      "Completed drain passes by resulting state.",
	}, []string{"state"})

	passDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kinexsync",
		Subsystem: "engine",
		Name:      "pass_duration_seconds",
		Help:      "Time spent fetching, sending and re-persisting queue items in one pass.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kinexsync",
		Subsystem: "engine",
		Name:      "pending_items",
		Help:      "Queue items still within their retry budget.",
	})

	failedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kinexsync",
		Subsystem: "engine",
		Name:      "failed_items",
		Help:      "Queue items that exhausted their retry budget.",
	})
)

func init() {
	prometheus.MustRegister(attemptCounter, retryCounter, passCounter, passDuration, pendingGauge, failedGauge)
}
