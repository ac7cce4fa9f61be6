package events

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kinexsync",
		Subsystem: "events",
		Name:      "status_published_total",
		Help:      "Sync status events written to Kafka.",
	})

	publishFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kinexsync",
		Subsystem: "events",
		Name:      "status_failed_total",
		Help:      "Sync status events that could not be written to Kafka.",
	})

	publishDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kinexsync",
		Subsystem: "events",
		Name:      "publish_duration_seconds",
		Help:      "Time spent writing one status event to Kafka.",
		Buckets:   prometheus.DefBuckets,
	})

	droppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kinexsync",
		Subsystem: "events",
		Name:      "status_dropped_total",
		Help:      "Sync status snapshots dropped because the publish buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(publishedCounter, publishFailedCounter, publishDuration, droppedCounter)
}
