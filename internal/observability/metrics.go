// Package observability exposes sync watermark gauges shared across packages.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	lastEnqueuedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kinexsync",
		Subsystem: "queue",
		Name:      "last_item_enqueued_timestamp_seconds",
		Help:      "Unix timestamp of the most recent mutation persisted to the queue.",
	})
	lastSyncedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kinexsync",
		Subsystem: "queue",
		Name:      "last_item_synced_timestamp_seconds",
		Help:      "Unix timestamp of the most recent queue item delivered to the backend.",
	})
	lastPassGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kinexsync",
		Subsystem: "engine",
		Name:      "last_pass_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed drain pass.",
	})
)

func init() {
	prometheus.MustRegister(lastEnqueuedGauge, lastSyncedGauge, lastPassGauge)
}

// RecordItemEnqueued updates the enqueue watermark gauge.
func RecordItemEnqueued(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastEnqueuedGauge.Set(float64(ts.Unix()))
}

// RecordItemSynced updates the delivery watermark gauge.
func RecordItemSynced(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSyncedGauge.Set(float64(ts.Unix()))
}

// RecordPassCompleted updates the drain pass watermark gauge.
func RecordPassCompleted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastPassGauge.Set(float64(ts.Unix()))
}
