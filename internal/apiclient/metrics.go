package apiclient

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kinexsync",
		Subsystem: "apiclient",
		Name:      "requests_total",
		Help:      "Backend requests by method and status class (2xx, 4xx, 5xx, error).",
	}, []string{"method", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kinexsync",
		Subsystem: "apiclient",
		Name:      "request_duration_seconds",
		Help:      "Round-trip latency of backend requests.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"method"})

	refreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kinexsync",
		Subsystem: "apiclient",
		Name:      "token_refresh_total",
		Help:      "Token refresh network calls by outcome.",
	}, []string{"outcome"})

	refreshWaiters = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kinexsync",
		Subsystem: "apiclient",
		Name:      "token_refresh_coalesced_total",
		Help:      "Callers that waited on an in-flight refresh instead of issuing their own.",
	})
)

func init() {
	prometheus.MustRegister(requestCounter, requestDuration, refreshCounter, refreshWaiters)
}

func statusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}
