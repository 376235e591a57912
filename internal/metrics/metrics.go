// Package metrics holds the Prometheus collectors shared by the engine and the API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Checks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitewatch",
			Name:      "checks_total",
			Help:      "Probes processed, by result kind.",
		},
		[]string{"kind"},
	)
	CheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sitewatch",
			Name:      "check_duration_seconds",
			Help:      "Wall time of one probe.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	Incidents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitewatch",
			Name:      "incidents_total",
			Help:      "Incidents opened and resolved.",
		},
		[]string{"event"},
	)
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitewatch",
			Name:      "notifications_total",
			Help:      "Notification attempts, by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
	PollLoops = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sitewatch",
			Name:      "poll_loops",
			Help:      "Poll loops currently running.",
		},
	)
	LoopErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sitewatch",
			Name:      "poll_iteration_errors_total",
			Help:      "Poll iterations that failed and entered cool-down.",
		},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitewatch",
			Name:      "http_requests_total",
			Help:      "Admin API requests.",
		},
		[]string{"method", "route", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sitewatch",
			Name:      "http_request_duration_seconds",
			Help:      "Admin API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(Checks, CheckDuration, Incidents, Notifications, PollLoops, LoopErrors, HTTPRequests, HTTPDuration)
}
