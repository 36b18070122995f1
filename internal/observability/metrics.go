package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActivitiesCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tagalong", Name: "activities_created_total", Help: "Total activities created"})
	JoinsTotal        = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tagalong", Name: "joins_total", Help: "Total successful joins"})
	LeavesTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tagalong", Name: "leaves_total", Help: "Total voluntary leaves"})
	CheckoutsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tagalong", Name: "checkouts_total", Help: "Total verified participant checkouts"})

	ActivitiesEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tagalong", Name: "activities_ended_total", Help: "Total activities torn down, by reason"},
		[]string{"reason"},
	)

	ExpirySweepErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tagalong", Name: "expiry_sweep_errors_total", Help: "Expiry monitor scan or teardown failures"})

	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "tagalong", Name: "ws_sessions", Help: "Connected websocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tagalong", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tagalong",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
