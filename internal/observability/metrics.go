package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sharing", Name: "matches_total", Help: "Total number of successful driver matches"})
	MatchFailures    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "ride_sharing", Name: "match_failures_total", Help: "Ride requests that did not produce a confirmed ride"}, []string{"reason"})
	MatchLatency     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_sharing", Name: "match_latency_seconds", Help: "Match latency seconds"})
	RidesCompleted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sharing", Name: "rides_completed_total", Help: "Total completed rides"})
	RidesCancelled   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "ride_sharing", Name: "rides_cancelled_total", Help: "Total cancelled rides"}, []string{"initiator", "fee_charged"})
	FaresSettled     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sharing", Name: "fares_settled_total", Help: "Sum of settled fares"})
	RatingsTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "ride_sharing", Name: "ratings_total", Help: "Ratings applied"}, []string{"target"})
	DriversAvailable = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_sharing", Name: "drivers_available", Help: "Number of available drivers"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_sharing", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_sharing",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
