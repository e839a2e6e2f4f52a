// README: Prometheus collectors for ride lifecycle, dispatch and HTTP traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RideTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rideflow_ride_transitions_total",
		Help: "Committed ride status transitions",
	}, []string{"from", "to"})

	TransitionConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rideflow_ride_transition_conflicts_total",
		Help: "Conditional updates that lost the race",
	}, []string{"to"})

	ConsistencyErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rideflow_ride_consistency_errors_total",
		Help: "Post-transition re-reads that did not show the committed status",
	})

	RidesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rideflow_rides_expired_total",
		Help: "Pending rides cancelled by the expiry monitor",
	})

	DispatchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rideflow_dispatch_candidates",
		Help:    "Drivers offered a ride per dispatch",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	DispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rideflow_dispatch_failures_total",
		Help: "Dispatch runs that ended with an error",
	})

	NotifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rideflow_notify_failures_total",
		Help: "Push deliveries that failed",
	}, []string{"channel"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rideflow_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
