package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acarlson/user-account-service/internal/overload"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Signup outcomes by result (created, duplicate, invalid, error).
	SignupsTotal *prometheus.CounterVec

	// Login outcomes by result (success, invalid_credentials, error).
	LoginsTotal *prometheus.CounterVec

	// Logout count. Watch for: large divergence from logins (abandoned sessions).
	LogoutsTotal prometheus.Counter

	// Datastore operation latency by operation and status.
	StoreOperationDuration *prometheus.HistogramVec

	// Datastore errors by operation. Watch for: bursts (backend down).
	StoreErrorsTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions by component and direction.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Sessions currently held in the store (in-memory backend only).
	ActiveSessionsGauge prometheus.Gauge

	// Sweep passes over the session store.
	SessionSweepsTotal prometheus.Counter

	// Sessions dropped by the sweeper after expiry.
	SessionsExpiredTotal prometheus.Counter

	// In-flight requests remaining when shutdown drain started.
	ShutdownInFlightGauge prometheus.Gauge

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	SignupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signupsTotal",
			Help: "Signup attempts by result",
		},
		[]string{"result"},
	)
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loginsTotal",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)
	LogoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "logoutsTotal",
			Help: "Total number of logouts",
		},
	)
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storeOperationDurationSeconds",
			Help:    "User datastore operation latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation", "status"},
	)
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeErrorsTotal",
			Help: "User datastore errors by operation",
		},
		[]string{"operation"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	ActiveSessionsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "activeSessions",
			Help: "Sessions currently held in the session store",
		},
	)
	SessionSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionSweepsTotal",
			Help: "Total number of session sweep passes",
		},
	)
	SessionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionsExpiredTotal",
			Help: "Sessions removed by the sweeper after expiry",
		},
	)
	ShutdownInFlightGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests remaining when shutdown drain started",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		SignupsTotal, LoginsTotal, LogoutsTotal,
		StoreOperationDuration, StoreErrorsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		RateLimitDeniedTotal,
		ActiveSessionsGauge, SessionSweepsTotal, SessionsExpiredTotal,
		ShutdownInFlightGauge,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with cfg.OverloadWindow. Uses same window as lifecycle.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(overload.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(overload.DenialCount(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition records a breaker state change for the component.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// SetCircuitBreakerStateGauge sets the breaker state gauge for the component.
func SetCircuitBreakerStateGauge(component string, state float64) {
	CircuitBreakerState.WithLabelValues(component).Set(state)
}

// ObserveStoreOperation records one datastore operation's duration and outcome.
func ObserveStoreOperation(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
		StoreErrorsTotal.WithLabelValues(operation).Inc()
	}
	StoreOperationDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordShutdownInFlight records how many requests were still in flight when
// the shutdown drain started.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightGauge.Set(float64(n))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
