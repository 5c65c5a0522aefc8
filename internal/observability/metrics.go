package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Weatherbit call rate per endpoint (current, forecast). Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Weatherbit latency per endpoint. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Upstream errors by category (see client.CategorizeError).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Breaker state: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	// Lookups served, labelled by whether a date range was requested.
	WeatherQueriesTotal *prometheus.CounterVec

	// Record store operations by op (create, list, update, delete) and result.
	RecordOperationsTotal *prometheus.CounterVec

	// Export downloads by format.
	ExportsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter
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
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of Weatherbit API calls",
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Weatherbit API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Weatherbit API errors by category",
		},
		[]string{"category"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"component"},
	)
	WeatherQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherQueriesTotal",
			Help: "Total number of weather lookups",
		},
		[]string{"ranged"},
	)
	RecordOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordOperationsTotal",
			Help: "Record store operations by operation and result",
		},
		[]string{"op", "result"},
	)
	ExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exportsTotal",
			Help: "Record exports by format",
		},
		[]string{"format"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIErrorsTotal,
		CircuitBreakerState,
		WeatherQueriesTotal, RecordOperationsTotal, ExportsTotal,
		RateLimitDeniedTotal,
	)
}

// RecordWeatherQuery counts a lookup.
func RecordWeatherQuery(ranged bool) {
	if ranged {
		WeatherQueriesTotal.WithLabelValues("true").Inc()
		return
	}
	WeatherQueriesTotal.WithLabelValues("false").Inc()
}

// RecordStoreOp counts a record store operation; err decides the result label.
func RecordStoreOp(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	RecordOperationsTotal.WithLabelValues(op, result).Inc()
}

// SetCircuitBreakerState publishes the breaker state for component.
func SetCircuitBreakerState(component string, value float64) {
	CircuitBreakerState.WithLabelValues(component).Set(value)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
