// Package metrics exposes the process Prometheus registry and the HTTP and
// upstream instrumentation used by the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wellnest",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wellnest",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wellnest",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"route"})

	upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wellnest",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Outbound calls to external services by outcome.",
	}, []string{"upstream", "outcome"})

	upstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wellnest",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Duration of outbound calls to external services.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"upstream"})

	paymentsSettled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wellnest",
		Subsystem: "payments",
		Name:      "settled_total",
		Help:      "Checkout references settled for the first time.",
	})

	securityAlerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wellnest",
		Subsystem: "security",
		Name:      "alerts_total",
		Help:      "Security alert thresholds crossed, by event and outcome.",
	}, []string{"event", "outcome"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		upstreamRequests,
		upstreamDuration,
		paymentsSettled,
		securityAlerts,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request count and latency per matched route.
// It must wrap the ServeMux directly: the mux fills in r.Pattern on the
// request value it receives.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveUpstream records one outbound call. status is the upstream HTTP
// status, or 0 when the call failed before a response arrived.
func ObserveUpstream(upstream string, status int, duration time.Duration) {
	outcome := "transport_error"
	switch {
	case status >= 500:
		outcome = "server_error"
	case status >= 400:
		outcome = "client_error"
	case status > 0:
		outcome = "ok"
	}
	upstreamRequests.WithLabelValues(upstream, outcome).Inc()
	upstreamDuration.WithLabelValues(upstream).Observe(duration.Seconds())
}

// PaymentSettled counts one newly settled checkout reference.
func PaymentSettled() {
	paymentsSettled.Inc()
}

// SecurityAlert counts one crossed alert threshold.
func SecurityAlert(event, outcome string) {
	securityAlerts.WithLabelValues(event, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
