package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	gateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_decisions_total",
			Help: "Access gate outcomes by route shape.",
		},
		[]string{"shape", "outcome"},
	)

	cryptoRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crypto_rpc_duration_seconds",
			Help:    "Latency of backend crypto and session calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"call", "outcome"},
	)

	registerOnce sync.Once
)

// Init registers the gateway metrics in the default registry.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			gateDecisionsTotal,
			cryptoRPCDuration,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveGateDecision records one access gate outcome ("granted"/"denied")
// for the given route shape ("company"/"panel").
func ObserveGateDecision(shape, outcome string) {
	gateDecisionsTotal.WithLabelValues(shape, outcome).Inc()
}

// ObserveBackendCall records the latency of one backend RPC.
func ObserveBackendCall(call, outcome string, d time.Duration) {
	cryptoRPCDuration.WithLabelValues(call, outcome).Observe(d.Seconds())
}

// Instrument wraps a handler with request counters and latency histograms.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses the opaque route segments so metric labels stay
// low-cardinality and never carry encrypted tokens.
func CanonicalPath(raw string) string {
	path := raw
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	switch path {
	case "/", "/metrics", "/healthz", "/readyz", "/login":
		return path
	}
	if strings.HasPrefix(path, "/v1/") {
		return path
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	switch len(segments) {
	case 3:
		return "/:co/:usr/:page"
	case 4:
		return "/:usr/:type/:co/:page"
	}
	return path
}

// statusWriter records the response code written downstream.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
