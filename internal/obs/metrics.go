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

// Outbound API call metrics, observed by the API client.
var (
	apiCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartwaste_api_calls_total",
			Help: "Total number of backend API calls issued by the client.",
		},
		[]string{"method", "path", "status"},
	)

	apiCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartwaste_api_call_duration_seconds",
			Help:    "Backend API call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Inbound HTTP metrics, used by the local fake backend.
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
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			apiCallsTotal, apiCallDuration,
			httpInFlight, httpRequestsTotal, httpRequestDuration,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCall records one outbound API call. status is "error" when no
// response was received.
func ObserveCall(method, path, status string, d time.Duration) {
	p := CanonicalPath(path)
	apiCallsTotal.WithLabelValues(method, p, status).Inc()
	apiCallDuration.WithLabelValues(method, p, status).Observe(d.Seconds())
}

// Instrument wraps a handler with in-flight, count and latency metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath strips the query and replaces numeric segments with ":id"
// so that label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part != "" && isDigits(part) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
