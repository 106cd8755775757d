package obs

import (
	"net/http"
	"strconv"
	"strings"
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

	reportsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resqlink_reports_submitted_total",
			Help: "Incident reports accepted, labelled by village.",
		},
		[]string{"village"},
	)

	broadcastRecipients = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resqlink_broadcast_recipients_total",
			Help: "Broadcast fan-out outcomes per recipient.",
		},
		[]string{"outcome"},
	)
)

// Init registers metrics with the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
		reportsSubmitted, broadcastRecipients)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountReportSubmitted records one accepted incident report for a village.
func CountReportSubmitted(villageID string) {
	reportsSubmitted.WithLabelValues(villageID).Inc()
}

// CountBroadcastRecipient records a single fan-out outcome ("sent" or "failed").
func CountBroadcastRecipient(outcome string) {
	broadcastRecipients.WithLabelValues(outcome).Inc()
}

// CanonicalPath collapses resource identifiers in a request path so metric
// labels stay low-cardinality. Query strings are stripped.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	for _, prefix := range []string{
		"/api/v1/reports/",
		"/api/v1/sos/",
		"/api/v1/notes/",
		"/api/v1/announcements/",
		"/api/v1/polygons/",
	} {
		if rest, ok := strings.CutPrefix(path, prefix); ok && rest != "" && !strings.Contains(rest, "/") {
			return prefix + ":id"
		}
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/files/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/api/v1/files/:ref"
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
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

// statusWriter captures the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
