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
	initOnce sync.Once

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

	authEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Registration, login and token checks by outcome.",
		},
		[]string{"event", "outcome"},
	)

	storeReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "store_ready",
		Help: "1 when the credential store answered the last readiness probe.",
	})

	apiBuild = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starterkit_build_info",
			Help: "Always 1; labels carry the running API version and commit.",
		},
		[]string{"version", "commit"},
	)
)

// Init registers the service metrics in the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, authEventsTotal, storeReady, apiBuild)
	})
}

// SetBuild publishes the version and commit of this binary.
func SetBuild(version, commit string) {
	Init()
	apiBuild.Reset()
	apiBuild.WithLabelValues(version, commit).Set(1)
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAuthEvent counts one auth pipeline outcome, e.g. ("login", "denied").
func RecordAuthEvent(event, outcome string) {
	authEventsTotal.WithLabelValues(event, outcome).Inc()
}

// SetReady publishes the last readiness probe result.
func SetReady(ok bool) {
	if ok {
		storeReady.Set(1)
		return
	}
	storeReady.Set(0)
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses user identifiers so metric label cardinality stays
// bounded: /users/<id>/deactivate becomes /users/:id/deactivate.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != "users" || parts[1] == "" {
		return path
	}
	switch {
	case len(parts) == 2:
		return "/users/:id"
	case len(parts) == 3 && (parts[2] == "deactivate" || parts[2] == "roles"):
		return "/users/:id/" + parts[2]
	default:
		return path
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
