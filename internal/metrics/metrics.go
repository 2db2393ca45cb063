package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaiaviz_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gaiaviz_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	catalogQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaiaviz_catalog_queries_total",
			Help: "Cone searches sent to the catalog service, by outcome.",
		},
		[]string{"outcome"},
	)

	catalogQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gaiaviz_catalog_query_duration_seconds",
			Help:    "Catalog query round-trip time in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	catalogRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gaiaviz_catalog_rows",
			Help:    "Number of sources returned per cone search.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	resultCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaiaviz_result_cache_lookups_total",
			Help: "Cone-search result cache lookups, by result.",
		},
		[]string{"backend", "result"},
	)

	frameCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaiaviz_frame_cache_lookups_total",
			Help: "Animation frame cache lookups, by result.",
		},
		[]string{"result"},
	)

	frameCacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gaiaviz_frame_cache_evictions_total",
			Help: "Frame sets evicted from the in-memory cache.",
		},
	)

	frameCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaiaviz_frame_cache_entries",
			Help: "Frame sets currently held in memory.",
		},
	)

	propagationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gaiaviz_propagation_duration_seconds",
			Help:    "Time to propagate one batch of stars to a single time step.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		},
	)

	propagatedStars = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaiaviz_propagated_stars_total",
			Help: "Per-star propagation results.",
		},
		[]string{"outcome"},
	)

	renderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gaiaviz_render_duration_seconds",
			Help:    "Plot and animation render time in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "format"},
	)

	streamConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaiaviz_stream_connections_total",
			Help: "SSE connection lifecycle events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaiaviz_streams_active",
			Help: "Currently open SSE streams.",
		},
	)

	streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaiaviz_stream_errors_total",
			Help: "SSE stream errors, by reason.",
		},
		[]string{"reason"},
	)

	streamMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gaiaviz_stream_messages_total",
			Help: "SSE data messages sent.",
		},
	)

	streamBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gaiaviz_stream_bytes_total",
			Help: "Bytes written to SSE streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		catalogQueriesTotal,
		catalogQueryDuration,
		catalogRows,
		resultCacheTotal,
		frameCacheTotal,
		frameCacheEvictions,
		frameCacheEntries,
		propagationDuration,
		propagatedStars,
		renderDuration,
		streamConnections,
		streamsActive,
		streamErrors,
		streamMessages,
		streamBytes,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCatalogQuery records one cone search. rows is ignored on failure.
func ObserveCatalogQuery(d time.Duration, rows int, err error) {
	catalogQueryDuration.Observe(d.Seconds())
	if err != nil {
		catalogQueriesTotal.WithLabelValues("error").Inc()
		return
	}
	catalogQueriesTotal.WithLabelValues("ok").Inc()
	catalogRows.Observe(float64(rows))
}

// IncResultCache counts a result cache lookup ("hit", "miss" or "error").
func IncResultCache(backend, result string) {
	resultCacheTotal.WithLabelValues(backend, result).Inc()
}

// IncFrameCacheHits counts a frame cache hit.
func IncFrameCacheHits() { frameCacheTotal.WithLabelValues("hit").Inc() }

// IncFrameCacheMisses counts a frame cache miss.
func IncFrameCacheMisses() { frameCacheTotal.WithLabelValues("miss").Inc() }

// AddFrameCacheEvictions counts evicted frame sets.
func AddFrameCacheEvictions(n int) { frameCacheEvictions.Add(float64(n)) }

// SetFrameCacheEntries publishes the number of cached frame sets.
func SetFrameCacheEntries(n int) { frameCacheEntries.Set(float64(n)) }

// RecordPropagation records one batch propagation.
func RecordPropagation(d time.Duration, success, failed int) {
	propagationDuration.Observe(d.Seconds())
	propagatedStars.WithLabelValues("ok").Add(float64(success))
	propagatedStars.WithLabelValues("error").Add(float64(failed))
}

// ObserveRender records a render of the given kind ("plot", "animation").
func ObserveRender(kind, format string, d time.Duration) {
	renderDuration.WithLabelValues(kind, format).Observe(d.Seconds())
}

// IncStreamConnections counts a stream "connect" or "disconnect".
func IncStreamConnections(event string) { streamConnections.WithLabelValues(event).Inc() }

// IncStreamsActive increments the open stream gauge.
func IncStreamsActive() { streamsActive.Inc() }

// DecStreamsActive decrements the open stream gauge.
func DecStreamsActive() { streamsActive.Dec() }

// IncStreamErrors counts a stream error by reason.
func IncStreamErrors(reason string) { streamErrors.WithLabelValues(reason).Inc() }

// IncStreamMessages counts one SSE data message.
func IncStreamMessages() { streamMessages.Inc() }

// AddStreamBytes counts bytes written to a stream.
func AddStreamBytes(n int64) { streamBytes.Add(float64(n)) }

// knownRoutes are exact paths that keep their own label.
var knownRoutes = map[string]bool{
	"/":                            true,
	"/healthz":                     true,
	"/readyz":                      true,
	"/metrics":                     true,
	"/app.js":                      true,
	"/styles.css":                  true,
	"/api/v1/patch":                true,
	"/api/v1/patch/crossings":      true,
	"/api/v1/patch/plot.png":       true,
	"/api/v1/patch/plot.svg":       true,
	"/api/v1/patch/animation.gif":  true,
	"/api/v1/patch/animation.html": true,
	"/api/v1/stream/frames":        true,
}

// normalizeRoute maps a request path to a bounded set of label values so
// scanners and typos cannot blow up label cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if strings.HasPrefix(path, "/api/v1/patch/plot.") {
		return "/api/v1/patch/plot.{format}"
	}
	if strings.HasPrefix(path, "/api/v1/patch/animation.") {
		return "/api/v1/patch/animation.{format}"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through to the wrapped writer so SSE keeps working.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
