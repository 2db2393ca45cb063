// Package api serves sky patches over HTTP: JSON sources, rendered plots
// and animations, crossing predictions and an SSE frame stream.
package api

import (
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/star/gaiaviz/internal/auth"
	"github.com/star/gaiaviz/internal/health"
	"github.com/star/gaiaviz/internal/httputil"
	"github.com/star/gaiaviz/internal/metrics"
	"github.com/star/gaiaviz/internal/stream"
	"github.com/star/gaiaviz/skypatch"
)

// Options holds the server's dependencies.
type Options struct {
	Addr     string
	Logger   *slog.Logger
	Auth     auth.Config
	Searcher skypatch.Searcher
	// Frames shares propagated frames between requests. Optional.
	Frames skypatch.FrameCache
	// Model is the motion model used when a request names none.
	Model   string
	Workers int
	Stream  stream.Config
	// Readiness backs /readyz. Nil means always ready.
	Readiness *health.Readiness
	// Web holds the viewer (index.html, app.js, styles.css). Optional.
	Web fs.FS
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(opts Options) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           NewRouter(opts),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			// Animations can take a while to rasterise. SSE clears the
			// deadline per connection.
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: opts.Logger,
	}
}

// NewRouter builds the routed handler with its middleware chain:
// request id -> metrics -> logging -> auth -> routes.
func NewRouter(opts Options) http.Handler {
	if opts.Readiness == nil {
		opts.Readiness = health.NewReadiness(opts.Logger)
	}
	h := &handlers{
		loader: &patchLoader{
			searcher: opts.Searcher,
			frames:   opts.Frames,
			workers:  opts.Workers,
			logger:   opts.Logger,
		},
		model:  opts.Model,
		logger: opts.Logger,
	}
	streamHandler := stream.NewHandler(h.loadStream, h.writeError, opts.Stream, opts.Logger)

	r := chi.NewRouter()
	r.Use(httputil.RequestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(opts.Logger))
	r.Use(auth.Middleware(opts.Auth))

	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", opts.Readiness.Readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/patch", h.patch)
		r.Get("/patch/plot.{format}", h.plot)
		r.Get("/patch/animation.{format}", h.animation)
		r.Get("/patch/crossings", h.crossings)
		r.Get("/stream/frames", streamHandler.HandleFrames)
	})

	if opts.Web != nil {
		static := http.FileServerFS(opts.Web)
		for _, path := range []string{"/", "/app.js", "/styles.css"} {
			r.Method(http.MethodGet, path, static)
		}
	}
	return r
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"request_id", httputil.RequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
