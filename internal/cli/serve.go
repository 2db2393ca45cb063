package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/gaiaviz/internal/api"
	"github.com/star/gaiaviz/internal/auth"
	"github.com/star/gaiaviz/internal/cache"
	"github.com/star/gaiaviz/internal/health"
	"github.com/star/gaiaviz/internal/stream"
	"github.com/star/gaiaviz/web"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr       string
		trustProxy bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the patch viewer",
		Long: `Serve sky patches over HTTP.

Routes:
  GET /                                 patch viewer
  GET /api/v1/patch                     JSON result set
  GET /api/v1/patch/plot.{png|svg|pdf}  static plot
  GET /api/v1/patch/animation.{gif|html}
  GET /api/v1/patch/crossings           crossing predictions
  GET /api/v1/stream/frames             SSE frame stream
  GET /healthz, /readyz, /metrics

Patch routes take ra, dec, radius, limit, gmax, model and size parameters.

Environment:
  GAIAVIZ_HTTP_ADDR                  listen address (default :8080)
  GAIAVIZ_AUTH_TOKEN                 require "Authorization: Bearer <token>"
  GAIAVIZ_TRUST_PROXY                use X-Forwarded-For for client IPs
  GAIAVIZ_FRAME_CACHE_ENTRIES        frame sets kept in memory
  GAIAVIZ_STREAM_MAX_CONCURRENT      SSE streams per client IP
  GAIAVIZ_STREAM_INTERVAL            delay between SSE frames
  GAIAVIZ_STREAM_KEEPALIVE_INTERVAL  SSE keep-alive interval
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.HTTPAddr = addr
			}
			if cmd.Flags().Changed("trust-proxy") {
				a.cfg.TrustProxy = trustProxy
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address (env GAIAVIZ_HTTP_ADDR)")
	cmd.Flags().BoolVar(&trustProxy, "trust-proxy", false, "Trust X-Forwarded-For and X-Real-IP (env GAIAVIZ_TRUST_PROXY)")
	return cmd
}

// serve runs the HTTP server until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	level := slog.LevelInfo
	if a.cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(a.stdout(), &slog.HandlerOptions{Level: level}))
	a.logger = logger
	logger.Info("configuration loaded", "config", a.cfg)

	cat := a.newCatalog(ctx)
	defer cat.Close()

	var checks []health.Check
	if cat.redis != nil {
		checks = append(checks, health.Check{Name: "redis", Fn: cat.redis.Ping})
	}

	frames := cache.NewFrameCache(cache.FrameConfig{MaxEntries: a.cfg.FrameCacheEntries}, logger)
	go frames.Start(ctx)

	srv := api.NewServer(api.Options{
		Addr:     a.cfg.HTTPAddr,
		Logger:   logger,
		Auth:     auth.NewConfig(a.cfg.AuthToken),
		Searcher: cat.client,
		Frames:   frames,
		Model:    a.cfg.MotionModel,
		Workers:  a.cfg.PropWorkers,
		Stream: stream.Config{
			MaxConcurrentPerIP: a.cfg.StreamMaxConcurrent,
			Interval:           a.cfg.StreamInterval,
			KeepaliveInterval:  a.cfg.StreamKeepaliveInterval,
			TrustProxy:         a.cfg.TrustProxy,
		},
		Readiness: health.NewReadiness(logger, checks...),
		Web:       web.Content,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", a.cfg.HTTPAddr, "auth_enabled", a.cfg.AuthToken != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped", "frame_cache", frames.Stats().String())
	return nil
}
