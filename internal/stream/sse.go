// Package stream implements Server-Sent Events (SSE) streaming of animation
// frames. Clients connect via GET /api/v1/stream/frames with the patch
// parameters and receive the frames of that patch one at a time.
//
// SSE message format:
//
//	data: {"type":"frame","index":2,"t_myr":0.4,"label":"0.4 Myr from now","stars":[...]}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","ra":56.75,"dec":24.12,"radius":2,"frame_count":6,...}\n\n
//
// Frames loop until the client disconnects unless loop=false, in which case
// an {"type":"end"} message follows the last frame. Keep-alive comments
// (:\n\n) are sent every KeepaliveInterval while idle.
package stream

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/star/gaiaviz/internal/httputil"
	"github.com/star/gaiaviz/internal/metrics"
	"github.com/star/gaiaviz/internal/propagation"
	"github.com/star/gaiaviz/internal/render"
)

// Interval bounds for the interval_ms query parameter.
const (
	minInterval = 50 * time.Millisecond
	maxInterval = 10 * time.Second
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxTotal           int           // Max concurrent streams overall (default: 1000).
	Interval           time.Duration // Default delay between frames (default: 1s).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TrustProxy         bool          // Use proxy headers for the client IP.
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentPerIP <= 0 {
		c.MaxConcurrentPerIP = 10
	}
	if c.MaxTotal <= 0 {
		c.MaxTotal = 1000
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	return c
}

// Metadata describes the patch being streamed.
type Metadata struct {
	RA          float64   `json:"ra"`
	Dec         float64   `json:"dec"`
	Radius      float64   `json:"radius"`
	Model       string    `json:"model"`
	Steps       []float64 `json:"steps_myr"`
	SourceCount int       `json:"source_count"`
	FetchedAt   time.Time `json:"fetched_at"`

	CatalogEpoch float64 `json:"catalog_epoch"` // Julian epoch of the astrometry
	FrameEpoch   float64 `json:"frame_epoch"`   // Julian epoch of t=0
}

// LoadFunc resolves a request to the patch metadata and its frames.
type LoadFunc func(r *http.Request) (Metadata, []*propagation.Frame, error)

// ErrorFunc writes an error response for a failed load.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

// Handler manages SSE streaming connections.
type Handler struct {
	load    LoadFunc
	onError ErrorFunc
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(load LoadFunc, onError ErrorFunc, config Config, logger *slog.Logger) *Handler {
	config = config.withDefaults()
	return &Handler{
		load:    load,
		onError: onError,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:  logger,
	}
}

// HandleFrames serves the SSE frame stream.
// GET /api/v1/stream/frames?ra=..&dec=..&radius=..&interval_ms=500&loop=true
func (h *Handler) HandleFrames(w http.ResponseWriter, r *http.Request) {
	interval := h.config.Interval
	if v := r.URL.Query().Get("interval_ms"); v != "" {
		n, err := strconv.Atoi(v)
		d := time.Duration(n) * time.Millisecond
		if err != nil || d < minInterval || d > maxInterval {
			httputil.WriteError(w, http.StatusBadRequest, "invalid interval_ms parameter, must be 50-10000")
			return
		}
		interval = d
	}

	loop := true
	if v := r.URL.Query().Get("loop"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid loop parameter, must be a boolean")
			return
		}
		loop = b
	}

	// Rate limiting happens before the load so a flood of streams cannot
	// trigger a flood of catalog queries.
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}
	defer h.limiter.release(ip)

	meta, frames, err := h.load(r)
	if err != nil {
		metrics.IncStreamErrors("load_error")
		h.onError(w, r, err)
		return
	}
	// Every frame holds the same stars, so the first one decides.
	if len(frames) == 0 || len(frames[0].Stars) == 0 {
		httputil.WriteError(w, http.StatusUnprocessableEntity, "patch has no animatable stars")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"request_id", httputil.RequestID(r.Context()),
		"user_agent", r.Header.Get("User-Agent"),
		"frame_count", len(frames),
		"interval_ms", interval.Milliseconds(),
	)

	c := &client{
		w:       w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		ip:      ip,
		logger:  h.logger,
	}

	defer func() {
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
			"messages_sent", c.messagesSent,
			"bytes_sent", c.bytesSent,
		)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection.
	if err := c.rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	// Jittered retry interval (3-7s) so clients do not reconnect in lockstep
	// after a restart.
	fmt.Fprintf(w, "retry: %d\n\n", 3000+rand.Intn(4000))
	flusher.Flush()

	if err := c.sendJSON(metadataMessage{
		Type:       "metadata",
		Metadata:   meta,
		FrameCount: len(frames),
		StarCount:  len(frames[0].Stars),
		AgeSeconds: int(time.Since(meta.FetchedAt).Seconds()),
	}); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	next := 0
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if next == len(frames) {
				if !loop {
					if err := c.sendJSON(endMessage{Type: "end"}); err != nil {
						metrics.IncStreamErrors("send_error")
					}
					return
				}
				next = 0
			}
			if err := c.sendJSON(buildFrameMessage(next, frames[next])); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			next++
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// buildFrameMessage formats one frame into the SSE payload.
func buildFrameMessage(index int, f *propagation.Frame) frameMessage {
	stars := make([]starPayload, len(f.Stars))
	for i, s := range f.Stars {
		stars[i] = starPayload{
			ID:   strconv.FormatInt(s.SourceID, 10),
			RA:   s.RA,
			Dec:  s.Dec,
			GMag: s.GMag,
		}
	}
	return frameMessage{
		Type:    "frame",
		Index:   index,
		TimeMyr: f.TimeMyr,
		Label:   render.FrameLabel(f.TimeMyr),
		Stars:   stars,
	}
}

// SSE message payload types.

type metadataMessage struct {
	Type string `json:"type"`
	Metadata
	FrameCount int `json:"frame_count"`
	StarCount  int `json:"star_count"`
	AgeSeconds int `json:"dataset_age_seconds"`
}

type frameMessage struct {
	Type    string        `json:"type"`
	Index   int           `json:"index"`
	TimeMyr float64       `json:"t_myr"`
	Label   string        `json:"label"`
	Stars   []starPayload `json:"stars"`
}

type endMessage struct {
	Type string `json:"type"`
}

// starPayload carries the id as a string: Gaia source ids exceed the
// 2^53 integers JavaScript numbers hold exactly.
type starPayload struct {
	ID   string  `json:"id"`
	RA   float64 `json:"ra"`
	Dec  float64 `json:"dec"`
	GMag float64 `json:"g"`
}
