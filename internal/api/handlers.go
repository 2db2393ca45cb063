package api

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/star/gaiaviz/gaia"
	"github.com/star/gaiaviz/internal/httputil"
	"github.com/star/gaiaviz/internal/propagation"
	"github.com/star/gaiaviz/internal/render"
	"github.com/star/gaiaviz/internal/stream"
	"github.com/star/gaiaviz/skypatch"
)

var contentTypes = map[string]string{
	render.FormatPNG:  "image/png",
	render.FormatSVG:  "image/svg+xml",
	render.FormatPDF:  "application/pdf",
	render.FormatGIF:  "image/gif",
	render.FormatHTML: "text/html; charset=utf-8",
}

type handlers struct {
	loader *patchLoader
	model  string
	logger *slog.Logger
}

// statusFor maps an error to its HTTP status: 400 for bad input, 502 when
// the catalog failed and 500 otherwise.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr),
		errors.Is(err, skypatch.ErrInvalidRadius),
		errors.Is(err, skypatch.ErrInvalidRA),
		errors.Is(err, skypatch.ErrInvalidDec),
		errors.Is(err, propagation.ErrUnknownModel),
		errors.Is(err, render.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, skypatch.ErrQueryFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"request_id", httputil.RequestID(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	httputil.WriteError(w, status, err.Error())
}

func (h *handlers) loadPatch(r *http.Request) (*skypatch.SkyPatch, error) {
	req, err := parsePatchRequest(r, h.model)
	if err != nil {
		return nil, err
	}
	return h.loader.load(r.Context(), req)
}

type patchResponse struct {
	RA          float64       `json:"ra"`
	Dec         float64       `json:"dec"`
	Radius      float64       `json:"radius"`
	Limit       int           `json:"limit"`
	MaxGMag     float64       `json:"gmax"`
	Query       string        `json:"query"`
	FetchedAt   time.Time     `json:"fetched_at"`
	SourceCount int           `json:"source_count"`
	Sources     []gaia.Source `json:"sources"`

	CatalogEpoch float64 `json:"catalog_epoch"`
	FrameEpoch   float64 `json:"frame_epoch"`
}

// patch handles GET /api/v1/patch.
func (h *handlers) patch(w http.ResponseWriter, r *http.Request) {
	p, err := h.loadPatch(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ds := p.Dataset()
	httputil.WriteJSON(w, http.StatusOK, patchResponse{
		RA:          p.RA(),
		Dec:         p.Dec(),
		Radius:      p.Radius(),
		Limit:       p.NumSources(),
		MaxGMag:     p.Query().MaxGMag,
		Query:       ds.Query,
		FetchedAt:   ds.FetchedAt,
		SourceCount: len(ds.Sources),
		Sources:     ds.Sources,

		CatalogEpoch: p.CatalogEpoch(),
		FrameEpoch:   p.FrameEpoch(),
	})
}

// plot handles GET /api/v1/patch/plot.{format}.
func (h *handlers) plot(w http.ResponseWriter, r *http.Request) {
	format, err := render.NormalizeFormat(chi.URLParam(r, "format"), render.PlotFormats)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.loadPatch(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := p.PlotStarPositionsContext(r.Context(), &buf, format); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeBody(w, format, &buf)
}

// animation handles GET /api/v1/patch/animation.{format}.
func (h *handlers) animation(w http.ResponseWriter, r *http.Request) {
	format, err := render.NormalizeFormat(chi.URLParam(r, "format"), render.AnimationFormats)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.loadPatch(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := p.AnimateStarPositions(r.Context(), &buf, format); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeBody(w, format, &buf)
}

func (h *handlers) writeBody(w http.ResponseWriter, format string, buf *bytes.Buffer) {
	w.Header().Set("Content-Type", contentTypes[format])
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

type crossingsResponse struct {
	HorizonMyr float64             `json:"horizon_myr"`
	Model      string              `json:"model"`
	Stars      []skypatch.Crossing `json:"stars"`
}

// crossings handles GET /api/v1/patch/crossings.
func (h *handlers) crossings(w http.ResponseWriter, r *http.Request) {
	horizon, err := floatParam(r, "horizon", 0, false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if horizon < 0 || horizon > maxHorizon {
		h.writeError(w, r, badRequest("invalid horizon parameter, must be in [0, %g] Myr", maxHorizon))
		return
	}
	p, err := h.loadPatch(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if horizon == 0 {
		steps := p.TimeSteps()
		horizon = steps[len(steps)-1]
	}

	stars := p.Crossings(r.Context(), horizon)
	if err := r.Context().Err(); err != nil {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, crossingsResponse{
		HorizonMyr: horizon,
		Model:      p.MotionModel(),
		Stars:      stars,
	})
}

// loadStream feeds the SSE handler.
func (h *handlers) loadStream(r *http.Request) (stream.Metadata, []*propagation.Frame, error) {
	p, err := h.loadPatch(r)
	if err != nil {
		return stream.Metadata{}, nil, err
	}
	frames, err := p.Frames(r.Context())
	if err != nil {
		return stream.Metadata{}, nil, err
	}
	return stream.Metadata{
		RA:          p.RA(),
		Dec:         p.Dec(),
		Radius:      p.Radius(),
		Model:       p.MotionModel(),
		Steps:       p.TimeSteps(),
		SourceCount: p.Len(),
		FetchedAt:   p.Dataset().FetchedAt,

		CatalogEpoch: p.CatalogEpoch(),
		FrameEpoch:   p.FrameEpoch(),
	}, frames, nil
}
