package api

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/star/gaiaviz/gaia"
	"github.com/star/gaiaviz/skypatch"
)

// Request limits.
const (
	maxLimit     = 10000
	maxGMag      = 21.0
	minImageSize = 100
	maxImageSize = 2000
	maxHorizon   = 100.0
)

// requestError is a malformed request parameter.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// patchRequest holds the query parameters that select and draw a patch.
type patchRequest struct {
	RA, Dec, Radius float64
	Limit           int
	GMax            float64
	Model           string
	Size            int
}

// key identifies requests that can share one loaded patch.
func (p patchRequest) key() string {
	return fmt.Sprintf("%g|%g|%g|%d|%g|%s|%d", p.RA, p.Dec, p.Radius, p.Limit, p.GMax, p.Model, p.Size)
}

func floatParam(r *http.Request, name string, def float64, required bool) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		if required {
			return 0, badRequest("missing %s parameter", name)
		}
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, badRequest("invalid %s parameter %q", name, v)
	}
	return f, nil
}

func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, badRequest("invalid %s parameter, must be %d-%d", name, lo, hi)
	}
	return n, nil
}

// parsePatchRequest reads ra, dec, radius, limit, gmax, model and size.
func parsePatchRequest(r *http.Request, defaultModel string) (patchRequest, error) {
	var req patchRequest
	var err error

	if req.RA, err = floatParam(r, "ra", 0, true); err != nil {
		return req, err
	}
	if req.Dec, err = floatParam(r, "dec", 0, true); err != nil {
		return req, err
	}
	if req.Radius, err = floatParam(r, "radius", skypatch.DefaultRadius, false); err != nil {
		return req, err
	}
	if err := skypatch.ValidateCone(req.RA, req.Dec, req.Radius); err != nil {
		return req, err
	}

	if req.Limit, err = intParam(r, "limit", 0, 0, maxLimit); err != nil {
		return req, err
	}
	if req.GMax, err = floatParam(r, "gmax", gaia.DefaultMaxGMag, false); err != nil {
		return req, err
	}
	if req.GMax <= 0 || req.GMax > maxGMag {
		return req, badRequest("invalid gmax parameter, must be in (0, %g]", maxGMag)
	}
	if req.Size, err = intParam(r, "size", 800, minImageSize, maxImageSize); err != nil {
		return req, err
	}

	req.Model = r.URL.Query().Get("model")
	if req.Model == "" {
		req.Model = defaultModel
	}
	return req, nil
}

// patchLoader builds patches, coalescing identical concurrent loads.
type patchLoader struct {
	group    singleflight.Group
	searcher skypatch.Searcher
	frames   skypatch.FrameCache
	workers  int
	logger   *slog.Logger
}

func (l *patchLoader) options(req patchRequest) []skypatch.Option {
	opts := []skypatch.Option{
		skypatch.WithLogger(l.logger),
		skypatch.WithNumSources(req.Limit),
		skypatch.WithMagnitudeLimit(req.GMax),
		skypatch.WithMotionModel(req.Model),
		skypatch.WithImageSize(req.Size, req.Size),
		skypatch.WithWorkers(l.workers),
	}
	if l.searcher != nil {
		opts = append(opts, skypatch.WithSearcher(l.searcher))
	}
	if l.frames != nil {
		opts = append(opts, skypatch.WithFrameCache(l.frames))
	}
	return opts
}

// load returns the patch for req. A shared load is not cancelled when one
// of its callers goes away.
func (l *patchLoader) load(ctx context.Context, req patchRequest) (*skypatch.SkyPatch, error) {
	v, err, shared := l.group.Do(req.key(), func() (any, error) {
		return skypatch.New(context.WithoutCancel(ctx), req.RA, req.Dec, req.Radius, l.options(req)...)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		l.logger.Debug("patch load shared", "ra", req.RA, "dec", req.Dec, "radius", req.Radius)
	}
	return v.(*skypatch.SkyPatch), nil
}
