// Package skypatch queries Gaia DR3 for the stars in a circular patch of sky
// and draws them, either as a static RA/Dec scatter or as an animation of
// the stars moving over the next million years.
//
//	p, err := skypatch.New(ctx, 56.75, 24.12, 2)
//	if err != nil {
//		return err
//	}
//	err = p.PlotStarPositions(w, "png")
package skypatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/star/gaiaviz/gaia"
	"github.com/star/gaiaviz/internal/cache"
	"github.com/star/gaiaviz/internal/crossings"
	"github.com/star/gaiaviz/internal/propagation"
	"github.com/star/gaiaviz/internal/render"
	"github.com/star/gaiaviz/internal/transform"
)

// Radius bounds in degrees, both inclusive.
const (
	MinRadius     = 1.0
	MaxRadius     = 90.0
	DefaultRadius = 5.0
)

// Motion models.
const (
	ModelLinear = propagation.ModelLinear
	ModelHalo   = propagation.ModelHalo
)

var (
	ErrInvalidRadius = errors.New("radius must be between 1 and 90 degrees")
	ErrInvalidRA     = errors.New("right ascension must be in [0, 360) degrees")
	ErrInvalidDec    = errors.New("declination must be in [-90, 90] degrees")

	// ErrQueryFailed wraps every catalog failure returned by New.
	ErrQueryFailed = errors.New("gaia query failed")
)

// Frame is the star positions at one animation time step.
type Frame = propagation.Frame

// StarPosition is one star within a Frame.
type StarPosition = propagation.StarPosition

// Crossing lists the times one star leaves or enters the patch.
type Crossing = crossings.StarCrossings

// Searcher runs a cone search. *gaia.Client implements it.
type Searcher interface {
	ConeSearch(ctx context.Context, q gaia.ConeQuery) (*gaia.Dataset, error)
}

// FrameCache stores frame sets by key. *cache.FrameCache implements it.
type FrameCache interface {
	Get(key string) ([]*Frame, bool)
	Put(key string, frames []*Frame)
}

var tracer = otel.Tracer("github.com/star/gaiaviz/skypatch")

// SkyPatch holds the Gaia sources inside one cone. The query runs once, in
// New; afterwards the patch is read-only and safe for concurrent use.
type SkyPatch struct {
	ra, dec, radius float64
	query           gaia.ConeQuery
	dataset         *gaia.Dataset

	cfg    config
	prop   *propagation.Propagator
	logger *slog.Logger

	mu     sync.Mutex
	frames []*propagation.Frame
}

// ValidateCone checks a patch center and radius.
func ValidateCone(ra, dec, radius float64) error {
	if math.IsNaN(radius) || radius < MinRadius || radius > MaxRadius {
		return fmt.Errorf("%w: got %g", ErrInvalidRadius, radius)
	}
	if math.IsNaN(ra) || ra < 0 || ra >= 360 {
		return fmt.Errorf("%w: got %g", ErrInvalidRA, ra)
	}
	if math.IsNaN(dec) || dec < -90 || dec > 90 {
		return fmt.Errorf("%w: got %g", ErrInvalidDec, dec)
	}
	return nil
}

// New validates the patch and queries the catalog for its sources. Query
// failures are returned wrapped; there is no retry.
func New(ctx context.Context, ra, dec, radius float64, opts ...Option) (*SkyPatch, error) {
	if err := ValidateCone(ra, dec, radius); err != nil {
		return nil, err
	}

	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.numSources < 0 {
		return nil, fmt.Errorf("number of sources must not be negative: got %d", cfg.numSources)
	}
	if cfg.searcher == nil {
		cfg.searcher = gaia.NewClient(gaia.DefaultTAPURL, gaia.WithLogger(cfg.logger))
	}

	prop, err := propagation.NewPropagator(propagation.PropConfig{
		Workers: cfg.workers,
		Model:   cfg.model,
		Steps:   cfg.steps,
	}, cfg.logger)
	if err != nil {
		return nil, err
	}

	q := gaia.ConeQuery{
		RA:             ra,
		Dec:            dec,
		Radius:         radius,
		Limit:          cfg.numSources,
		MaxGMag:        cfg.maxGMag,
		AllowMissingRV: cfg.allowMissingRV,
	}

	ctx, span := tracer.Start(ctx, "skypatch.New", trace.WithAttributes(
		attribute.Float64("patch.ra", ra),
		attribute.Float64("patch.dec", dec),
		attribute.Float64("patch.radius", radius),
	))
	defer span.End()

	ds, err := cfg.searcher.ConeSearch(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w for patch (%g, %g, r=%g): %w", ErrQueryFailed, ra, dec, radius, err)
	}
	if ds == nil {
		ds = &gaia.Dataset{Query: q.ADQL()}
	}

	cfg.logger.Info("sky patch loaded",
		"ra", ra,
		"dec", dec,
		"radius", radius,
		"source_count", len(ds.Sources),
	)

	return &SkyPatch{
		ra:      ra,
		dec:     dec,
		radius:  radius,
		query:   q,
		dataset: ds.Clone(),
		cfg:     cfg,
		prop:    prop,
		logger:  cfg.logger,
	}, nil
}

// RA returns the patch center right ascension in degrees.
func (p *SkyPatch) RA() float64 { return p.ra }

// Dec returns the patch center declination in degrees.
func (p *SkyPatch) Dec() float64 { return p.dec }

// Radius returns the patch radius in degrees.
func (p *SkyPatch) Radius() float64 { return p.radius }

// NumSources returns the requested row cap, zero when uncapped.
func (p *SkyPatch) NumSources() int { return p.query.Limit }

// Query returns the cone query the patch ran.
func (p *SkyPatch) Query() gaia.ConeQuery { return p.query }

// Len returns the number of sources found.
func (p *SkyPatch) Len() int { return len(p.dataset.Sources) }

// Sources returns a copy of the sources found.
func (p *SkyPatch) Sources() []gaia.Source {
	return p.Dataset().Sources
}

// Dataset returns a copy of the query result with its metadata.
func (p *SkyPatch) Dataset() *gaia.Dataset {
	return p.dataset.Clone()
}

// MotionModel returns the name of the model used to animate the patch.
func (p *SkyPatch) MotionModel() string {
	return p.prop.Model().Name()
}

// TimeSteps returns the animation time steps in Myr.
func (p *SkyPatch) TimeSteps() []float64 {
	return append([]float64(nil), p.prop.Config().Steps...)
}

func (p *SkyPatch) renderOptions() render.Options {
	opts := p.cfg.render
	opts.CenterRA = p.ra
	opts.UnwrapRA = true
	opts.FaintLimit = p.query.MaxGMag
	opts.Workers = p.cfg.workers
	if opts.Title == "" {
		opts.Title = fmt.Sprintf("RA %g, Dec %g, r %g deg", p.ra, p.dec, p.radius)
	}
	return opts
}

// PlotStarPositions draws the current RA/Dec positions of the sources to w.
// Marker size and brightness follow G magnitude. format is png, svg or pdf.
func (p *SkyPatch) PlotStarPositions(w io.Writer, format string) error {
	return p.PlotStarPositionsContext(context.Background(), w, format)
}

// PlotStarPositionsContext is PlotStarPositions with a context for tracing.
func (p *SkyPatch) PlotStarPositionsContext(ctx context.Context, w io.Writer, format string) error {
	pts := render.PointsFromSources(p.dataset.Sources)
	if err := render.WritePlot(ctx, w, pts, format, p.renderOptions()); err != nil {
		return fmt.Errorf("plotting star positions: %w", err)
	}
	return nil
}

// Frames propagates every source with full astrometry to each time step,
// counted from the frame epoch. Sources lacking parallax, proper motion or
// radial velocity are skipped.
// The result is computed once and shared; callers must not modify it.
func (p *SkyPatch) Frames(ctx context.Context) ([]*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.frames != nil {
		return p.frames, nil
	}

	key := p.FrameKey()
	if p.cfg.frameCache != nil {
		if frames, ok := p.cfg.frameCache.Get(key); ok {
			p.frames = frames
			return frames, nil
		}
	}

	states, skipped := p.states()
	if skipped > 0 {
		p.logger.Warn("sources without full astrometry left out of animation",
			"skipped", skipped,
			"source_count", len(p.dataset.Sources),
		)
	}

	frames, err := p.prop.GenerateFrames(ctx, states)
	if err != nil {
		return nil, fmt.Errorf("propagating sources: %w", err)
	}
	p.frames = frames
	if p.cfg.frameCache != nil {
		p.cfg.frameCache.Put(key, frames)
	}
	return frames, nil
}

// CatalogEpoch returns the Julian epoch of the Gaia DR3 astrometry.
func (p *SkyPatch) CatalogEpoch() float64 {
	return transform.JulianEpoch(transform.GaiaDR3Epoch)
}

// FrameEpoch returns the Julian epoch that t=0 of Frames and Crossings
// stands for: the time the dataset was fetched, or the catalog epoch when
// the fetch time is unknown.
func (p *SkyPatch) FrameEpoch() float64 {
	if p.dataset.FetchedAt.IsZero() {
		return p.CatalogEpoch()
	}
	return transform.JulianEpoch(p.dataset.FetchedAt)
}

// epochOffsetMyr is the time from the catalog epoch to the frame epoch.
func (p *SkyPatch) epochOffsetMyr() float64 {
	if p.dataset.FetchedAt.IsZero() {
		return 0
	}
	return transform.MyrSince(transform.GaiaDR3Epoch, p.dataset.FetchedAt)
}

// states returns the animatable sources moved from the catalog epoch to the
// frame epoch, and how many sources were left out.
func (p *SkyPatch) states() ([]propagation.StarState, int) {
	states, skipped := propagation.StatesFromSources(p.dataset.Sources)
	states, failed := propagation.Rebase(p.prop.Model(), states, p.epochOffsetMyr())
	return states, skipped + failed
}

// FrameKey identifies the patch's frame set: its dataset, motion model and
// time steps.
func (p *SkyPatch) FrameKey() string {
	return cache.FrameKey(p.query.Key(), p.dataset.FetchedAt, p.MotionModel(), p.prop.Config().Steps)
}

// AnimateStarPositions draws the sources moving over the time steps, one
// frame per step labelled "<t> Myr from now". format is gif or html.
func (p *SkyPatch) AnimateStarPositions(ctx context.Context, w io.Writer, format string) error {
	format, err := render.NormalizeFormat(format, render.AnimationFormats)
	if err != nil {
		return err
	}

	frames, err := p.Frames(ctx)
	if err != nil {
		return err
	}

	switch format {
	case render.FormatGIF:
		err = render.WriteGIF(ctx, w, frames, p.renderOptions())
	default:
		err = render.WriteHTML(ctx, w, frames, p.renderOptions())
	}
	if err != nil {
		return fmt.Errorf("animating star positions: %w", err)
	}
	return nil
}

// Crossings predicts when each animatable source leaves or enters the
// patch within horizonMyr (zero means the last time step).
func (p *SkyPatch) Crossings(ctx context.Context, horizonMyr float64) []Crossing {
	if horizonMyr <= 0 {
		steps := p.prop.Config().Steps
		horizonMyr = steps[len(steps)-1]
	}
	states, _ := p.states()
	return crossings.Predict(ctx, crossings.Request{
		CenterRA:   p.ra,
		CenterDec:  p.dec,
		Radius:     p.radius,
		Model:      p.prop.Model(),
		States:     states,
		HorizonMyr: horizonMyr,
		Workers:    p.cfg.workers,
	})
}
