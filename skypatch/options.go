package skypatch

import (
	"log/slog"
	"time"

	"github.com/star/gaiaviz/internal/render"
)

type config struct {
	searcher       Searcher
	numSources     int
	maxGMag        float64
	allowMissingRV bool
	logger         *slog.Logger
	steps          []float64
	model          string
	workers        int
	frameCache     FrameCache
	render         render.Options
}

// Option configures a SkyPatch.
type Option func(*config)

// WithSearcher sets the catalog the patch queries. The default is a
// gaia.Client for the public Gaia archive.
func WithSearcher(s Searcher) Option {
	return func(c *config) { c.searcher = s }
}

// WithNumSources keeps only the n brightest sources. Zero means all.
func WithNumSources(n int) Option {
	return func(c *config) { c.numSources = n }
}

// WithMagnitudeLimit keeps sources brighter than G magnitude g.
func WithMagnitudeLimit(g float64) Option {
	return func(c *config) { c.maxGMag = g }
}

// WithMissingRadialVelocity also returns sources without a radial velocity.
// They plot but are left out of animations.
func WithMissingRadialVelocity() Option {
	return func(c *config) { c.allowMissingRV = true }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithTimeSteps sets the animation time steps in Myr from now.
func WithTimeSteps(steps []float64) Option {
	return func(c *config) { c.steps = append([]float64(nil), steps...) }
}

// WithMotionModel selects how stars move: ModelLinear or ModelHalo.
func WithMotionModel(name string) Option {
	return func(c *config) { c.model = name }
}

// WithWorkers bounds the goroutines used for propagation and rasterising.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithImageSize sets the output size in pixels.
func WithImageSize(width, height int) Option {
	return func(c *config) {
		c.render.Width = width
		c.render.Height = height
	}
}

// WithTitle sets the plot title.
func WithTitle(title string) Option {
	return func(c *config) { c.render.Title = title }
}

// WithFrameDelay sets the time each animation frame is shown.
func WithFrameDelay(d time.Duration) Option {
	return func(c *config) { c.render.FrameDelay = d }
}

// WithFrameCache shares propagated frames between patches of the same
// dataset, model and time steps.
func WithFrameCache(fc FrameCache) Option {
	return func(c *config) { c.frameCache = fc }
}
