// Package render draws sky patches: a static RA/Dec scatter (png, svg, pdf)
// and animations of propagated frames (gif, html).
package render

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/star/gaiaviz/gaia"
	"github.com/star/gaiaviz/internal/propagation"
	"github.com/star/gaiaviz/internal/transform"
)

// ErrUnsupportedFormat is returned for output formats a writer cannot produce.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Output formats.
const (
	FormatPNG  = "png"
	FormatSVG  = "svg"
	FormatPDF  = "pdf"
	FormatGIF  = "gif"
	FormatHTML = "html"
)

// PlotFormats and AnimationFormats list what each writer accepts.
var (
	PlotFormats      = []string{FormatPNG, FormatSVG, FormatPDF}
	AnimationFormats = []string{FormatGIF, FormatHTML}
)

// NormalizeFormat lower-cases format, strips a leading dot and checks it
// against allowed.
func NormalizeFormat(format string, allowed []string) (string, error) {
	f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	for _, a := range allowed {
		if f == a {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q (want one of %s)", ErrUnsupportedFormat, format, strings.Join(allowed, ", "))
}

// Options controls plot appearance.
type Options struct {
	Width  int // pixels (default 800)
	Height int // pixels (default 800)
	Title  string

	// CenterRA unwraps right ascension around the patch center so a patch
	// straddling RA=0 plots as one cluster.
	CenterRA float64
	UnwrapRA bool

	// FaintLimit is the G magnitude at which markers shrink to the minimum
	// size (default gaia.DefaultMaxGMag).
	FaintLimit float64

	// FrameDelay is the GIF delay between frames (default 1s).
	FrameDelay time.Duration
	// Workers bounds parallel frame rasterising (default NumCPU).
	Workers int
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 800
	}
	if o.Height <= 0 {
		o.Height = 800
	}
	if o.FaintLimit == 0 {
		o.FaintLimit = gaia.DefaultMaxGMag
	}
	if o.FrameDelay <= 0 {
		o.FrameDelay = time.Second
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o
}

// Point is one star to draw.
type Point struct {
	SourceID int64
	RA       float64
	Dec      float64
	GMag     float64
	HasGMag  bool
}

// PointsFromSources converts catalog rows to points.
func PointsFromSources(sources []gaia.Source) []Point {
	pts := make([]Point, len(sources))
	for i, s := range sources {
		pts[i] = Point{SourceID: s.SourceID, RA: s.RA, Dec: s.Dec}
		if s.GMag != nil {
			pts[i].GMag, pts[i].HasGMag = *s.GMag, true
		}
	}
	return pts
}

// PointsFromFrame converts one propagated frame to points.
func PointsFromFrame(f *propagation.Frame) []Point {
	pts := make([]Point, len(f.Stars))
	for i, s := range f.Stars {
		pts[i] = Point{SourceID: s.SourceID, RA: s.RA, Dec: s.Dec, GMag: s.GMag, HasGMag: true}
	}
	return pts
}

// x returns the plotted abscissa for p.
func (o Options) x(p Point) float64 {
	if o.UnwrapRA {
		return transform.UnwrapRA(p.RA, o.CenterRA)
	}
	return p.RA
}

// markerRadiusPx follows the (10-G)*2 pixel diameter rule, floored at 2px.
func (o Options) markerRadiusPx(p Point) float64 {
	g := o.FaintLimit
	if p.HasGMag {
		g = p.GMag
	}
	d := (o.FaintLimit - g) * 2
	if d < 2 {
		d = 2
	}
	return d / 2
}

// magRange is the G magnitude span the gray scale is stretched over.
type magRange struct {
	min, max float64
}

func magnitudeRange(sets ...[]Point) magRange {
	r := magRange{min: math.Inf(1), max: math.Inf(-1)}
	for _, pts := range sets {
		for _, p := range pts {
			if !p.HasGMag {
				continue
			}
			r.min = math.Min(r.min, p.GMag)
			r.max = math.Max(r.max, p.GMag)
		}
	}
	if math.IsInf(r.min, 1) {
		return magRange{min: 0, max: 1}
	}
	return r
}

// gray maps bright stars to white and faint stars to dark gray, a reversed
// gray scale that stays visible on the dark background.
func (r magRange) gray(p Point, alpha uint8) color.NRGBA {
	frac := 1.0
	if p.HasGMag && r.max > r.min {
		frac = (p.GMag - r.min) / (r.max - r.min)
	} else if p.HasGMag {
		frac = 0
	}
	v := uint8(math.Round(255 - frac*(255-64)))
	return color.NRGBA{R: v, G: v, B: v, A: alpha}
}

// Bounds are axis limits in degrees.
type Bounds struct {
	MinX, MaxX, MinY, MaxY float64
}

// boundsFor returns square limits covering every point of every set, padded
// by 5%, so RA and Dec degrees have equal length on a square canvas.
func (o Options) boundsFor(sets ...[]Point) Bounds {
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, pts := range sets {
		for _, p := range pts {
			x := o.x(p)
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, p.Dec), math.Max(maxY, p.Dec)
		}
	}
	if math.IsInf(minX, 1) {
		c := o.CenterRA
		return Bounds{MinX: c - 1, MaxX: c + 1, MinY: -1, MaxY: 1}
	}

	span := math.Max(maxX-minX, maxY-minY)
	if span == 0 {
		span = 1
	}
	half := span * 1.05 / 2
	cx, cy := (minX+maxX)/2, (minY+maxY)/2
	return Bounds{MinX: cx - half, MaxX: cx + half, MinY: cy - half, MaxY: cy + half}
}

// FrameLabel is the caption of an animation frame.
func FrameLabel(tMyr float64) string {
	return fmt.Sprintf("%s Myr from now", formatMyr(tMyr))
}

func formatMyr(t float64) string {
	return strconv.FormatFloat(math.Round(t*1000)/1000, 'f', -1, 64)
}
