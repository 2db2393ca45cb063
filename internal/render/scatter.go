package render

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Dark theme colours.
var (
	backgroundColor = color.NRGBA{R: 17, G: 17, B: 17, A: 255}
	foregroundColor = color.NRGBA{R: 242, G: 245, B: 250, A: 255}
	axisColor       = color.NRGBA{R: 80, G: 94, B: 110, A: 255}
)

// Marker opacity for the static plot and for animation frames.
const (
	plotAlpha  = 153
	frameAlpha = 255
)

// pxToLength converts pixels at the raster DPI to plot units.
func pxToLength(px float64) vg.Length {
	return vg.Length(px) * vg.Inch / vg.Length(vgimg.DefaultDPI)
}

// canvasSize returns the plot size for opts in plot units.
func canvasSize(opts Options) (vg.Length, vg.Length) {
	return pxToLength(float64(opts.Width)), pxToLength(float64(opts.Height))
}

func applyTheme(p *plot.Plot) {
	p.BackgroundColor = backgroundColor
	p.Title.TextStyle.Color = foregroundColor
	p.Title.Padding = vg.Points(8)
	for _, ax := range []*plot.Axis{&p.X, &p.Y} {
		ax.Color = axisColor
		ax.Label.TextStyle.Color = foregroundColor
		ax.Tick.Label.Color = foregroundColor
		ax.Tick.Color = axisColor
	}
}

// Scatter builds the static RA/Dec plot of pts. Marker size and gray level
// follow G magnitude.
func Scatter(pts []Point, opts Options) (*plot.Plot, error) {
	opts = opts.withDefaults()
	title := opts.Title
	if title == "" {
		title = fmt.Sprintf("Gaia DR3: %d stars", len(pts))
	}
	return newScatter(pts, title, opts.boundsFor(pts), magnitudeRange(pts), plotAlpha, opts)
}

// newScatter draws pts within bounds with the gray scale stretched over mags.
func newScatter(pts []Point, title string, bounds Bounds, mags magRange, alpha uint8, opts Options) (*plot.Plot, error) {
	p := plot.New()
	applyTheme(p)
	p.Title.Text = title
	p.X.Label.Text = "RA (deg)"
	p.Y.Label.Text = "Dec (deg)"

	xys := make(plotter.XYs, len(pts))
	for i, pt := range pts {
		xys[i].X = opts.x(pt)
		xys[i].Y = pt.Dec
	}

	s, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, fmt.Errorf("building scatter: %w", err)
	}
	s.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{
			Color:  mags.gray(pts[i], alpha),
			Radius: pxToLength(opts.markerRadiusPx(pts[i])),
			Shape:  draw.CircleGlyph{},
		}
	}
	p.Add(s)

	// Fixed limits keep every frame of an animation on the same axes.
	p.X.Min, p.X.Max = bounds.MinX, bounds.MaxX
	p.Y.Min, p.Y.Max = bounds.MinY, bounds.MaxY
	return p, nil
}
