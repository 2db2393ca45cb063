package render

import (
	"bytes"
	"context"
	"image/gif"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/gaiaviz/gaia"
	"github.com/star/gaiaviz/internal/propagation"
)

func testPoints() []Point {
	return PointsFromSources([]gaia.Source{
		{SourceID: 1, RA: 56.75, Dec: 24.12, GMag: gaia.Float(2.9)},
		{SourceID: 2, RA: 57.29, Dec: 24.05, GMag: gaia.Float(3.6)},
		{SourceID: 3, RA: 56.22, Dec: 24.11, GMag: gaia.Float(3.7)},
		{SourceID: 4, RA: 56.45, Dec: 24.37},
	})
}

func testFrames() []*propagation.Frame {
	frames := make([]*propagation.Frame, len(propagation.DefaultSteps))
	for i, t := range propagation.DefaultSteps {
		frames[i] = &propagation.Frame{
			TimeMyr: t,
			Stars: []propagation.StarPosition{
				{SourceID: 66526127137440128, RA: 56.87 + t, Dec: 24.1 - t, GMag: 2.87},
				{SourceID: 2, RA: 57.1, Dec: 23.9 + t/2, GMag: 6.1},
			},
		}
	}
	return frames
}

func TestNormalizeFormat(t *testing.T) {
	f, err := NormalizeFormat(" .PNG ", PlotFormats)
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, f)

	_, err = NormalizeFormat("gif", PlotFormats)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = NormalizeFormat("mp4", AnimationFormats)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFrameLabel(t *testing.T) {
	assert.Equal(t, "0 Myr from now", FrameLabel(0))
	assert.Equal(t, "0.2 Myr from now", FrameLabel(0.2))
	assert.Equal(t, "0.6 Myr from now", FrameLabel(0.6000000000000001))
	assert.Equal(t, "1 Myr from now", FrameLabel(1))
}

func TestMarkerSize(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.InDelta(t, 7.0, opts.markerRadiusPx(Point{GMag: 3, HasGMag: true}), 1e-12)
	// Faint and missing magnitudes fall back to the minimum marker.
	assert.InDelta(t, 1.0, opts.markerRadiusPx(Point{GMag: 11, HasGMag: true}), 1e-12)
	assert.InDelta(t, 1.0, opts.markerRadiusPx(Point{}), 1e-12)
}

func TestGrayScale(t *testing.T) {
	mags := magRange{min: 2, max: 8}
	bright := mags.gray(Point{GMag: 2, HasGMag: true}, 255)
	faint := mags.gray(Point{GMag: 8, HasGMag: true}, 255)
	assert.Equal(t, uint8(255), bright.R)
	assert.Equal(t, uint8(64), faint.R)
	assert.Greater(t, bright.R, faint.R)
}

func TestBoundsSquare(t *testing.T) {
	opts := Options{}.withDefaults()
	b := opts.boundsFor(testPoints())
	assert.InDelta(t, b.MaxX-b.MinX, b.MaxY-b.MinY, 1e-12)
	for _, p := range testPoints() {
		assert.True(t, p.RA > b.MinX && p.RA < b.MaxX, "ra %v outside %v", p.RA, b)
		assert.True(t, p.Dec > b.MinY && p.Dec < b.MaxY, "dec %v outside %v", p.Dec, b)
	}
}

func TestBoundsUnwrapRA(t *testing.T) {
	opts := Options{CenterRA: 0, UnwrapRA: true}.withDefaults()
	pts := []Point{{RA: 359.5, Dec: 0}, {RA: 0.5, Dec: 0}}
	b := opts.boundsFor(pts)
	assert.Less(t, b.MaxX-b.MinX, 2.0, "patch across RA=0 should stay compact")
	assert.InDelta(t, 0, (b.MinX+b.MaxX)/2, 1e-9)
}

func TestWritePlotPNG(t *testing.T) {
	var buf bytes.Buffer
	err := WritePlot(context.Background(), &buf, testPoints(), "png", Options{})
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.Width)
	assert.Equal(t, 800, cfg.Height)
}

func TestWritePlotSVGAndPDF(t *testing.T) {
	var svg bytes.Buffer
	require.NoError(t, WritePlot(context.Background(), &svg, testPoints(), "svg", Options{}))
	assert.Contains(t, svg.String(), "<svg")

	var pdf bytes.Buffer
	require.NoError(t, WritePlot(context.Background(), &pdf, testPoints(), "pdf", Options{}))
	assert.True(t, bytes.HasPrefix(pdf.Bytes(), []byte("%PDF")))
}

func TestWritePlotDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, WritePlot(context.Background(), &a, testPoints(), "png", Options{}))
	require.NoError(t, WritePlot(context.Background(), &b, testPoints(), "png", Options{}))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestWritePlotUnsupported(t *testing.T) {
	err := WritePlot(context.Background(), &bytes.Buffer{}, testPoints(), "bmp", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestWritePlotEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePlot(context.Background(), &buf, nil, "png", Options{}))
	assert.NotZero(t, buf.Len())
}

func TestWriteGIF(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{Width: 200, Height: 200, FrameDelay: 500 * time.Millisecond, Workers: 2}
	require.NoError(t, WriteGIF(context.Background(), &buf, testFrames(), opts))

	anim, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	assert.Len(t, anim.Image, len(propagation.DefaultSteps), "one image per time step")
	for _, d := range anim.Delay {
		assert.Equal(t, 50, d)
	}
	assert.Equal(t, 200, anim.Config.Width)
}

func TestWriteGIFCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WriteGIF(ctx, &bytes.Buffer{}, testFrames(), Options{Width: 100, Height: 100})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteGIFNoFrames(t *testing.T) {
	assert.Error(t, WriteGIF(context.Background(), &bytes.Buffer{}, nil, Options{}))
	assert.Error(t, WriteHTML(context.Background(), &bytes.Buffer{}, nil, Options{}))
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHTML(context.Background(), &buf, testFrames(), Options{Title: "Pleiades"}))

	page := buf.String()
	assert.True(t, strings.HasPrefix(page, "<!DOCTYPE html>"))
	assert.Contains(t, page, PlotlyURL)
	assert.Contains(t, page, "Replay")
	assert.Contains(t, page, " Myr from now")
	assert.Contains(t, page, "0.4 Myr from now")
	// Large source ids must survive as exact strings.
	assert.Contains(t, page, `"66526127137440128"`)
	assert.Contains(t, page, "<title>Pleiades</title>")
}
