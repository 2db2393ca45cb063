package render

import (
	"context"
	"fmt"
	"image"
	"image/color/palette"
	imagedraw "image/draw"
	"image/gif"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/star/gaiaviz/internal/metrics"
	"github.com/star/gaiaviz/internal/propagation"
)

// framePlots converts frames to points and shared axis/colour scales.
func framePlots(frames []*propagation.Frame, opts Options) ([][]Point, Bounds, magRange) {
	sets := make([][]Point, len(frames))
	for i, f := range frames {
		sets[i] = PointsFromFrame(f)
	}
	return sets, opts.boundsFor(sets...), magnitudeRange(sets...)
}

// WriteGIF renders one image per frame, in parallel, and encodes them as a
// looping animated GIF.
func WriteGIF(ctx context.Context, w io.Writer, frames []*propagation.Frame, opts Options) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to animate")
	}
	opts = opts.withDefaults()

	ctx, span := tracer.Start(ctx, "render.gif")
	span.SetAttributes(attribute.Int("frames", len(frames)))
	defer span.End()
	start := time.Now()

	sets, bounds, mags := framePlots(frames, opts)
	width, height := canvasSize(opts)
	images := make([]*image.Paletted, len(frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			title := FrameLabel(frames[i].TimeMyr)
			if opts.Title != "" {
				title = opts.Title + ": " + title
			}
			p, err := newScatter(sets[i], title, bounds, mags, frameAlpha, opts)
			if err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}

			c := vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(vgimg.DefaultDPI))
			p.Draw(draw.New(c))

			src := c.Image()
			dst := image.NewPaletted(src.Bounds(), palette.Plan9)
			imagedraw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, imagedraw.Src)
			images[i] = dst
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("rasterising frames: %w", err)
	}

	delay := int(opts.FrameDelay / (10 * time.Millisecond))
	anim := &gif.GIF{
		Image:     images,
		Delay:     make([]int, len(images)),
		LoopCount: 0,
	}
	for i := range anim.Delay {
		anim.Delay[i] = delay
	}
	if err := gif.EncodeAll(w, anim); err != nil {
		span.RecordError(err)
		return fmt.Errorf("encoding gif: %w", err)
	}

	metrics.ObserveRender("animation", FormatGIF, time.Since(start))
	return nil
}
