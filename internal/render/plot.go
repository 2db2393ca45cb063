package render

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	_ "gonum.org/v1/plot/vg/vgpdf" // registers the pdf format
	_ "gonum.org/v1/plot/vg/vgsvg" // registers the svg format

	"github.com/star/gaiaviz/internal/metrics"
)

var tracer = otel.Tracer("github.com/star/gaiaviz/internal/render")

// WritePlot renders the static scatter of pts to w as png, svg or pdf.
func WritePlot(ctx context.Context, w io.Writer, pts []Point, format string, opts Options) error {
	format, err := NormalizeFormat(format, PlotFormats)
	if err != nil {
		return err
	}
	opts = opts.withDefaults()

	_, span := tracer.Start(ctx, "render.plot")
	span.SetAttributes(attribute.String("format", format), attribute.Int("points", len(pts)))
	defer span.End()
	start := time.Now()

	p, err := Scatter(pts, opts)
	if err != nil {
		span.RecordError(err)
		return err
	}

	width, height := canvasSize(opts)
	wt, err := p.WriterTo(width, height, format)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("preparing %s canvas: %w", format, err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		span.RecordError(err)
		return fmt.Errorf("writing %s: %w", format, err)
	}

	metrics.ObserveRender("plot", format, time.Since(start))
	return nil
}
