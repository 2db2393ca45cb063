package render

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/star/gaiaviz/internal/metrics"
	"github.com/star/gaiaviz/internal/propagation"
)

// PlotlyURL is the plotly.js build the HTML animation loads.
const PlotlyURL = "https://cdn.plot.ly/plotly-2.35.2.min.js"

//go:embed templates/animation.html.tmpl
var templateFS embed.FS

var animationTemplate = template.Must(template.ParseFS(templateFS, "templates/animation.html.tmpl"))

type htmlFrame struct {
	T      float64   `json:"t"`
	TLabel string    `json:"t_label"`
	Label  string    `json:"label"`
	IDs    []string  `json:"ids"`
	RA     []float64 `json:"ra"`
	Dec    []float64 `json:"dec"`
	G      []float64 `json:"g"`
	Size   []float64 `json:"size"`
}

type htmlBounds struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
}

type htmlAnimation struct {
	Title   string      `json:"title"`
	Width   int         `json:"width"`
	Height  int         `json:"height"`
	DelayMs int64       `json:"delay_ms"`
	GMin    float64     `json:"g_min"`
	GMax    float64     `json:"g_max"`
	Bounds  htmlBounds  `json:"bounds"`
	Frames  []htmlFrame `json:"frames"`
}

type htmlPage struct {
	Title     string
	Width     int
	PlotlyURL string
	Animation htmlAnimation
}

// WriteHTML writes a self-contained page that animates frames with
// plotly.js, with a time slider and a Replay button.
func WriteHTML(ctx context.Context, w io.Writer, frames []*propagation.Frame, opts Options) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to animate")
	}
	opts = opts.withDefaults()

	_, span := tracer.Start(ctx, "render.html")
	span.SetAttributes(attribute.Int("frames", len(frames)))
	defer span.End()
	start := time.Now()

	sets, bounds, mags := framePlots(frames, opts)
	title := opts.Title
	if title == "" {
		title = "Gaia DR3 stellar motion"
	}

	anim := htmlAnimation{
		Title:   title,
		Width:   opts.Width,
		Height:  opts.Height,
		DelayMs: opts.FrameDelay.Milliseconds(),
		GMin:    mags.min,
		GMax:    mags.max,
		Bounds:  htmlBounds{MinX: bounds.MinX, MaxX: bounds.MaxX, MinY: bounds.MinY, MaxY: bounds.MaxY},
		Frames:  make([]htmlFrame, len(frames)),
	}
	for i, f := range frames {
		pts := sets[i]
		hf := htmlFrame{
			T:      f.TimeMyr,
			TLabel: formatMyr(f.TimeMyr),
			Label:  FrameLabel(f.TimeMyr),
			IDs:    make([]string, len(pts)),
			RA:     make([]float64, len(pts)),
			Dec:    make([]float64, len(pts)),
			G:      make([]float64, len(pts)),
			Size:   make([]float64, len(pts)),
		}
		for j, p := range pts {
			// Source ids exceed 2^53, so they travel as strings.
			hf.IDs[j] = strconv.FormatInt(p.SourceID, 10)
			hf.RA[j] = opts.x(p)
			hf.Dec[j] = p.Dec
			hf.G[j] = p.GMag
			hf.Size[j] = 2 * opts.markerRadiusPx(p)
		}
		anim.Frames[i] = hf
	}

	page := htmlPage{Title: title, Width: opts.Width, PlotlyURL: PlotlyURL, Animation: anim}
	if err := animationTemplate.Execute(w, page); err != nil {
		span.RecordError(err)
		return fmt.Errorf("executing animation template: %w", err)
	}

	metrics.ObserveRender("animation", FormatHTML, time.Since(start))
	return nil
}
