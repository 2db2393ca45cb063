package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/gaiaviz/internal/propagation"
	"github.com/star/gaiaviz/internal/render"
	"github.com/star/gaiaviz/skypatch"
)

func newAnimateCmd(a *app) *cobra.Command {
	var (
		patch  patchFlags
		out    string
		format string
		size   int
		title  string
		steps  []float64
		delay  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "animate",
		Short: "Animate the stars of a patch over the next million years",
		Long: `Propagate every star with full astrometry (parallax, proper motion and
radial velocity) forward in time and draw one frame per time step, labelled
"<t> Myr from now".

Motion models (--model):
  linear  straight-line space motion
  halo    orbit integration in a logarithmic Galactic halo potential

The format comes from --format, else the --out extension: gif or html. The
html output is a self-contained page with a play button and time slider.

Examples:
  gaiaviz animate --ra 56.75 --dec 24.12 --radius 2 --out pleiades.gif
  gaiaviz animate --ra 56.75 --dec 24.12 --model halo --steps 0,0.5,1,1.5,2 --out pleiades.html
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := render.NormalizeFormat(outputFormat(format, out, render.FormatGIF), render.AnimationFormats)
			if err != nil {
				return formatErr(err)
			}
			if out == "" {
				out = "patch." + format
			}
			if len(steps) == 0 {
				return usageErr(fmt.Errorf("--steps must list at least one time"))
			}

			p, err := a.newPatch(cmd, &patch,
				skypatch.WithImageSize(size, size),
				skypatch.WithTitle(title),
				skypatch.WithTimeSteps(steps),
				skypatch.WithFrameDelay(delay),
			)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, func(w io.Writer) error {
				return p.AnimateStarPositions(cmd.Context(), w, format)
			})
		},
	}
	patch.register(cmd)
	f := cmd.Flags()
	f.StringVarP(&out, "out", "o", "", `Output file, "-" for stdout (default "patch.<format>")`)
	f.StringVar(&format, "format", "", "Output format: gif or html")
	f.IntVar(&size, "size", 800, "Image width and height in pixels")
	f.StringVar(&title, "title", "", "Animation title")
	f.Float64SliceVar(&steps, "steps", propagation.DefaultSteps, "Time steps in Myr from now")
	f.DurationVar(&delay, "delay", time.Second, "Time each frame is shown")
	return cmd
}
