package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/star/gaiaviz/internal/render"
	"github.com/star/gaiaviz/skypatch"
)

func newPlotCmd(a *app) *cobra.Command {
	var (
		patch  patchFlags
		out    string
		format string
		size   int
		title  string
	)

	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Plot the current positions of the stars in a patch",
		Long: `Draw the stars of a patch as an RA/Dec scatter. Brighter stars get larger,
whiter markers on a dark background.

The format comes from --format, else the --out extension: png, svg or pdf.

Examples:
  gaiaviz plot --ra 56.75 --dec 24.12 --radius 2 --out pleiades.png
  gaiaviz plot --ra 83.82 --dec -5.39 --format svg --out - > orion.svg
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := render.NormalizeFormat(outputFormat(format, out, render.FormatPNG), render.PlotFormats)
			if err != nil {
				return formatErr(err)
			}
			if out == "" {
				out = "patch." + format
			}

			p, err := a.newPatch(cmd, &patch, skypatch.WithImageSize(size, size), skypatch.WithTitle(title))
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, func(w io.Writer) error {
				return p.PlotStarPositionsContext(cmd.Context(), w, format)
			})
		},
	}
	patch.register(cmd)
	f := cmd.Flags()
	f.StringVarP(&out, "out", "o", "", `Output file, "-" for stdout (default "patch.<format>")`)
	f.StringVar(&format, "format", "", "Output format: png, svg or pdf")
	f.IntVar(&size, "size", 800, "Image width and height in pixels")
	f.StringVar(&title, "title", "", "Plot title")
	return cmd
}
