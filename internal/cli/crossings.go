package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/star/gaiaviz/skypatch"
)

func newCrossingsCmd(a *app) *cobra.Command {
	var (
		patch   patchFlags
		horizon float64
	)

	cmd := &cobra.Command{
		Use:   "crossings",
		Short: "Predict when stars leave or enter the patch",
		Long: `Propagate each star over --horizon Myr and report the times it crosses
the edge of the patch, with its closest approach to the patch center.

Examples:
  gaiaviz crossings --ra 56.75 --dec 24.12 --radius 2 --horizon 5
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if horizon <= 0 {
				return usageErr(fmt.Errorf("--horizon must be > 0, got %g", horizon))
			}
			p, err := a.newPatch(cmd, &patch)
			if err != nil {
				return err
			}
			results := p.Crossings(cmd.Context(), horizon)
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			printCrossings(cmd.OutOrStdout(), results, horizon)
			return nil
		},
	}
	patch.register(cmd)
	cmd.Flags().Float64Var(&horizon, "horizon", 1, "Prediction horizon in Myr")
	return cmd
}

const crossingRowFormat = "%-20s %-7s %-7s %10s %10s  %s\n"

func printCrossings(w io.Writer, results []skypatch.Crossing, horizon float64) {
	bold := color.New(color.Bold)
	warn := color.New(color.FgYellow)

	bold.Fprintf(w, crossingRowFormat, "SOURCE_ID", "START", "END", "MIN_SEP", "AT_MYR", "EVENTS")
	leaving := 0
	for _, c := range results {
		id := strconv.FormatInt(c.SourceID, 10)
		if c.Error != "" {
			warn.Fprintf(w, "%-20s error: %s\n", id, c.Error)
			continue
		}
		events := ""
		for i, e := range c.Events {
			if i > 0 {
				events += ", "
			}
			events += fmt.Sprintf("%s@%.4f", e.Kind, e.TimeMyr)
		}
		if events == "" {
			events = "-"
		}
		fmt.Fprintf(w, crossingRowFormat, id,
			insideLabel(c.InsideAtStart), insideLabel(c.InsideAtEnd),
			strconv.FormatFloat(c.ClosestSeparation, 'f', 4, 64),
			strconv.FormatFloat(c.ClosestTimeMyr, 'f', 4, 64),
			events,
		)
		if c.InsideAtStart && !c.InsideAtEnd {
			leaving++
		}
	}
	color.New(color.FgCyan).Fprintf(w, "%d stars, %d leave the patch within %g Myr\n", len(results), leaving, horizon)
}

func insideLabel(inside bool) string {
	if inside {
		return "inside"
	}
	return "outside"
}
