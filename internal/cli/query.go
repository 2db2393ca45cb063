package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/star/gaiaviz/gaia"
	"github.com/star/gaiaviz/skypatch"
)

func newQueryCmd(a *app) *cobra.Command {
	var (
		patch  patchFlags
		asJSON bool
		adql   bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List the stars in a patch of sky",
		Long: `Run a cone search against gaiadr3.gaia_source and list the stars found,
brightest first.

Only stars with a positive parallax, a radial velocity (unless
--allow-missing-rv) and G brighter than --gmax are returned.

Examples:
  gaiaviz query --ra 56.75 --dec 24.12 --radius 2
  gaiaviz query --ra 56.75 --dec 24.12 --limit 20 --json
  gaiaviz query --ra 56.75 --dec 24.12 --adql
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if adql {
				if err := patch.validate(cmd); err != nil {
					return err
				}
				q := gaia.ConeQuery{
					RA:             patch.ra,
					Dec:            patch.dec,
					Radius:         patch.radius,
					Limit:          patch.limit,
					MaxGMag:        patch.gmax,
					AllowMissingRV: patch.allowMissingRV,
				}
				fmt.Fprintln(cmd.OutOrStdout(), q.ADQL())
				return nil
			}

			p, err := a.newPatch(cmd, &patch)
			if err != nil {
				return err
			}
			if asJSON {
				enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(p.Dataset())
			}
			printSources(cmd.OutOrStdout(), p)
			return nil
		},
	}
	patch.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result set as JSON")
	cmd.Flags().BoolVar(&adql, "adql", false, "Print the ADQL query without running it")
	return cmd
}

func optFloat(v *float64, prec int) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

const sourceRowFormat = "%-20s %10s %10s %9s %9s %8s %8s %6s\n"

func printSources(w io.Writer, p *skypatch.SkyPatch) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, sourceRowFormat, "SOURCE_ID", "RA", "DEC", "PMRA", "PMDEC", "PLX", "RV", "G")
	for _, s := range p.Sources() {
		fmt.Fprintf(w, sourceRowFormat,
			strconv.FormatInt(s.SourceID, 10),
			strconv.FormatFloat(s.RA, 'f', 5, 64),
			strconv.FormatFloat(s.Dec, 'f', 5, 64),
			optFloat(s.PMRA, 2),
			optFloat(s.PMDec, 2),
			optFloat(s.Parallax, 3),
			optFloat(s.RadialVelocity, 2),
			optFloat(s.GMag, 2),
		)
	}
	color.New(color.FgCyan).Fprintf(w, "%d stars within %g deg of (%g, %g)\n", p.Len(), p.Radius(), p.RA(), p.Dec())
}
