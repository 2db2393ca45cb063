package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/star/gaiaviz/gaia"
	"github.com/star/gaiaviz/internal/cache"
	"github.com/star/gaiaviz/internal/config"
	"github.com/star/gaiaviz/skypatch"
)

// patchFlags select the cone every patch command works on.
type patchFlags struct {
	ra, dec, radius float64
	limit           int
	gmax            float64
	allowMissingRV  bool
}

func (p *patchFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64Var(&p.ra, "ra", 0, "Patch center right ascension in degrees [0, 360)")
	f.Float64Var(&p.dec, "dec", 0, "Patch center declination in degrees [-90, 90]")
	f.Float64Var(&p.radius, "radius", skypatch.DefaultRadius, "Patch radius in degrees [1, 90]")
	f.IntVar(&p.limit, "limit", 0, "Keep only the N brightest stars (0 keeps all)")
	f.Float64Var(&p.gmax, "gmax", gaia.DefaultMaxGMag, "Faint limit in G magnitude")
	f.BoolVar(&p.allowMissingRV, "allow-missing-rv", false, "Also return stars without a radial velocity (plotted, not animated)")
}

func (p *patchFlags) validate(cmd *cobra.Command) error {
	for _, name := range []string{"ra", "dec"} {
		if !cmd.Flags().Changed(name) {
			return usageErr(fmt.Errorf("required flag --%s not set", name))
		}
	}
	if err := skypatch.ValidateCone(p.ra, p.dec, p.radius); err != nil {
		return usageErr(err)
	}
	if p.limit < 0 {
		return usageErr(fmt.Errorf("--limit must be >= 0, got %d", p.limit))
	}
	if p.gmax <= 0 {
		return usageErr(fmt.Errorf("--gmax must be > 0, got %g", p.gmax))
	}
	return nil
}

// catalog is the TAP client with whichever result cache is configured.
type catalog struct {
	client *gaia.Client
	disk   *cache.Disk
	redis  *cache.Redis
}

func (c *catalog) Close() {
	if c.redis != nil {
		c.redis.Close()
	}
}

// newCatalog builds the TAP client. An unreachable Redis degrades to no
// result cache rather than failing the command.
func (a *app) newCatalog(ctx context.Context) *catalog {
	c := &catalog{}
	opts := []gaia.ClientOption{
		gaia.WithLogger(a.logger),
		gaia.WithTimeout(a.cfg.TAPTimeout),
	}

	switch a.cfg.CacheBackend {
	case config.CacheDisk:
		c.disk = cache.NewDisk(a.cfg.CacheDir, a.cfg.CacheMaxFiles, a.cfg.CacheTTL)
		opts = append(opts, gaia.WithCache(c.disk))
	case config.CacheRedis:
		r, err := cache.DialRedis(ctx, a.cfg.RedisAddr, a.cfg.CacheTTL)
		if err != nil {
			a.logger.Warn("redis unavailable, continuing without result cache", "addr", a.cfg.RedisAddr, "error", err)
			break
		}
		c.redis = r
		opts = append(opts, gaia.WithCache(r))
	}

	c.client = gaia.NewClient(a.cfg.TAPURL, opts...)
	return c
}

// newPatch validates the flags and runs the cone search.
func (a *app) newPatch(cmd *cobra.Command, p *patchFlags, extra ...skypatch.Option) (*skypatch.SkyPatch, error) {
	if err := p.validate(cmd); err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	cat := a.newCatalog(ctx)
	defer cat.Close()

	opts := []skypatch.Option{
		skypatch.WithSearcher(cat.client),
		skypatch.WithLogger(a.logger),
		skypatch.WithNumSources(p.limit),
		skypatch.WithMagnitudeLimit(p.gmax),
		skypatch.WithMotionModel(a.cfg.MotionModel),
		skypatch.WithWorkers(a.cfg.PropWorkers),
	}
	if p.allowMissingRV {
		opts = append(opts, skypatch.WithMissingRadialVelocity())
	}
	return skypatch.New(ctx, p.ra, p.dec, p.radius, append(opts, extra...)...)
}

// outputFormat picks the format from --format, then the --out extension,
// then def.
func outputFormat(format, out, def string) string {
	if format != "" {
		return format
	}
	if ext := strings.TrimPrefix(filepath.Ext(out), "."); ext != "" {
		return ext
	}
	return def
}

// writeOutput renders into memory first so a failed render never leaves a
// truncated file behind. "-" writes to stdout.
func writeOutput(cmd *cobra.Command, out string, render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	if out == "-" {
		_, err := buf.WriteTo(cmd.OutOrStdout())
		return err
	}
	if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", out, buf.Len())
	return nil
}

// formatErr turns an unsupported format into a usage error.
func formatErr(err error) error {
	var ue *usageError
	if err == nil || errors.As(err, &ue) {
		return err
	}
	return usageErr(err)
}
