// Command diag loads the newest cached cone search and exercises the
// propagation, crossing and frame-cache paths on it without touching the
// network.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/star/gaiaviz/gaia"
	"github.com/star/gaiaviz/internal/cache"
	"github.com/star/gaiaviz/internal/config"
	"github.com/star/gaiaviz/internal/crossings"
	"github.com/star/gaiaviz/internal/propagation"
	"github.com/star/gaiaviz/internal/transform"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	cfg := config.LoadEnv(logger)
	if len(os.Args) > 1 {
		cfg.CacheDir = os.Args[1]
	}

	disk := cache.NewDisk(cfg.CacheDir, cfg.CacheMaxFiles, 0)
	ds, ts, err := disk.LoadNewest()
	if err != nil {
		fmt.Println("ERROR reading cache:", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d sources from %s (cached %s)\n", len(ds.Sources), disk.Dir(), ts.Format(time.RFC3339))
	if len(ds.Sources) == 0 {
		return
	}

	// The cache does not keep the cone, so recover it from the sources.
	var sum transform.Vec3
	for _, s := range ds.Sources {
		sum = sum.Add(transform.UnitVector(s.RA, s.Dec))
	}
	ra, dec := transform.Direction(sum)
	radius := 0.0
	for _, s := range ds.Sources {
		radius = math.Max(radius, transform.AngularSeparation(ra, dec, s.RA, s.Dec))
	}
	radius = math.Max(radius, 0.1)
	fmt.Printf("Patch center (%.4f, %.4f), radius %.4f deg\n", ra, dec, radius)

	catalogStates, skipped := propagation.StatesFromSources(ds.Sources)
	fmt.Printf("Animatable: %d, skipped: %d\n", len(catalogStates), skipped)

	offset := 0.0
	if !ds.FetchedAt.IsZero() {
		offset = transform.MyrSince(transform.GaiaDR3Epoch, ds.FetchedAt)
	}
	fmt.Printf("Catalog epoch J%.1f, frames from J%.3f\n",
		transform.JulianEpoch(transform.GaiaDR3Epoch), transform.JulianEpoch(transform.GaiaDR3Epoch)+offset*1e6)

	frames := cache.NewFrameCache(cache.FrameConfig{}, logger)
	ctx := context.Background()
	for _, model := range []string{propagation.ModelLinear, propagation.ModelHalo} {
		prop, err := propagation.NewPropagator(propagation.PropConfig{Model: model}, logger)
		if err != nil {
			fmt.Println("ERROR:", err)
			os.Exit(1)
		}

		states, failed := propagation.Rebase(prop.Model(), catalogStates, offset)
		if failed > 0 {
			fmt.Printf("  %d stars failed to reach the fetch epoch\n", failed)
		}

		start := time.Now()
		fs, err := prop.GenerateFrames(ctx, states)
		if err != nil {
			fmt.Println("ERROR propagating:", err)
			os.Exit(1)
		}
		key := cache.FrameKey(gaia.QueryKey(ds.Query), ds.FetchedAt, model, prop.Config().Steps)
		frames.Put(key, fs)
		fmt.Printf("\n[%s] %d frames in %v\n", model, len(fs), time.Since(start).Round(time.Millisecond))
		if cached, ok := frames.Get(key); !ok || len(cached) != len(fs) {
			fmt.Println("ERROR: frame cache did not return the frames just stored under", key)
			os.Exit(1)
		}

		subset := states[:min(5, len(states))]
		results := crossings.Predict(ctx, crossings.Request{
			CenterRA:   ra,
			CenterDec:  dec,
			Radius:     radius,
			Model:      prop.Model(),
			States:     subset,
			HorizonMyr: 5,
		})
		for _, c := range results {
			if c.Error != "" {
				fmt.Printf("  source %d: ERROR %s\n", c.SourceID, c.Error)
				continue
			}
			fmt.Printf("  source %d: %d events, closest %.4f deg at %.3f Myr\n",
				c.SourceID, len(c.Events), c.ClosestSeparation, c.ClosestTimeMyr)
			for j, e := range c.Events {
				fmt.Printf("    event %d: %s at %.4f Myr (%.4f, %.4f)\n", j, e.Kind, e.TimeMyr, e.RA, e.Dec)
			}
		}
	}

	fmt.Printf("\nFrame cache: %s\n", frames.Stats())
}
