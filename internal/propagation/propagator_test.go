package propagation

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"testing"

	"github.com/star/gaiaviz/gaia"
	"github.com/star/gaiaviz/internal/transform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// Alcyone (eta Tau), Gaia DR3 values rounded.
func alcyone() gaia.Source {
	return gaia.Source{
		SourceID:       66526127137440128,
		RA:             56.87115,
		Dec:            24.10514,
		PMRA:           gaia.Float(19.9),
		PMDec:          gaia.Float(-44.4),
		Parallax:       gaia.Float(7.29),
		RadialVelocity: gaia.Float(5.7),
		GMag:           gaia.Float(2.87),
	}
}

func mustState(t testing.TB, src gaia.Source) StarState {
	t.Helper()
	st, err := NewStarState(src)
	if err != nil {
		t.Fatalf("NewStarState: %v", err)
	}
	return st
}

// TestLinearZeroTime verifies that t=0 reproduces the catalog position.
func TestLinearZeroTime(t *testing.T) {
	st := mustState(t, alcyone())
	pos, err := LinearModel{}.Propagate(st, 0)
	if err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}
	if math.Abs(pos.RA-56.87115) > 1e-9 || math.Abs(pos.Dec-24.10514) > 1e-9 {
		t.Errorf("position = (%.9f, %.9f), want (56.87115, 24.10514)", pos.RA, pos.Dec)
	}
	if math.Abs(pos.DistanceKpc-1/7.29) > 1e-12 {
		t.Errorf("distance = %.6f kpc, want %.6f", pos.DistanceKpc, 1/7.29)
	}
	if pos.GMag != 2.87 {
		t.Errorf("G mag = %v, want 2.87", pos.GMag)
	}
}

// TestLinearStationaryStar verifies that a star without space motion stays put.
func TestLinearStationaryStar(t *testing.T) {
	src := alcyone()
	src.PMRA, src.PMDec, src.RadialVelocity = gaia.Float(0), gaia.Float(0), gaia.Float(0)
	st := mustState(t, src)

	pos, err := LinearModel{}.Propagate(st, 1.0)
	if err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}
	if sep := transform.AngularSeparation(src.RA, src.Dec, pos.RA, pos.Dec); sep > 1e-9 {
		t.Errorf("stationary star moved by %.3e deg", sep)
	}
}

// TestLinearRadialMotion verifies that pure radial motion changes only the distance.
func TestLinearRadialMotion(t *testing.T) {
	src := alcyone()
	src.PMRA, src.PMDec, src.RadialVelocity = gaia.Float(0), gaia.Float(0), gaia.Float(100)
	st := mustState(t, src)

	pos, err := LinearModel{}.Propagate(st, 1.0)
	if err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}

	wantDist := 1/7.29 + 100*transform.KpcPerMyrPerKms
	if math.Abs(pos.DistanceKpc-wantDist) > 1e-12 {
		t.Errorf("distance = %.9f kpc, want %.9f", pos.DistanceKpc, wantDist)
	}
	if sep := transform.AngularSeparation(src.RA, src.Dec, pos.RA, pos.Dec); sep > 1e-9 {
		t.Errorf("radially moving star changed direction by %.3e deg", sep)
	}
	if math.Abs(pos.VLOS-100) > 1e-9 {
		t.Errorf("vlos = %.6f, want 100", pos.VLOS)
	}
}

// TestLinearProperMotionShortTime verifies that over a short interval the
// displacement matches proper motion times time.
func TestLinearProperMotionShortTime(t *testing.T) {
	st := mustState(t, alcyone())
	const tMyr = 1e-6 // one year

	pos, err := LinearModel{}.Propagate(st, tMyr)
	if err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}

	sepMas := transform.AngularSeparation(56.87115, 24.10514, pos.RA, pos.Dec) * 3.6e6
	wantMas := math.Hypot(19.9, -44.4)
	if math.Abs(sepMas-wantMas) > 0.01 {
		t.Errorf("one-year displacement = %.4f mas, want %.4f", sepMas, wantMas)
	}
}

// TestHaloMatchesLinearShortTimes verifies the two models agree when the
// Galactic potential has had no time to act.
func TestHaloMatchesLinearShortTimes(t *testing.T) {
	st := mustState(t, alcyone())
	const tMyr = 0.01

	lin, err := LinearModel{}.Propagate(st, tMyr)
	if err != nil {
		t.Fatalf("linear: %v", err)
	}
	halo, err := DefaultHaloModel().Propagate(st, tMyr)
	if err != nil {
		t.Fatalf("halo: %v", err)
	}

	if sep := transform.AngularSeparation(lin.RA, lin.Dec, halo.RA, halo.Dec); sep > 1e-4 {
		t.Errorf("halo and linear differ by %.3e deg after %.2f Myr", sep, tMyr)
	}
}

// TestHaloComovingStar verifies that a nearby star sharing the Sun's motion
// only drifts by the small tidal term over 1 Myr.
func TestHaloComovingStar(t *testing.T) {
	src := alcyone()
	src.Parallax = gaia.Float(100) // 10 pc
	src.PMRA, src.PMDec, src.RadialVelocity = gaia.Float(0), gaia.Float(0), gaia.Float(0)
	st := mustState(t, src)

	pos, err := DefaultHaloModel().Propagate(st, 1.0)
	if err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}
	if sep := transform.AngularSeparation(src.RA, src.Dec, pos.RA, pos.Dec); sep > 0.1 {
		t.Errorf("co-moving star drifted %.4f deg in 1 Myr", sep)
	}
}

// TestHaloBackwards verifies negative times integrate back to the start.
func TestHaloBackwards(t *testing.T) {
	st := mustState(t, alcyone())
	m := DefaultHaloModel()

	fwd, err := m.Propagate(st, 0.5)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	back := mustState(t, gaia.Source{
		SourceID:       fwd.SourceID,
		RA:             fwd.RA,
		Dec:            fwd.Dec,
		PMRA:           gaia.Float(fwd.PMRA),
		PMDec:          gaia.Float(fwd.PMDec),
		Parallax:       gaia.Float(1 / fwd.DistanceKpc),
		RadialVelocity: gaia.Float(fwd.VLOS),
	})
	// The Sun has moved too, so returning uses the same model with -t.
	ret, err := m.Propagate(back, -0.5)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	if sep := transform.AngularSeparation(56.87115, 24.10514, ret.RA, ret.Dec); sep > 1e-3 {
		t.Errorf("round trip error %.3e deg", sep)
	}
}

func TestNewModel(t *testing.T) {
	for _, name := range []string{"", ModelLinear, ModelHalo} {
		if _, err := NewModel(name); err != nil {
			t.Errorf("NewModel(%q): %v", name, err)
		}
	}
	_, err := NewModel("nbody")
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("NewModel(nbody) error = %v, want ErrUnknownModel", err)
	}
}

// TestStatesFromSources verifies incomplete sources are counted and skipped.
func TestStatesFromSources(t *testing.T) {
	noRV := alcyone()
	noRV.RadialVelocity = nil
	noPlx := alcyone()
	noPlx.Parallax = gaia.Float(0)

	states, skipped := StatesFromSources([]gaia.Source{alcyone(), noRV, noPlx})
	if len(states) != 1 || skipped != 2 {
		t.Errorf("got %d states, %d skipped; want 1 and 2", len(states), skipped)
	}

	_, err := NewStarState(noRV)
	if !errors.Is(err, ErrIncompleteAstrometry) {
		t.Errorf("error = %v, want ErrIncompleteAstrometry", err)
	}
}

// TestWorkerPoolBatch verifies results come back in input order.
func TestWorkerPoolBatch(t *testing.T) {
	pool := NewWorkerPool(4, testLogger())

	states := make([]StarState, 50)
	for i := range states {
		src := alcyone()
		src.SourceID = int64(i + 1)
		src.RA = float64(i) * 7
		states[i] = mustState(t, src)
	}

	positions, successCount, errorCount := pool.PropagateBatch(context.Background(), LinearModel{}, states, 0.2)
	if errorCount != 0 || successCount != len(states) {
		t.Fatalf("success=%d errors=%d, want %d and 0", successCount, errorCount, len(states))
	}
	for i, p := range positions {
		if p.SourceID != int64(i+1) {
			t.Fatalf("positions[%d].SourceID = %d, want %d", i, p.SourceID, i+1)
		}
	}
}

// TestWorkerPoolCancellation verifies the worker pool respects context cancellation.
func TestWorkerPoolCancellation(t *testing.T) {
	pool := NewWorkerPool(2, testLogger())

	states := make([]StarState, 1000)
	st := mustState(t, alcyone())
	for i := range states {
		states[i] = st
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately.

	positions, _, _ := pool.PropagateBatch(ctx, DefaultHaloModel(), states, 1.0)
	if len(positions) >= len(states) {
		t.Errorf("expected fewer results with cancelled context, got %d/%d", len(positions), len(states))
	}
}

// TestPropagatorGenerateFrames verifies one frame per step, in order.
func TestPropagatorGenerateFrames(t *testing.T) {
	prop, err := NewPropagator(PropConfig{Workers: 2}, testLogger())
	if err != nil {
		t.Fatalf("NewPropagator: %v", err)
	}

	states := []StarState{mustState(t, alcyone())}
	frames, err := prop.GenerateFrames(context.Background(), states)
	if err != nil {
		t.Fatalf("GenerateFrames failed: %v", err)
	}

	if len(frames) != len(DefaultSteps) {
		t.Fatalf("got %d frames, want %d", len(frames), len(DefaultSteps))
	}
	for i, f := range frames {
		if f.TimeMyr != DefaultSteps[i] {
			t.Errorf("frame %d: t = %v, want %v", i, f.TimeMyr, DefaultSteps[i])
		}
		if len(f.Stars) != 1 {
			t.Errorf("frame %d: %d stars, want 1", i, len(f.Stars))
		}
	}
	if prop.Config().Model != ModelLinear {
		t.Errorf("model = %q, want %q", prop.Config().Model, ModelLinear)
	}
}

// TestPropagatorCancelled verifies cancellation stops frame generation.
func TestPropagatorCancelled(t *testing.T) {
	prop, err := NewPropagator(PropConfig{Workers: 1}, testLogger())
	if err != nil {
		t.Fatalf("NewPropagator: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	frames, err := prop.GenerateFrames(ctx, []StarState{mustState(t, alcyone())})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(frames) != 0 {
		t.Errorf("got %d frames after cancellation, want 0", len(frames))
	}
}

// BenchmarkPropagate1000 benchmarks propagating 1000 stars in the halo model.
func BenchmarkPropagate1000(b *testing.B) {
	st := mustState(b, alcyone())
	states := make([]StarState, 1000)
	for i := range states {
		states[i] = st
	}

	prop, err := NewPropagator(PropConfig{Workers: 4, Model: ModelHalo}, testLogger())
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := prop.PropagateToTime(ctx, states, 1.0); err != nil {
			b.Fatal(err)
		}
	}
}

// TestHaloOrbitMatchesPropagate checks that advancing an orbit in pieces
// lands where one Propagate call does.
func TestHaloOrbitMatchesPropagate(t *testing.T) {
	st := mustState(t, alcyone())
	m := DefaultHaloModel()

	o, err := NewOrbit(m, st)
	if err != nil {
		t.Fatalf("NewOrbit: %v", err)
	}
	for i := 0; i < 10; i++ {
		if o, err = o.Advance(0.1); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
	if math.Abs(o.TimeMyr()-1.0) > 1e-12 {
		t.Errorf("orbit time = %v, want 1.0", o.TimeMyr())
	}
	got, err := o.Position()
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	want, err := m.Propagate(st, 1.0)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	if sep := transform.AngularSeparation(want.RA, want.Dec, got.RA, got.Dec); sep > 1e-4 {
		t.Errorf("incremental and direct halo positions differ by %.3e deg", sep)
	}

	// Advancing returns a new orbit; the start is unchanged.
	start, _ := NewOrbit(m, st)
	_, _ = start.Advance(0.5)
	if pos, _ := start.Position(); math.Abs(pos.RA-56.87115) > 1e-9 {
		t.Errorf("Advance modified the receiver: ra = %.9f", pos.RA)
	}
}

func TestLinearOrbit(t *testing.T) {
	st := mustState(t, alcyone())
	o, err := NewOrbit(LinearModel{}, st)
	if err != nil {
		t.Fatalf("NewOrbit: %v", err)
	}
	o, _ = o.Advance(0.3)
	o, _ = o.Advance(0.4)
	got, _ := o.Position()
	want, _ := LinearModel{}.Propagate(st, 0.7)
	if got != want {
		t.Errorf("orbit position %+v, want %+v", got, want)
	}
}

func TestHaloOrbitRejectsBadStep(t *testing.T) {
	m := DefaultHaloModel()
	m.StepMyr = 0
	if _, err := NewOrbit(m, mustState(t, alcyone())); err == nil {
		t.Error("expected an error for a zero integration step")
	}
}

// TestRebase checks that rebased states continue the same trajectory.
func TestRebase(t *testing.T) {
	states := []StarState{mustState(t, alcyone())}

	same, failed := Rebase(LinearModel{}, states, 0)
	if failed != 0 || &same[0] != &states[0] {
		t.Error("a zero offset should return the input unchanged")
	}

	rebased, failed := Rebase(LinearModel{}, states, 0.5)
	if failed != 0 || len(rebased) != 1 {
		t.Fatalf("Rebase: %d states, %d failed", len(rebased), failed)
	}
	if rebased[0].SourceID != states[0].SourceID || rebased[0].GMag != 2.87 {
		t.Errorf("rebased state lost its identity: %+v", rebased[0])
	}

	got, _ := LinearModel{}.Propagate(rebased[0], 0.5)
	want, _ := LinearModel{}.Propagate(states[0], 1.0)
	if sep := transform.AngularSeparation(want.RA, want.Dec, got.RA, got.Dec); sep > 1e-9 {
		t.Errorf("rebased trajectory differs by %.3e deg", sep)
	}
	if math.Abs(got.DistanceKpc-want.DistanceKpc) > 1e-12 {
		t.Errorf("distance = %v, want %v", got.DistanceKpc, want.DistanceKpc)
	}
}
