package propagation

import (
	"fmt"

	"github.com/star/gaiaviz/internal/transform"
)

// Orbit is one star at a time offset from the catalog epoch. Advancing an
// orbit costs work proportional to the step, not to the total time, so
// scans over long horizons stay linear. Orbits are values: Advance returns
// a new orbit and leaves the receiver usable.
type Orbit interface {
	TimeMyr() float64
	Advance(dtMyr float64) (Orbit, error)
	Position() (StarPosition, error)
}

// Orbiter is implemented by models that can propagate incrementally.
type Orbiter interface {
	Orbit(s StarState) (Orbit, error)
}

// NewOrbit starts an orbit for s at the catalog epoch. Models that do not
// implement Orbiter are evaluated in closed form at each position.
func NewOrbit(m Model, s StarState) (Orbit, error) {
	if o, ok := m.(Orbiter); ok {
		return o.Orbit(s)
	}
	return modelOrbit{model: m, state: s}, nil
}

type modelOrbit struct {
	model Model
	state StarState
	t     float64
}

func (o modelOrbit) TimeMyr() float64 { return o.t }

func (o modelOrbit) Advance(dtMyr float64) (Orbit, error) {
	o.t += dtMyr
	return o, nil
}

func (o modelOrbit) Position() (StarPosition, error) {
	return o.model.Propagate(o.state, o.t)
}

// Rebase moves every state offsetMyr along the model and returns the states
// as measured at that time, so later propagation counts from there. Stars
// that fail to propagate are dropped and counted.
func Rebase(m Model, states []StarState, offsetMyr float64) ([]StarState, int) {
	if offsetMyr == 0 {
		return states, 0
	}
	out := make([]StarState, 0, len(states))
	var failed int
	for _, s := range states {
		pos, err := m.Propagate(s, offsetMyr)
		if err != nil {
			failed++
			continue
		}
		rebased, err := stateFromPosition(s, pos)
		if err != nil {
			failed++
			continue
		}
		out = append(out, rebased)
	}
	return out, failed
}

func stateFromPosition(s StarState, pos StarPosition) (StarState, error) {
	a := transform.Astrometry{
		RADeg:          pos.RA,
		DecDeg:         pos.Dec,
		ParallaxMas:    1.0 / pos.DistanceKpc,
		PMRA:           pos.PMRA,
		PMDec:          pos.PMDec,
		RadialVelocity: pos.VLOS,
	}
	ps, err := transform.AstrometryToCartesian(a)
	if err != nil {
		return StarState{}, fmt.Errorf("source %d: %w", s.SourceID, err)
	}
	return StarState{SourceID: s.SourceID, GMag: s.GMag, Astrometry: a, Phase: ps}, nil
}
