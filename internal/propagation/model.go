package propagation

import (
	"errors"
	"fmt"

	"github.com/star/gaiaviz/gaia"
	"github.com/star/gaiaviz/internal/transform"
)

var (
	// ErrUnknownModel is returned by NewModel for an unrecognised name.
	ErrUnknownModel = errors.New("unknown motion model")

	// ErrIncompleteAstrometry marks a source that lacks parallax, proper
	// motion or radial velocity.
	ErrIncompleteAstrometry = errors.New("incomplete astrometry")
)

// Model moves a star from the catalog epoch by tMyr million years.
type Model interface {
	Name() string
	Propagate(s StarState, tMyr float64) (StarPosition, error)
}

// Model names accepted by NewModel.
const (
	ModelLinear = "linear"
	ModelHalo   = "halo"
)

// NewModel returns the named motion model with default parameters.
// An empty name selects the linear model.
func NewModel(name string) (Model, error) {
	switch name {
	case "", ModelLinear:
		return LinearModel{}, nil
	case ModelHalo:
		return DefaultHaloModel(), nil
	default:
		return nil, fmt.Errorf("%w %q (want %q or %q)", ErrUnknownModel, name, ModelLinear, ModelHalo)
	}
}

// NewStarState builds the propagation state for a catalog source.
func NewStarState(src gaia.Source) (StarState, error) {
	if !src.HasFullAstrometry() {
		return StarState{}, fmt.Errorf("source %d: %w", src.SourceID, ErrIncompleteAstrometry)
	}
	a := transform.Astrometry{
		RADeg:          src.RA,
		DecDeg:         src.Dec,
		ParallaxMas:    *src.Parallax,
		PMRA:           *src.PMRA,
		PMDec:          *src.PMDec,
		RadialVelocity: *src.RadialVelocity,
	}
	ps, err := transform.AstrometryToCartesian(a)
	if err != nil {
		return StarState{}, fmt.Errorf("source %d: %w", src.SourceID, err)
	}
	var g float64
	if src.GMag != nil {
		g = *src.GMag
	}
	return StarState{SourceID: src.SourceID, GMag: g, Astrometry: a, Phase: ps}, nil
}

// StatesFromSources converts every source with complete astrometry and
// returns how many were skipped.
func StatesFromSources(sources []gaia.Source) ([]StarState, int) {
	states := make([]StarState, 0, len(sources))
	var skipped int
	for _, src := range sources {
		st, err := NewStarState(src)
		if err != nil {
			skipped++
			continue
		}
		states = append(states, st)
	}
	return states, skipped
}

// positionFromPhase converts an ICRS phase-space state back to a StarPosition.
func positionFromPhase(s StarState, ps transform.PhaseSpace) (StarPosition, error) {
	a, err := transform.CartesianToAstrometry(ps)
	if err != nil {
		return StarPosition{}, fmt.Errorf("source %d: %w", s.SourceID, err)
	}
	return StarPosition{
		SourceID:    s.SourceID,
		RA:          a.RADeg,
		Dec:         a.DecDeg,
		PMRA:        a.PMRA,
		PMDec:       a.PMDec,
		VLOS:        a.RadialVelocity,
		DistanceKpc: a.DistanceKpc(),
		GMag:        s.GMag,
	}, nil
}
