package propagation

import "github.com/star/gaiaviz/internal/transform"

// LinearModel moves stars along straight lines at their measured space
// velocity. This is the rigorous epoch-propagation model used for Gaia
// astrometry and is exact in the absence of forces.
type LinearModel struct{}

// Name implements Model.
func (LinearModel) Name() string { return ModelLinear }

// Propagate implements Model.
func (LinearModel) Propagate(s StarState, tMyr float64) (StarPosition, error) {
	if tMyr == 0 {
		return positionFromPhase(s, s.Phase)
	}
	drift := s.Phase.Vel.Scale(transform.KpcPerMyrPerKms * tMyr)
	return positionFromPhase(s, transform.PhaseSpace{
		Pos: s.Phase.Pos.Add(drift),
		Vel: s.Phase.Vel,
	})
}
