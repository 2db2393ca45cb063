package propagation

import (
	"fmt"
	"math"

	"github.com/star/gaiaviz/internal/transform"
)

// HaloModel integrates orbits in a spherical logarithmic halo potential,
//
//	Phi(r) = VCirc^2 / 2 * ln(r^2 + Core^2)
//
// which gives a flat rotation curve. Orbits are integrated in a
// Galactocentric frame with kick-drift-kick leapfrog.
type HaloModel struct {
	VCirc       float64        // circular velocity (km/s)
	R0          float64        // Sun-Galactic centre distance (kpc)
	Core        float64        // core radius (kpc)
	SolarMotion transform.Vec3 // peculiar solar motion (U, V, W) in km/s
	StepMyr     float64        // maximum integration step (Myr)
}

// DefaultHaloModel returns a halo normalised to 220 km/s at 8 kpc with the
// Schoenrich et al. (2010) solar motion.
func DefaultHaloModel() HaloModel {
	return HaloModel{
		VCirc:       220.0,
		R0:          8.0,
		Core:        1e-8,
		SolarMotion: transform.Vec3{X: 11.1, Y: 12.24, Z: 7.25},
		StepMyr:     0.01,
	}
}

// Name implements Model.
func (HaloModel) Name() string { return ModelHalo }

// sunVelocity is the Sun's Galactocentric velocity in km/s.
func (m HaloModel) sunVelocity() transform.Vec3 {
	return m.SolarMotion.Add(transform.Vec3{Y: m.VCirc})
}

// accel returns the acceleration in kpc/Myr^2 at r (kpc).
func (m HaloModel) accel(r transform.Vec3) transform.Vec3 {
	vc := m.VCirc * transform.KpcPerMyrPerKms
	r2 := r.Dot(r) + m.Core*m.Core
	return r.Scale(-vc * vc / r2)
}

// Propagate implements Model.
func (m HaloModel) Propagate(s StarState, tMyr float64) (StarPosition, error) {
	if tMyr == 0 {
		return positionFromPhase(s, s.Phase)
	}
	o, err := m.start(s)
	if err != nil {
		return StarPosition{}, err
	}
	return o.advance(tMyr).Position()
}

// Orbit implements Orbiter.
func (m HaloModel) Orbit(s StarState) (Orbit, error) {
	return m.start(s)
}

func (m HaloModel) start(s StarState) (haloOrbit, error) {
	if m.StepMyr <= 0 {
		return haloOrbit{}, fmt.Errorf("halo model: step must be positive, got %v", m.StepMyr)
	}
	sunPos := transform.Vec3{X: -m.R0}
	sunVel := m.sunVelocity()

	// Heliocentric ICRS -> Galactocentric, velocities in kpc/Myr.
	return haloOrbit{
		model: m,
		state: s,
		r:     transform.ICRSToGalactic(s.Phase.Pos).Add(sunPos),
		v:     transform.ICRSToGalactic(s.Phase.Vel).Add(sunVel).Scale(transform.KpcPerMyrPerKms),
		sunR:  sunPos,
		sunV:  sunVel.Scale(transform.KpcPerMyrPerKms),
	}, nil
}

// haloOrbit carries the Galactocentric star and Sun between steps.
type haloOrbit struct {
	model      HaloModel
	state      StarState
	t          float64
	r, v       transform.Vec3
	sunR, sunV transform.Vec3
}

func (o haloOrbit) TimeMyr() float64 { return o.t }

func (o haloOrbit) Advance(dtMyr float64) (Orbit, error) {
	return o.advance(dtMyr), nil
}

func (o haloOrbit) advance(dtMyr float64) haloOrbit {
	if dtMyr == 0 {
		return o
	}
	o.r, o.v = o.model.integrate(o.r, o.v, dtMyr)
	o.sunR, o.sunV = o.model.integrate(o.sunR, o.sunV, dtMyr)
	o.t += dtMyr
	return o
}

// Position converts back to heliocentric ICRS, relative to where the Sun
// has moved to.
func (o haloOrbit) Position() (StarPosition, error) {
	if o.t == 0 {
		return positionFromPhase(o.state, o.state.Phase)
	}
	helioPos := o.r.Sub(o.sunR)
	helioVel := o.v.Sub(o.sunV).Scale(1.0 / transform.KpcPerMyrPerKms)

	if math.IsNaN(helioPos.X) || math.IsInf(helioPos.X, 0) {
		return StarPosition{}, fmt.Errorf("halo integration diverged for source %d", o.state.SourceID)
	}

	return positionFromPhase(o.state, transform.PhaseSpace{
		Pos: transform.GalacticToICRS(helioPos),
		Vel: transform.GalacticToICRS(helioVel),
	})
}

// integrate advances (r, v) by tMyr with kick-drift-kick leapfrog.
// Positions are in kpc and velocities in kpc/Myr.
func (m HaloModel) integrate(r, v transform.Vec3, tMyr float64) (transform.Vec3, transform.Vec3) {
	n := int(math.Ceil(math.Abs(tMyr) / m.StepMyr))
	h := tMyr / float64(n)

	a := m.accel(r)
	for i := 0; i < n; i++ {
		v = v.Add(a.Scale(h / 2))
		r = r.Add(v.Scale(h))
		a = m.accel(r)
		v = v.Add(a.Scale(h / 2))
	}
	return r, v
}
