package transform

import (
	"fmt"
	"math"
)

const (
	// KAuYrKms converts mas/yr * kpc to km/s (1 AU/yr in km/s).
	KAuYrKms = 4.740470463533348

	// KpcPerMyrPerKms is the distance in kpc covered in 1 Myr at 1 km/s.
	KpcPerMyrPerKms = 1.0227121650537077e-3

	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// Vec3 is a Cartesian 3-vector.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scale returns v * k.
func (v Vec3) Scale(k float64) Vec3 { return Vec3{v.X * k, v.Y * k, v.Z * k} }

// Dot returns the scalar product.
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// Norm returns the Euclidean length.
func (v Vec3) Norm() float64 { return math.Sqrt(v.Dot(v)) }

// Astrometry holds the five astrometric parameters plus radial velocity of a
// star at a single epoch.
type Astrometry struct {
	RADeg          float64 // right ascension (degrees)
	DecDeg         float64 // declination (degrees)
	ParallaxMas    float64 // parallax (mas), must be > 0
	PMRA           float64 // proper motion in RA * cos(Dec) (mas/yr)
	PMDec          float64 // proper motion in Dec (mas/yr)
	RadialVelocity float64 // line-of-sight velocity (km/s)
}

// DistanceKpc returns 1/parallax in kpc.
func (a Astrometry) DistanceKpc() float64 {
	return 1.0 / a.ParallaxMas
}

// PhaseSpace is a position (kpc) and velocity (km/s) in a Cartesian frame.
type PhaseSpace struct {
	Pos Vec3
	Vel Vec3
}

// normalTriad returns the unit vectors p (toward increasing RA), q (toward
// increasing Dec) and r (line of sight) at the given direction.
func normalTriad(raRad, decRad float64) (p, q, r Vec3) {
	sinA, cosA := math.Sincos(raRad)
	sinD, cosD := math.Sincos(decRad)
	p = Vec3{-sinA, cosA, 0}
	q = Vec3{-sinD * cosA, -sinD * sinA, cosD}
	r = Vec3{cosD * cosA, cosD * sinA, sinD}
	return p, q, r
}

// UnitVector returns the ICRS unit vector toward (ra, dec) given in degrees.
func UnitVector(raDeg, decDeg float64) Vec3 {
	_, _, r := normalTriad(raDeg*degToRad, decDeg*degToRad)
	return r
}

// Direction returns the (ra, dec) in degrees that v points toward.
func Direction(v Vec3) (raDeg, decDeg float64) {
	ra := math.Atan2(v.Y, v.X)
	dec := math.Atan2(v.Z, math.Hypot(v.X, v.Y))
	return NormalizeRA(ra * radToDeg), dec * radToDeg
}

// AstrometryToCartesian converts astrometry to an ICRS heliocentric position
// (kpc) and velocity (km/s).
func AstrometryToCartesian(a Astrometry) (PhaseSpace, error) {
	if !(a.ParallaxMas > 0) || math.IsInf(a.ParallaxMas, 0) {
		return PhaseSpace{}, fmt.Errorf("parallax must be positive, got %v mas", a.ParallaxMas)
	}
	d := a.DistanceKpc()
	p, q, r := normalTriad(a.RADeg*degToRad, a.DecDeg*degToRad)

	vRA := KAuYrKms * a.PMRA * d
	vDec := KAuYrKms * a.PMDec * d

	return PhaseSpace{
		Pos: r.Scale(d),
		Vel: p.Scale(vRA).Add(q.Scale(vDec)).Add(r.Scale(a.RadialVelocity)),
	}, nil
}

// CartesianToAstrometry is the inverse of AstrometryToCartesian.
func CartesianToAstrometry(ps PhaseSpace) (Astrometry, error) {
	d := ps.Pos.Norm()
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return Astrometry{}, fmt.Errorf("invalid heliocentric distance %v kpc", d)
	}

	ra := math.Atan2(ps.Pos.Y, ps.Pos.X)
	dec := math.Asin(ps.Pos.Z / d)
	p, q, r := normalTriad(ra, dec)

	return Astrometry{
		RADeg:          NormalizeRA(ra * radToDeg),
		DecDeg:         dec * radToDeg,
		ParallaxMas:    1.0 / d,
		PMRA:           ps.Vel.Dot(p) / (KAuYrKms * d),
		PMDec:          ps.Vel.Dot(q) / (KAuYrKms * d),
		RadialVelocity: ps.Vel.Dot(r),
	}, nil
}

// NormalizeRA wraps an angle in degrees into [0, 360).
func NormalizeRA(deg float64) float64 {
	deg = math.Mod(deg, 360.0)
	if deg < 0 {
		deg += 360.0
	}
	return deg
}

// UnwrapRA returns ra shifted by a multiple of 360 so that it lies within
// 180 degrees of center. Patches that straddle RA = 0 then plot contiguously.
func UnwrapRA(ra, center float64) float64 {
	return center + NormalizeRA(ra-center+180.0) - 180.0
}

// AngularSeparation returns the great-circle distance in degrees between two
// points given in degrees (Vincenty formula, stable at all separations).
func AngularSeparation(ra1, dec1, ra2, dec2 float64) float64 {
	dRA := (ra2 - ra1) * degToRad
	sinD1, cosD1 := math.Sincos(dec1 * degToRad)
	sinD2, cosD2 := math.Sincos(dec2 * degToRad)
	sinDRA, cosDRA := math.Sincos(dRA)

	num1 := cosD2 * sinDRA
	num2 := cosD1*sinD2 - sinD1*cosD2*cosDRA
	den := sinD1*sinD2 + cosD1*cosD2*cosDRA

	return math.Atan2(math.Hypot(num1, num2), den) * radToDeg
}
