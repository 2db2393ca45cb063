package propagation

import (
	"github.com/star/gaiaviz/internal/transform"
)

// DefaultSteps are the animation time offsets in Myr. Listed explicitly
// rather than generated so frame labels are exact decimals.
var DefaultSteps = []float64{0, 0.2, 0.4, 0.6, 0.8, 1.0}

// StarState is a star's measured state at the catalog epoch, with its
// Cartesian phase-space coordinates precomputed.
type StarState struct {
	SourceID   int64
	GMag       float64
	Astrometry transform.Astrometry
	Phase      transform.PhaseSpace // ICRS heliocentric, kpc and km/s
}

// StarPosition holds a single star's propagated position at a frame time.
type StarPosition struct {
	SourceID    int64   `json:"source_id"`
	RA          float64 `json:"ra"`    // degrees
	Dec         float64 `json:"dec"`   // degrees
	PMRA        float64 `json:"pmra"`  // mas/yr
	PMDec       float64 `json:"pmdec"` // mas/yr
	VLOS        float64 `json:"vlos"`  // km/s
	DistanceKpc float64 `json:"distance_kpc"`
	GMag        float64 `json:"phot_g_mean_mag"`
}

// Frame holds the positions of all propagated stars at one time offset.
type Frame struct {
	TimeMyr float64        `json:"t_myr"`
	Stars   []StarPosition `json:"stars"`
}

// PropConfig holds propagation configuration.
type PropConfig struct {
	Workers int       // Worker pool size (default: runtime.NumCPU())
	Model   string    // "linear" or "halo" (default: linear)
	Steps   []float64 // Frame time offsets in Myr (default: DefaultSteps)
}
