// Package crossings predicts when propagated stars leave or enter a sky
// patch: the times their angular separation from the patch center crosses
// the patch radius.
package crossings

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/star/gaiaviz/internal/propagation"
	"github.com/star/gaiaviz/internal/transform"
)

// Event kinds.
const (
	Exit  = "exit"
	Entry = "entry"
)

// Event is one boundary crossing.
type Event struct {
	Kind       string  `json:"kind"`
	TimeMyr    float64 `json:"time_myr"`
	RA         float64 `json:"ra"`
	Dec        float64 `json:"dec"`
	Separation float64 `json:"separation"` // degrees from the patch center
}

// StarCrossings holds the predicted crossings for one star.
type StarCrossings struct {
	SourceID          int64   `json:"source_id"`
	InsideAtStart     bool    `json:"inside_at_start"`
	InsideAtEnd       bool    `json:"inside_at_end"`
	ClosestSeparation float64 `json:"closest_separation"`
	ClosestTimeMyr    float64 `json:"closest_time_myr"`
	Events            []Event `json:"events"`
	Error             string  `json:"error,omitempty"`
}

// Request holds the parameters for a crossing prediction.
type Request struct {
	CenterRA   float64
	CenterDec  float64
	Radius     float64 // degrees
	Model      propagation.Model
	States     []propagation.StarState
	HorizonMyr float64 // scan [0, HorizonMyr] (default 1)
	StepMyr    float64 // coarse scan step (default 0.02)
	MaxEvents  int     // per star (default 4)
	Workers    int     // concurrent stars (default NumCPU)
}

const (
	defaultHorizonMyr = 1.0
	defaultStepMyr    = 0.02
	defaultMaxEvents  = 4
	toleranceMyr      = 1e-7
	maxBisections     = 60
)

func (r Request) withDefaults() Request {
	if r.Model == nil {
		r.Model = propagation.LinearModel{}
	}
	if r.HorizonMyr <= 0 {
		r.HorizonMyr = defaultHorizonMyr
	}
	if r.StepMyr <= 0 {
		r.StepMyr = defaultStepMyr
	}
	if r.MaxEvents <= 0 {
		r.MaxEvents = defaultMaxEvents
	}
	if r.Workers <= 0 {
		r.Workers = runtime.NumCPU()
	}
	return r
}

// Predict computes crossings for every star in the request, in input order.
// Each star is processed in its own goroutine, bounded by a semaphore.
func Predict(ctx context.Context, req Request) []StarCrossings {
	req = req.withDefaults()
	results := make([]StarCrossings, len(req.States))
	sem := make(chan struct{}, req.Workers)
	var wg sync.WaitGroup

	for i, st := range req.States {
		wg.Add(1)
		go func(idx int, s propagation.StarState) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = StarCrossings{SourceID: s.SourceID, Error: "cancelled"}
				return
			}

			sc, err := predictStar(ctx, req, s)
			if err != nil {
				results[idx] = StarCrossings{SourceID: s.SourceID, Error: err.Error()}
				return
			}
			results[idx] = sc
		}(i, st)
	}

	wg.Wait()
	return results
}

// sample is one evaluated point of a star's orbit.
type sample struct {
	orbit propagation.Orbit
	t     float64
	sep   float64
	pos   propagation.StarPosition
}

func (req Request) sampleOrbit(o propagation.Orbit) (sample, error) {
	pos, err := o.Position()
	if err != nil {
		return sample{}, err
	}
	sep := transform.AngularSeparation(req.CenterRA, req.CenterDec, pos.RA, pos.Dec)
	return sample{orbit: o, t: o.TimeMyr(), sep: sep, pos: pos}, nil
}

// advance moves from a sample by dt and evaluates the result.
func (req Request) advance(from sample, dt float64) (sample, error) {
	o, err := from.orbit.Advance(dt)
	if err != nil {
		return sample{}, err
	}
	return req.sampleOrbit(o)
}

// predictStar scans [0, horizon] for sign changes of separation-radius and
// refines each by bisection. The orbit is carried forward between samples,
// so the cost per star grows linearly with the horizon.
func predictStar(ctx context.Context, req Request, s propagation.StarState) (StarCrossings, error) {
	o, err := propagation.NewOrbit(req.Model, s)
	if err != nil {
		return StarCrossings{}, fmt.Errorf("starting orbit: %w", err)
	}
	prev, err := req.sampleOrbit(o)
	if err != nil {
		return StarCrossings{}, fmt.Errorf("propagating to t=0: %w", err)
	}

	sc := StarCrossings{
		SourceID:          s.SourceID,
		InsideAtStart:     prev.sep <= req.Radius,
		ClosestSeparation: prev.sep,
		Events:            []Event{},
	}

	for i := 1; ; i++ {
		if ctx.Err() != nil {
			sc.Error = "cancelled"
			return sc, nil
		}

		t := float64(i) * req.StepMyr
		last := t >= req.HorizonMyr
		if last {
			t = req.HorizonMyr
		}

		cur, err := req.advance(prev, t-prev.t)
		if err != nil {
			return sc, fmt.Errorf("propagating to t=%g Myr: %w", t, err)
		}
		if cur.sep < sc.ClosestSeparation {
			sc.ClosestSeparation = cur.sep
			sc.ClosestTimeMyr = cur.t
		}

		wasInside := prev.sep <= req.Radius
		isInside := cur.sep <= req.Radius
		if wasInside != isInside && len(sc.Events) < req.MaxEvents {
			ev, err := req.refine(prev, cur)
			if err != nil {
				return sc, err
			}
			sc.Events = append(sc.Events, ev)
		}

		prev = cur
		if last {
			break
		}
	}

	sc.InsideAtEnd = prev.sep <= req.Radius
	return sc, nil
}

// refine bisects between two samples that straddle the boundary, always
// stepping forward from the inner bracket's lower end.
func (req Request) refine(lo, hi sample) (Event, error) {
	kind := Entry
	if lo.sep <= req.Radius {
		kind = Exit
	}

	for i := 0; i < maxBisections && hi.t-lo.t > toleranceMyr; i++ {
		mid, err := req.advance(lo, (hi.t-lo.t)/2)
		if err != nil {
			return Event{}, fmt.Errorf("refining crossing: %w", err)
		}
		if (mid.sep <= req.Radius) == (lo.sep <= req.Radius) {
			lo = mid
		} else {
			hi = mid
		}
	}

	// hi is the first sample on the far side of the boundary.
	return Event{
		Kind:       kind,
		TimeMyr:    hi.t,
		RA:         hi.pos.RA,
		Dec:        hi.pos.Dec,
		Separation: hi.sep,
	}, nil
}
