package gaia

import "time"

// Source is one row of gaiadr3.gaia_source as returned by a cone search.
// Columns that can be NULL in the archive are pointers.
type Source struct {
	SourceID       int64    `json:"source_id"`
	RA             float64  `json:"ra"`
	Dec            float64  `json:"dec"`
	PMRA           *float64 `json:"pmra,omitempty"`
	PMDec          *float64 `json:"pmdec,omitempty"`
	Parallax       *float64 `json:"parallax,omitempty"`
	RadialVelocity *float64 `json:"radial_velocity,omitempty"`
	GMag           *float64 `json:"phot_g_mean_mag,omitempty"`
	VariableFlag   string   `json:"phot_variable_flag,omitempty"`
}

// DistanceKpc returns the parallax distance in kpc, or false when the
// parallax is missing or not positive.
func (s Source) DistanceKpc() (float64, bool) {
	if s.Parallax == nil || *s.Parallax <= 0 {
		return 0, false
	}
	return 1.0 / *s.Parallax, true
}

// HasFullAstrometry reports whether the source carries everything needed to
// propagate it through time.
func (s Source) HasFullAstrometry() bool {
	_, ok := s.DistanceKpc()
	return ok && s.PMRA != nil && s.PMDec != nil && s.RadialVelocity != nil
}

// Clone returns a deep copy of s.
func (s Source) Clone() Source {
	c := s
	c.PMRA = clonePtr(s.PMRA)
	c.PMDec = clonePtr(s.PMDec)
	c.Parallax = clonePtr(s.Parallax)
	c.RadialVelocity = clonePtr(s.RadialVelocity)
	c.GMag = clonePtr(s.GMag)
	return c
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Dataset is the immutable result of one catalog query.
type Dataset struct {
	Query     string    `json:"query"`
	FetchedAt time.Time `json:"fetched_at"`
	Columns   []string  `json:"columns"`
	Sources   []Source  `json:"sources"`
}

// Clone returns a deep copy of ds.
func (ds *Dataset) Clone() *Dataset {
	if ds == nil {
		return nil
	}
	c := &Dataset{
		Query:     ds.Query,
		FetchedAt: ds.FetchedAt,
		Columns:   append([]string(nil), ds.Columns...),
		Sources:   make([]Source, len(ds.Sources)),
	}
	for i, s := range ds.Sources {
		c.Sources[i] = s.Clone()
	}
	return c
}

// Float returns a pointer to v. Handy for building Source literals.
func Float(v float64) *float64 {
	return &v
}
