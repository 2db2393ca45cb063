package gaia

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// DefaultMaxGMag is the default faint limit on phot_g_mean_mag.
const DefaultMaxGMag = 10.0

// sourceColumns are the gaia_source columns every cone search selects.
var sourceColumns = []string{
	"source_id",
	"ra",
	"dec",
	"pmra",
	"pmdec",
	"parallax",
	"radial_velocity",
	"phot_g_mean_mag",
	"phot_variable_flag",
}

// ConeQuery describes a cone search against gaiadr3.gaia_source.
type ConeQuery struct {
	RA     float64 // center right ascension (degrees)
	Dec    float64 // center declination (degrees)
	Radius float64 // cone radius (degrees)

	// Limit caps the number of rows (TOP n). Zero means no cap.
	Limit int
	// MaxGMag keeps only sources brighter than this G magnitude.
	// Zero means DefaultMaxGMag.
	MaxGMag float64
	// AllowMissingRV keeps sources without a radial velocity. Such sources
	// plot but cannot be animated.
	AllowMissingRV bool
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ADQL renders the query text sent to the TAP service.
func (q ConeQuery) ADQL() string {
	maxG := q.MaxGMag
	if maxG == 0 {
		maxG = DefaultMaxGMag
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if q.Limit > 0 {
		b.WriteString("TOP ")
		b.WriteString(strconv.Itoa(q.Limit))
		b.WriteString(" ")
	}
	b.WriteString(strings.Join(sourceColumns, ", "))
	b.WriteString("\nFROM gaiadr3.gaia_source")
	b.WriteString("\nWHERE 1=CONTAINS(POINT(ra,dec), CIRCLE(")
	b.WriteString(formatFloat(q.RA))
	b.WriteString(",")
	b.WriteString(formatFloat(q.Dec))
	b.WriteString(",")
	b.WriteString(formatFloat(q.Radius))
	b.WriteString("))")
	if !q.AllowMissingRV {
		b.WriteString("\nAND radial_velocity IS NOT NULL")
	}
	b.WriteString("\nAND ra IS NOT NULL AND dec IS NOT NULL AND parallax > 0")
	b.WriteString("\nAND phot_g_mean_mag < ")
	b.WriteString(formatFloat(maxG))
	b.WriteString("\nORDER BY phot_g_mean_mag")
	return b.String()
}

// Key returns a stable cache key for the query text.
func (q ConeQuery) Key() string {
	return QueryKey(q.ADQL())
}

// QueryKey hashes ADQL text into a short, filesystem-safe key.
func QueryKey(adql string) string {
	sum := sha256.Sum256([]byte(adql))
	return hex.EncodeToString(sum[:16])
}
