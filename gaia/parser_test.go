package gaia

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	ds, err := Parse(strings.NewReader(sampleResponse), testLogger)
	require.NoError(t, err)

	assert.Equal(t, sourceColumns, ds.Columns)
	require.Len(t, ds.Sources, 2, "row without source_id must be skipped")

	alcyone := ds.Sources[0]
	assert.Equal(t, int64(66526127137440128), alcyone.SourceID, "source_id must keep full int64 precision")
	assert.InDelta(t, 56.87115, alcyone.RA, 1e-12)
	assert.InDelta(t, 24.10514, alcyone.Dec, 1e-12)
	require.NotNil(t, alcyone.RadialVelocity)
	assert.InDelta(t, 5.7, *alcyone.RadialVelocity, 1e-12)
	assert.Equal(t, "NOT_AVAILABLE", alcyone.VariableFlag)
	assert.True(t, alcyone.HasFullAstrometry())

	second := ds.Sources[1]
	assert.Nil(t, second.RadialVelocity)
	assert.False(t, second.HasFullAstrometry())
	assert.Equal(t, "VARIABLE", second.VariableFlag)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<VOTABLE/>"},
		{"no metadata", `{"metadata": [], "data": []}`},
		{"missing dec column", `{"metadata": [{"name": "source_id"}, {"name": "ra"}], "data": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.body), testLogger)
			assert.Error(t, err)
		})
	}
}

func TestParseStringCells(t *testing.T) {
	body := `{"metadata": [{"name": "source_id"}, {"name": "ra"}, {"name": "dec"}, {"name": "parallax"}],
	          "data": [["42", "10.5", "-3.25", ""]]}`
	ds, err := Parse(strings.NewReader(body), testLogger)
	require.NoError(t, err)
	require.Len(t, ds.Sources, 1)
	assert.Equal(t, int64(42), ds.Sources[0].SourceID)
	assert.InDelta(t, -3.25, ds.Sources[0].Dec, 1e-12)
	assert.Nil(t, ds.Sources[0].Parallax)
}

func TestSourceDistance(t *testing.T) {
	d, ok := Source{Parallax: Float(4)}.DistanceKpc()
	assert.True(t, ok)
	assert.InDelta(t, 0.25, d, 1e-12)

	_, ok = Source{Parallax: Float(0)}.DistanceKpc()
	assert.False(t, ok)

	_, ok = Source{}.DistanceKpc()
	assert.False(t, ok)
}

func TestDatasetCloneIsDeep(t *testing.T) {
	ds := &Dataset{Columns: []string{"ra"}, Sources: []Source{{SourceID: 1, GMag: Float(5)}}}
	c := ds.Clone()
	*c.Sources[0].GMag = 9
	c.Columns[0] = "dec"

	assert.InDelta(t, 5.0, *ds.Sources[0].GMag, 0)
	assert.Equal(t, "ra", ds.Columns[0])
}
