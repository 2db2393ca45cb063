package gaia

import (
	"io"
	"log/slog"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

// sampleResponse is a trimmed FORMAT=json answer for a 1 degree cone around
// the Pleiades. The second row has a null radial velocity; the third has no
// source_id and must be skipped.
const sampleResponse = `{
  "metadata": [
    {"name": "source_id", "datatype": "long"},
    {"name": "ra", "datatype": "double", "unit": "deg"},
    {"name": "dec", "datatype": "double", "unit": "deg"},
    {"name": "pmra", "datatype": "double", "unit": "mas.yr**-1"},
    {"name": "pmdec", "datatype": "double", "unit": "mas.yr**-1"},
    {"name": "parallax", "datatype": "double", "unit": "mas"},
    {"name": "radial_velocity", "datatype": "float", "unit": "km.s**-1"},
    {"name": "phot_g_mean_mag", "datatype": "float", "unit": "mag"},
    {"name": "phot_variable_flag", "datatype": "char"}
  ],
  "data": [
    [66526127137440128, 56.87115, 24.10514, 19.9, -44.4, 7.29, 5.7, 2.87, "NOT_AVAILABLE"],
    [66714384141781760, 56.21904, 24.11334, 20.6, -45.3, 7.41, null, 3.62, "VARIABLE"],
    [null, 56.45, 24.36, 18.1, -45.9, 7.2, 4.1, 4.3, "NOT_AVAILABLE"]
  ]
}`
