package gaia

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// tapResponse is the FORMAT=json payload of the Gaia TAP service.
type tapResponse struct {
	Metadata []tapColumn `json:"metadata"`
	Data     [][]any     `json:"data"`
}

type tapColumn struct {
	Name     string `json:"name"`
	Datatype string `json:"datatype"`
	Unit     string `json:"unit"`
}

// Parse decodes a TAP JSON result into a Dataset. Only Columns and Sources
// are filled in. Rows without source_id, ra or dec are skipped with a
// warning log.
func Parse(r io.Reader, logger *slog.Logger) (*Dataset, error) {
	dec := jsonAPI.NewDecoder(r)
	dec.UseNumber()

	var resp tapResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding TAP response: %w", err)
	}
	if len(resp.Metadata) == 0 {
		return nil, fmt.Errorf("TAP response has no column metadata")
	}

	idx := make(map[string]int, len(resp.Metadata))
	cols := make([]string, len(resp.Metadata))
	for i, c := range resp.Metadata {
		idx[c.Name] = i
		cols[i] = c.Name
	}
	for _, required := range []string{"source_id", "ra", "dec"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("TAP response is missing column %q", required)
		}
	}

	sources := make([]Source, 0, len(resp.Data))
	for rowIdx, row := range resp.Data {
		src, err := decodeRow(row, idx)
		if err != nil {
			logger.Warn("skipping malformed catalog row", "row_index", rowIdx, "error", err)
			continue
		}
		sources = append(sources, src)
	}

	return &Dataset{Columns: cols, Sources: sources}, nil
}

func decodeRow(row []any, idx map[string]int) (Source, error) {
	cell := func(name string) any {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return nil
		}
		return row[i]
	}

	var src Source
	id, err := toInt64(cell("source_id"))
	if err != nil {
		return src, fmt.Errorf("source_id: %w", err)
	}
	src.SourceID = id

	ra, err := toFloatPtr(cell("ra"))
	if err != nil || ra == nil {
		return src, fmt.Errorf("ra: missing or invalid")
	}
	dec, err := toFloatPtr(cell("dec"))
	if err != nil || dec == nil {
		return src, fmt.Errorf("dec: missing or invalid")
	}
	src.RA, src.Dec = *ra, *dec

	optional := []struct {
		name string
		dst  **float64
	}{
		{"pmra", &src.PMRA},
		{"pmdec", &src.PMDec},
		{"parallax", &src.Parallax},
		{"radial_velocity", &src.RadialVelocity},
		{"phot_g_mean_mag", &src.GMag},
	}
	for _, o := range optional {
		v, err := toFloatPtr(cell(o.name))
		if err != nil {
			return src, fmt.Errorf("%s: %w", o.name, err)
		}
		*o.dst = v
	}

	if s, ok := cell("phot_variable_flag").(string); ok {
		src.VariableFlag = s
	}
	return src, nil
}

// number matches the json.Number produced by a UseNumber decoder.
type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case number:
		return x.Int64()
	case float64:
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	case nil:
		return 0, fmt.Errorf("null")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func toFloatPtr(v any) (*float64, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case number:
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return &f, nil
	case float64:
		return &x, nil
	case string:
		if x == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return nil, err
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}
}
