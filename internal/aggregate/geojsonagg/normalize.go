package geojsonagg

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// GeometryHash identifies g after rounding its coordinates to precision
// decimals, so float noise between two copies of a shape hashes alike.
func GeometryHash(g orb.Geometry, precision int) (string, error) {
	if g == nil {
		return "null", nil
	}
	if precision <= 0 || precision > 15 {
		precision = DefaultGeomPrecision
	}
	rounded := orb.Round(orb.Clone(g), int(math.Pow10(precision)))
	b, err := json.Marshal(geojson.NewGeometry(rounded))
	if err != nil {
		return "", fmt.Errorf("marshal geometry: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(b)), nil
}

// parse id to allow both string and number types
func canonicalIDKey(id any) (string, error) {
	switch t := id.(type) {
	case nil:
		return "", nil
	case string:
		if t == "" {
			return "", nil
		}
		return "s:" + t, nil
	case json.Number:
		return "n:" + t.String(), nil
	case float64:
		return "n:" + fmt.Sprint(t), nil
	case int, int32, int64, uint, uint32, uint64:
		return "n:" + fmt.Sprint(t), nil
	default:
		return "", fmt.Errorf("id must be string or number (got %T)", id)
	}
}
