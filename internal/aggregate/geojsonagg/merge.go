// Package geojsonagg merges per-layer feature lists into one GeoJSON
// FeatureCollection with optional sorting, paging and deduplication.
package geojsonagg

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
)

type Aggregator struct {
	// DedupByID drops features whose id was already emitted.
	DedupByID bool
	// DedupByGeometry drops id-less features whose geometry was already emitted.
	DedupByGeometry bool
	GeomPrecision   int
}

const DefaultGeomPrecision = 7

func New(dedup bool) *Aggregator {
	return &Aggregator{DedupByID: dedup, GeomPrecision: DefaultGeomPrecision}
}

// Merge k-way merges parts by q.Sort. Without sort keys the output is the
// concatenation of parts in order. Ties keep part order then position.
func (a *Aggregator) Merge(parts [][]*geojson.Feature, q Query) ([]byte, Diagnostics, error) {
	fc, diag, err := a.Collect(parts, q)
	if err != nil {
		return nil, diag, err
	}
	buf, err := json.Marshal(fc)
	if err != nil {
		return nil, diag, fmt.Errorf("marshal output: %w", err)
	}
	return buf, diag, nil
}

func (a *Aggregator) Collect(parts [][]*geojson.Feature, q Query) (*geojson.FeatureCollection, Diagnostics, error) {
	diag := Diagnostics{}
	out := geojson.NewFeatureCollection()
	out.Features = make([]*geojson.Feature, 0, 64)

	h := &featHeap{sort: q.Sort}
	heap.Init(h)
	for pi, p := range parts {
		it := newIter(pi, p, q.Sort)
		if f, ok := it.next(); ok {
			heap.Push(h, f)
		}
	}

	seenID := map[string]struct{}{}
	seenGH := map[string]struct{}{}
	start := max(q.StartIndex, 0)
	limit := max(q.Limit, 0)
	skipped := 0

	for h.Len() > 0 {
		fp := heap.Pop(h).(featureParsed)
		if f, ok := fp.iter.next(); ok {
			heap.Push(h, f)
		}
		diag.TotalIn++

		dup, err := a.duplicate(fp.feature, seenID, seenGH, &diag)
		if err != nil {
			return nil, diag, err
		}
		if dup {
			continue
		}

		switch {
		case skipped < start:
			skipped++
		case limit == 0 || len(out.Features) < limit:
			out.Features = append(out.Features, fp.feature)
		}
	}
	diag.TotalOut = len(out.Features)
	return out, diag, nil
}

func (a *Aggregator) duplicate(f *geojson.Feature, seenID, seenGH map[string]struct{}, diag *Diagnostics) (bool, error) {
	key, err := canonicalIDKey(f.ID)
	if err != nil {
		return false, fmt.Errorf("invalid feature id: %w", err)
	}
	if key != "" {
		if !a.DedupByID {
			return false, nil
		}
		if _, ok := seenID[key]; ok {
			diag.DedupByID++
			return true, nil
		}
		seenID[key] = struct{}{}
		return false, nil
	}
	if !a.DedupByGeometry {
		return false, nil
	}
	gh, err := GeometryHash(f.Geometry, a.GeomPrecision)
	if err != nil {
		return false, fmt.Errorf("geom hash: %w", err)
	}
	if _, ok := seenGH[gh]; ok {
		diag.DedupByGH++
		return true, nil
	}
	seenGH[gh] = struct{}{}
	return false, nil
}

type featureParsed struct {
	feature  *geojson.Feature
	sortVals []cmpValue
	iter     *featIter
	partIdx  int
	localIdx int
}

type featIter struct {
	items []featureParsed
	pos   int
}

// newIter parses a part and sorts it stably by keys; the heap merge relies
// on every part being ordered.
func newIter(partIdx int, feats []*geojson.Feature, keys []SortKey) *featIter {
	it := &featIter{items: make([]featureParsed, 0, len(feats))}
	for i, f := range feats {
		if f == nil {
			continue
		}
		it.items = append(it.items, featureParsed{
			feature:  f,
			sortVals: extractSortTuple(f, keys),
			iter:     it,
			partIdx:  partIdx,
			localIdx: i,
		})
	}
	if len(keys) > 0 {
		slices.SortStableFunc(it.items, func(a, b featureParsed) int {
			return compareTuples(a.sortVals, b.sortVals, keys)
		})
	}
	return it
}

func (it *featIter) next() (featureParsed, bool) {
	if it.pos >= len(it.items) {
		return featureParsed{}, false
	}
	it.pos++
	return it.items[it.pos-1], true
}

type featHeap struct {
	items []featureParsed
	sort  []SortKey
}

func (h featHeap) Len() int { return len(h.items) }
func (h featHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if c := compareTuples(a.sortVals, b.sortVals, h.sort); c != 0 {
		return c < 0
	}
	if a.partIdx != b.partIdx {
		return a.partIdx < b.partIdx
	}
	return a.localIdx < b.localIdx
}
func (h featHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *featHeap) Push(x any)   { h.items = append(h.items, x.(featureParsed)) }
func (h *featHeap) Pop() any {
	n := len(h.items)
	x := h.items[n-1]
	h.items = h.items[:n-1]
	return x
}

func extractSortTuple(f *geojson.Feature, keys []SortKey) []cmpValue {
	if len(keys) == 0 {
		return nil
	}
	out := make([]cmpValue, len(keys))
	for i, k := range keys {
		out[i] = coerceCmpValue(f.Properties[k.Property], k.TypeHint)
	}
	return out
}

// represents a value for comparison during sorting
func coerceCmpValue(v any, hint string) cmpValue {
	if v == nil {
		return cmpValue{kind: kindNull, null: true}
	}
	switch hint {
	case "number":
		if f, ok := toFloat(v); ok {
			return cmpValue{kind: kindNumber, n: f}
		}
		return cmpValue{kind: kindString, s: fmt.Sprintf("%v", v)}
	case "time":
		if t, ok := toTime(v); ok {
			return cmpValue{kind: kindTime, t: t}
		}
		return cmpValue{kind: kindString, s: fmt.Sprintf("%v", v)}
	case "string":
		return cmpValue{kind: kindString, s: fmt.Sprintf("%v", v)}
	}

	if t, ok := toTime(v); ok {
		return cmpValue{kind: kindTime, t: t}
	}
	if f, ok := toFloat(v); ok {
		return cmpValue{kind: kindNumber, n: f}
	}
	return cmpValue{kind: kindString, s: fmt.Sprintf("%v", v)}
}

// Numeric strings count as numbers: upstream GML carries every attribute
// as text.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) {
			return math.NaN(), false
		}
		return f, true
	default:
		return math.NaN(), false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func compareTuples(a, b []cmpValue, keys []SortKey) int {
	for i := range keys {
		dir := 1
		if keys[i].Direction == Desc {
			dir = -1
		}
		if a[i].null != b[i].null {
			if keys[i].Nulls == NullsFirst {
				if a[i].null {
					return -1
				}
				return 1
			}
			if a[i].null {
				return 1
			}
			return -1
		}
		if a[i].null {
			continue
		}
		if a[i].kind != b[i].kind {
			// mixed kinds order by kind so the heap stays consistent
			if a[i].kind < b[i].kind {
				return -1 * dir
			}
			return 1 * dir
		}

		switch a[i].kind {
		case kindNumber:
			if a[i].n < b[i].n {
				return -1 * dir
			}
			if a[i].n > b[i].n {
				return 1 * dir
			}
		case kindTime:
			if a[i].t.Before(b[i].t) {
				return -1 * dir
			}
			if a[i].t.After(b[i].t) {
				return 1 * dir
			}
		default:
			if c := strings.Compare(a[i].s, b[i].s); c != 0 {
				return c * dir
			}
		}
	}
	return 0
}
