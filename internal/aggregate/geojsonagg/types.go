package geojsonagg

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Direction int

const (
	Asc Direction = iota
	Desc
)

// UnmarshalJSON accepts both string and int representations
func (d *Direction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Direction(n)
		return nil
	}
	return fmt.Errorf("direction must be string or int")
}

func (d *Direction) parse(s string) error {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "":
		*d = Asc
	case "desc":
		*d = Desc
	default:
		return fmt.Errorf("invalid direction %q (want asc|desc)", s)
	}
	return nil
}

type NullsPolicy int

const (
	NullsLast NullsPolicy = iota
	NullsFirst
)

// UnmarshalJSON enables nulls ordering policy in sort keys
func (n *NullsPolicy) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch strings.ToLower(s) {
		case "first":
			*n = NullsFirst
		case "last", "":
			*n = NullsLast
		default:
			return fmt.Errorf("invalid nulls policy %q (want first|last)", s)
		}
		return nil
	}
	var i int
	if err := json.Unmarshal(b, &i); err == nil {
		*n = NullsPolicy(i)
		return nil
	}
	return fmt.Errorf("nulls policy must be string or int")
}

type SortKey struct {
	Property  string      `json:"property"`
	Direction Direction   `json:"direction"`
	Nulls     NullsPolicy `json:"nulls,omitempty"`
	TypeHint  string      `json:"typeHint,omitempty"`
}

// ParseSort reads "PROP[:asc|desc[:number|string|time]],..." as used by the
// results endpoint's sort parameter.
func ParseSort(s string) ([]SortKey, error) {
	var out []SortKey
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) > 3 || strings.TrimSpace(fields[0]) == "" {
			return nil, fmt.Errorf("invalid sort key %q", part)
		}
		k := SortKey{Property: strings.TrimSpace(fields[0])}
		if len(fields) > 1 {
			if err := k.Direction.parse(fields[1]); err != nil {
				return nil, err
			}
		}
		if len(fields) > 2 {
			switch h := strings.ToLower(strings.TrimSpace(fields[2])); h {
			case "number", "string", "time":
				k.TypeHint = h
			default:
				return nil, fmt.Errorf("invalid type hint %q (want number|string|time)", fields[2])
			}
		}
		out = append(out, k)
	}
	return out, nil
}

type Query struct {
	Sort       []SortKey `json:"sort,omitempty"`
	Limit      int       `json:"limit,omitempty"`
	StartIndex int       `json:"startIndex,omitempty"`
}

type Diagnostics struct {
	TotalIn   int `json:"total_in"`
	TotalOut  int `json:"total_out"`
	DedupByID int `json:"dedup_by_id"`
	DedupByGH int `json:"dedup_by_geom"`
}

type valueKind int

const (
	kindNull valueKind = iota
	kindString
	kindNumber
	kindTime
)

type cmpValue struct {
	kind valueKind
	s    string
	n    float64
	t    time.Time
	null bool
}
