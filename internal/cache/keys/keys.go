// Package keys builds Redis keys for cached layer results.
package keys

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
	"github.com/mohammed-shakir/mapbook-query/internal/filter"
)

const prefix = "mq"

// LayerResult is the key of one layer's cached result for a query
// fingerprint at a source revision. A revision bump makes every older key
// unreachable.
func LayerResult(layerPath string, revision, fingerprint uint64) string {
	return fmt.Sprintf("%s:layer:%s:r%d:q=%016x", prefix, sanitizeLayer(strings.TrimSpace(layerPath)), revision, fingerprint)
}

// LayerIndex is the set holding every result key written for layerPath.
func LayerIndex(layerPath string) string {
	return fmt.Sprintf("%s:index:%s", prefix, sanitizeLayer(strings.TrimSpace(layerPath)))
}

// Fingerprint hashes the parts of a query that change a layer's answer:
// selection geometry, field filters, resolution and projection. Field
// filters are compared by their canonical form so key order inside a JSON
// object does not matter; their list order does.
func Fingerprint(q *model.QueryDefinition, view model.MapView) uint64 {
	var b strings.Builder
	b.WriteString(strings.ToUpper(strings.TrimSpace(view.Projection)))
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(view.Resolution, 'g', -1, 64))
	if q == nil {
		return xxhash.Sum64String(b.String())
	}
	for _, f := range q.Selection {
		b.WriteString("|s:")
		if f == nil || f.Geometry == nil {
			continue
		}
		if raw, err := json.Marshal(f.Geometry); err == nil {
			b.Write(raw)
		}
	}
	for _, raw := range q.Fields {
		b.WriteString("|f:")
		b.WriteString(filter.Canonical(raw))
	}
	return xxhash.Sum64String(b.String())
}

func sanitizeLayer(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '/' || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// Any other rune (including non-ASCII and ':') becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
