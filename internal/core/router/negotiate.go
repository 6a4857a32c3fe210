package router

import (
	"net/http"
	"strconv"
	"strings"
)

// resultFormat picks json or geojson for a results request. An explicit
// format parameter wins; otherwise the Accept header decides by q-value and
// plain JSON is the default.
func resultFormat(r *http.Request) string {
	if f := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))); f != "" {
		// an unescaped "+" decodes to a space
		f = strings.ReplaceAll(f, " ", "+")
		switch f {
		case "application/geo+json":
			return "geojson"
		case "application/json":
			return "json"
		}
		return f
	}

	best, bestQ := "json", -1.0
	for part := range strings.SplitSeq(strings.ToLower(r.Header.Get("Accept")), ",") {
		mt, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		mt = strings.TrimSpace(mt)
		q := 1.0
		for p := range strings.SplitSeq(params, ";") {
			if v, ok := strings.CutPrefix(strings.TrimSpace(p), "q="); ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					q = f
				}
			}
		}
		var cand string
		switch {
		case strings.Contains(mt, "geo+json"):
			cand = "geojson"
		case mt == "application/json", mt == "*/*":
			cand = "json"
		default:
			continue
		}
		if q > bestQ {
			best, bestQ = cand, q
		}
	}
	return best
}
