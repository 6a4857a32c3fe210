package ags

import (
	"net/url"
	"strings"
)

// DefaultMaxURLLength keeps id batches under common server and proxy limits.
const DefaultMaxURLLength = 2000

// batchIDs splits ids so each batch's request URL stays within limit.
// length reports the encoded URL length of a dummy request carrying the
// given ids. A single id that alone exceeds limit still gets its own batch.
func batchIDs(ids []string, limit int, length func(ids []string) int) [][]string {
	var out [][]string
	var cur []string
	for _, id := range ids {
		if len(cur) > 0 {
			probe := append(cur[:len(cur):len(cur)], id)
			if length(probe) > limit {
				out = append(out, cur)
				cur = nil
			}
		}
		cur = append(cur, id)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// urlLength builds the dummy request used to measure a batch.
func urlLength(base string, params url.Values) func(ids []string) int {
	return func(ids []string) int {
		q := cloneValues(params)
		q.Set("returnIdsOnly", "false")
		q.Set("objectIds", strings.Join(ids, ","))
		return len(base) + 1 + len(q.Encode())
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
