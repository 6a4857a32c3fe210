package ogc

import (
	"regexp"
	"strings"
)

var (
	exceptionMarker = regexp.MustCompile(`(?i)(ows|wfs):exception`)
	exceptionText   = regexp.MustCompile(`(?is)<(?:ows|wfs):ExceptionText[^>]*>(.*?)</(?:ows|wfs):ExceptionText>`)
)

// Exception reports whether an otherwise successful OWS reply is an
// exception report, and returns the collected ExceptionText content.
func Exception(body []byte) (string, bool) {
	if !exceptionMarker.Match(body) {
		return "", false
	}
	var msgs []string
	if root, err := parseTree(body); err == nil {
		var walk func(*node)
		walk = func(n *node) {
			if n.Name == "ExceptionText" {
				msgs = append(msgs, strings.TrimSpace(n.allText()))
				return
			}
			for _, k := range n.Kids {
				walk(k)
			}
		}
		walk(root)
	} else {
		for _, m := range exceptionText.FindAllSubmatch(body, -1) {
			msgs = append(msgs, strings.TrimSpace(string(m[1])))
		}
	}
	msg := strings.Join(msgs, "\n")
	if msg == "" {
		msg = "service exception"
	}
	return msg, true
}
