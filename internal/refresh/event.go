// Package refresh applies map source refresh events: the source revision
// moves forward and cached results of its layers are dropped.
package refresh

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
)

const (
	OpRefresh = "refresh"
	// OpClear also empties an in-memory source.
	OpClear = "clear"
)

type Event struct {
	Version  int       `json:"version"`
	Op       string    `json:"op"`
	Source   string    `json:"source"`
	Layers   []string  `json:"layers,omitempty"`
	Revision uint64    `json:"revision,omitempty"`
	TS       time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpRefresh, OpClear:
	default:
		return fmt.Errorf("op must be refresh|clear")
	}
	if strings.TrimSpace(e.Source) == "" {
		return fmt.Errorf("source is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	for _, l := range e.Layers {
		if model.MapSourceName(l) != e.Source || model.LayerName(l) == "" {
			return fmt.Errorf("layer %q is not a layer path of source %q", l, e.Source)
		}
	}
	return nil
}
