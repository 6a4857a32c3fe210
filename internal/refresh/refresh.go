package refresh

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/mapbook-query/internal/backend"
	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
)

type Registry interface {
	Source(name string) (*model.MapSource, error)
	Revision(source string) uint64
	SetRevision(source string, rev uint64) uint64
	Refresh(source string) uint64
	ClearFeatures(source string) error
}

// Invalidator drops cached results of layer paths.
type Invalidator interface {
	Invalidate(ctx context.Context, layers ...string) (int, error)
}

type Outcome struct {
	Source   string
	Revision uint64
	Layers   []string
	Removed  int
	Stale    bool
}

type Handler struct {
	reg    Registry
	inv    Invalidator
	logger *slog.Logger
}

// NewHandler returns a Handler. inv may be nil when no result cache runs.
func NewHandler(reg Registry, inv Invalidator, logger *slog.Logger) *Handler {
	return &Handler{reg: reg, inv: inv, logger: backend.OrDiscard(logger)}
}

// Apply validates ev and applies it. An event carrying a revision at or
// below the current one is stale and changes nothing. A zero revision
// always bumps.
func (h *Handler) Apply(ctx context.Context, ev Event) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("validate: %w", err)
	}
	src, err := h.reg.Source(ev.Source)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Source: ev.Source}

	if ev.Revision != 0 && ev.Revision <= h.reg.Revision(ev.Source) {
		out.Stale = true
		out.Revision = h.reg.Revision(ev.Source)
		h.logger.DebugContext(ctx, "ignoring stale refresh", "source", ev.Source, "revision", ev.Revision, "current", out.Revision)
		return out, nil
	}

	if ev.Op == OpClear {
		if err := h.reg.ClearFeatures(ev.Source); err != nil {
			return out, err
		}
	}
	switch {
	case ev.Revision != 0:
		out.Revision = h.reg.SetRevision(ev.Source, ev.Revision)
	case ev.Op == OpClear:
		// clearing already bumped it
		out.Revision = h.reg.Revision(ev.Source)
	default:
		out.Revision = h.reg.Refresh(ev.Source)
	}

	out.Layers = ev.Layers
	if len(out.Layers) == 0 {
		for _, l := range src.Layers {
			out.Layers = append(out.Layers, model.LayerPath(src.Name, l.Name))
		}
	}
	if h.inv != nil && len(out.Layers) > 0 {
		n, err := h.inv.Invalidate(ctx, out.Layers...)
		out.Removed = n
		if err != nil {
			// the revision bump already hides old entries; they expire on their own
			h.logger.WarnContext(ctx, "cached results not removed", "source", ev.Source, "err", err)
		}
	}
	h.logger.InfoContext(ctx, "map source refreshed",
		"source", ev.Source, "op", ev.Op, "revision", out.Revision, "layers", len(out.Layers), "removed", out.Removed)
	return out, nil
}
