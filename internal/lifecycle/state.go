// Package lifecycle tracks a query service from start to results.
//
// Transition is a pure function over State. Store owns the single live
// State, applies events under one lock and runs queries in the background,
// tagging each with a monotonically increasing instance number so results
// of a superseded query are dropped instead of cancelled.
package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
	"github.com/mohammed-shakir/mapbook-query/internal/filter"
	"github.com/mohammed-shakir/mapbook-query/internal/results"
)

var (
	ErrNoService       = errors.New("no query service started")
	ErrNoQuery         = errors.New("no query has been run")
	ErrServiceMismatch = errors.New("query belongs to another service")
	ErrStale           = errors.New("stale query results")
)

type Phase int

const (
	Idle Phase = iota
	Start
	Loading
	Results
	Finished
)

func (p Phase) String() string {
	switch p {
	case Start:
		return "start"
	case Loading:
		return "loading"
	case Results:
		return "results"
	case Finished:
		return "finished"
	default:
		return "idle"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

type State struct {
	Phase    Phase                  `json:"phase"`
	Service  string                 `json:"serviceName,omitempty"`
	Defaults []results.FieldValue   `json:"defaultValues,omitempty"`
	Seed     []*geojson.Feature     `json:"selection,omitempty"`
	Instance uint64                 `json:"instance"`
	Query    *model.QueryDefinition `json:"query,omitempty"`
	View     model.MapView          `json:"view"`
	Results  model.ResultSet        `json:"-"`
	Filters  []json.RawMessage      `json:"filter"`
	Hot      json.RawMessage        `json:"hotFilter,omitempty"`
}

// Event is one input to Transition.
type Event interface {
	Name() string
}

type StartService struct {
	Service  string
	Defaults []results.FieldValue
	Features []*geojson.Feature
}

type CreateQuery struct {
	Query *model.QueryDefinition
	View  model.MapView
}

// Settle delivers the joined results of query Instance.
type Settle struct {
	Instance uint64
	Results  model.ResultSet
}

type FinishService struct{}

type AddFilter struct{ Filter json.RawMessage }

// RemoveFilter drops every filter that reads Property.
type RemoveFilter struct{ Property string }

// SetHotFilter replaces the hot filter; nil clears it.
type SetHotFilter struct{ Filter json.RawMessage }

func (StartService) Name() string  { return "start_service" }
func (CreateQuery) Name() string   { return "create_query" }
func (Settle) Name() string        { return "settle" }
func (FinishService) Name() string { return "finish_service" }
func (AddFilter) Name() string     { return "add_filter" }
func (RemoveFilter) Name() string  { return "remove_filter" }
func (SetHotFilter) Name() string  { return "set_hot_filter" }

// Transition applies e to s. On error s is returned unchanged.
func Transition(s State, e Event) (State, error) {
	switch ev := e.(type) {
	case StartService:
		if ev.Service == "" {
			return s, fmt.Errorf("%w: empty service name", ErrNoService)
		}
		return State{
			Phase:    Start,
			Service:  ev.Service,
			Defaults: ev.Defaults,
			Seed:     ev.Features,
			Instance: s.Instance,
			Filters:  nonNil(s.Filters),
			Hot:      s.Hot,
		}, nil

	case CreateQuery:
		switch s.Phase {
		case Start, Loading, Results:
		default:
			return s, ErrNoService
		}
		if ev.Query == nil {
			return s, fmt.Errorf("%w: missing query definition", ErrNoQuery)
		}
		q := *ev.Query
		if q.ServiceName == "" {
			q.ServiceName = s.Service
		} else if q.ServiceName != s.Service {
			return s, fmt.Errorf("%w: %q vs %q", ErrServiceMismatch, q.ServiceName, s.Service)
		}
		s.Phase = Loading
		s.Instance++
		s.Query = &q
		s.View = ev.View
		s.Results = model.NewResultSet(q.Layers)
		s.Filters = []json.RawMessage{}
		s.Hot = nil
		return s, nil

	case Settle:
		if s.Phase != Loading || ev.Instance != s.Instance {
			return s, fmt.Errorf("%w: instance %d, current %d (%s)", ErrStale, ev.Instance, s.Instance, s.Phase)
		}
		s.Phase = Results
		s.Results = ev.Results
		return s, nil

	case FinishService:
		return State{Phase: Finished, Instance: s.Instance, Filters: nonNil(s.Filters), Hot: s.Hot}, nil

	case AddFilter:
		if _, err := filter.Parse(ev.Filter); err != nil {
			return s, err
		}
		key := filter.Canonical(ev.Filter)
		out := make([]json.RawMessage, 0, len(s.Filters)+1)
		for _, f := range s.Filters {
			if filter.Canonical(f) != key {
				out = append(out, f)
			}
		}
		s.Filters = append(out, ev.Filter)
		return s, nil

	case RemoveFilter:
		out := make([]json.RawMessage, 0, len(s.Filters))
		for _, f := range s.Filters {
			if !filter.References(f, ev.Property) {
				out = append(out, f)
			}
		}
		s.Filters = out
		return s, nil

	case SetHotFilter:
		if len(ev.Filter) > 0 {
			if _, err := filter.Parse(ev.Filter); err != nil {
				return s, err
			}
		}
		s.Hot = ev.Filter
		return s, nil
	}
	return s, fmt.Errorf("unknown lifecycle event %T", e)
}

func nonNil(f []json.RawMessage) []json.RawMessage {
	if f == nil {
		return []json.RawMessage{}
	}
	return f
}
