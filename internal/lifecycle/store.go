package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mapbook-query/internal/backend"
	"github.com/mohammed-shakir/mapbook-query/internal/core/model"
	"github.com/mohammed-shakir/mapbook-query/internal/core/observability"
	"github.com/mohammed-shakir/mapbook-query/internal/logger"
	"github.com/mohammed-shakir/mapbook-query/internal/results"
)

// Runner executes a query to completion.
type Runner interface {
	Run(ctx context.Context, view model.MapView, q *model.QueryDefinition) model.ResultSet
}

// Store is the single writer of the lifecycle State.
type Store struct {
	mu     sync.Mutex
	state  State
	runner Runner
	logger *slog.Logger

	done     map[uint64]chan struct{}
	inflight sync.WaitGroup
}

func NewStore(runner Runner, log *slog.Logger) *Store {
	return &Store{
		state:  State{Filters: []json.RawMessage{}},
		runner: runner,
		logger: backend.OrDiscard(log),
		done:   map[uint64]chan struct{}{},
	}
}

// Dispatch applies one event and returns the resulting snapshot.
func (s *Store) Dispatch(e Event) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(e)
}

func (s *Store) applyLocked(e Event) (State, error) {
	next, err := Transition(s.state, e)
	outcome := "applied"
	switch {
	case errors.Is(err, ErrStale):
		outcome = "stale"
	case err != nil:
		outcome = "rejected"
	}
	observability.ObserveTransition(e.Name(), outcome)
	if err != nil {
		return snapshot(s.state), err
	}
	s.state = next
	return snapshot(s.state), nil
}

func (s *Store) StartService(name string, defaults []results.FieldValue, feats []*geojson.Feature) (State, error) {
	return s.Dispatch(StartService{Service: name, Defaults: defaults, Features: feats})
}

func (s *Store) FinishService() State {
	st, _ := s.Dispatch(FinishService{})
	return st
}

// Submit creates a new query and runs it in the background. It returns the
// instance number the results will be tagged with. The run outlives ctx's
// cancellation but keeps its values.
func (s *Store) Submit(ctx context.Context, q *model.QueryDefinition, view model.MapView) (uint64, error) {
	s.mu.Lock()
	st, err := s.applyLocked(CreateQuery{Query: q, View: view})
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	inst := st.Instance
	done := make(chan struct{})
	s.done[inst] = done
	s.inflight.Add(1)
	s.mu.Unlock()

	runCtx := logger.WithQueryInstance(logger.WithService(context.WithoutCancel(ctx), st.Service), inst)
	go func() {
		defer s.inflight.Done()
		rs := s.runner.Run(runCtx, st.View, st.Query)

		s.mu.Lock()
		if _, err := s.applyLocked(Settle{Instance: inst, Results: rs}); err != nil {
			s.logger.DebugContext(runCtx, "dropping superseded results", "instance", inst, "err", err)
		}
		close(done)
		delete(s.done, inst)
		s.mu.Unlock()
	}()
	return inst, nil
}

// Wait blocks until query instance has settled (or been superseded and
// finished running) and returns the state at that point.
func (s *Store) Wait(ctx context.Context, instance uint64) (State, error) {
	s.mu.Lock()
	done, ok := s.done[instance]
	s.mu.Unlock()
	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
	return s.Snapshot(), nil
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.state)
}

// Drain waits for background queries to finish.
func (s *Store) Drain(ctx context.Context) error {
	ch := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snapshot copies the parts of st that later transitions replace in place.
func snapshot(st State) State {
	st.Filters = append([]json.RawMessage{}, st.Filters...)
	if st.Results.ByLayer != nil {
		by := make(map[string]model.LayerResult, len(st.Results.ByLayer))
		for k, v := range st.Results.ByLayer {
			by[k] = v
		}
		st.Results = model.ResultSet{Layers: append([]string(nil), st.Results.Layers...), ByLayer: by}
	}
	return st
}
