package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/mapbook-query/internal/core/config"
	"github.com/mohammed-shakir/mapbook-query/internal/refresh"
)

type fakeApplier struct {
	mu     sync.Mutex
	events []refresh.Event
	err    error
	stale  bool
}

func (f *fakeApplier) Apply(_ context.Context, ev refresh.Event) (refresh.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	if f.stale {
		return refresh.Outcome{Source: ev.Source, Stale: true}, f.err
	}
	return refresh.Outcome{Source: ev.Source, Revision: ev.Revision, Layers: ev.Layers, Removed: len(ev.Layers)}, f.err
}

func (f *fakeApplier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func message(t *testing.T, ev refresh.Event, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "mapsource-refresh", Offset: offset, Timestamp: time.Now().UTC(), Value: b}
}

func newRunner(a Applier) *Runner {
	return New(Config{Enabled: true, Driver: DriverKafka}, a, Options{Register: prometheus.NewRegistry()})
}

func TestHandleMessage_RevisionDedupe(t *testing.T) {
	fa := &fakeApplier{}
	r := newRunner(fa)
	ctx := context.Background()

	ev := refresh.Event{Version: 1, Op: refresh.OpRefresh, Source: "parcels", Layers: []string{"parcels/parcels"}, Revision: 3, TS: time.Now().UTC()}
	if err := r.handleMessage(ctx, message(t, ev, 1)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if err := r.handleMessage(ctx, message(t, ev, 2)); err != nil {
		t.Fatalf("duplicate handleMessage: %v", err)
	}
	if fa.count() != 1 {
		t.Fatalf("duplicate revision should be skipped, applied %d", fa.count())
	}

	ev.Revision = 0
	for i := range 2 {
		if err := r.handleMessage(ctx, message(t, ev, int64(3+i))); err != nil {
			t.Fatalf("bump: %v", err)
		}
	}
	if fa.count() != 3 {
		t.Fatalf("revision 0 always applies, applied %d", fa.count())
	}
}

func TestHandleMessage_TimestampFallbackAndErrors(t *testing.T) {
	fa := &fakeApplier{}
	r := newRunner(fa)
	ctx := context.Background()

	ts := time.Date(2025, 10, 26, 12, 0, 0, 0, time.UTC)
	b, _ := json.Marshal(map[string]any{"version": 1, "op": "refresh", "source": "parcels"})
	msg := &sarama.ConsumerMessage{Timestamp: ts, Value: b}
	if err := r.handleMessage(ctx, msg); err != nil {
		t.Fatalf("message timestamp should fill ts: %v", err)
	}
	if got := fa.events[0].TS; !got.Equal(ts) {
		t.Fatalf("ts=%v want %v", got, ts)
	}

	if err := r.handleMessage(ctx, &sarama.ConsumerMessage{Value: []byte(`{`)}); err == nil {
		t.Fatalf("expected decode error")
	}
	bad, _ := json.Marshal(map[string]any{"version": 1, "op": "drop", "source": "parcels", "ts": ts})
	if err := r.handleMessage(ctx, &sarama.ConsumerMessage{Value: bad}); err == nil {
		t.Fatalf("expected validation error")
	}

	fa.err = errors.New("unknown map source")
	if err := r.handleMessage(ctx, message(t, refresh.Event{Version: 1, Op: "refresh", Source: "x", TS: ts}, 9)); err == nil {
		t.Fatalf("applier errors should surface")
	}
}

func TestHandleMessage_MetricsByOp(t *testing.T) {
	fa := &fakeApplier{}
	r := newRunner(fa)
	ctx := context.Background()
	ts := time.Now().UTC()

	clearEv := refresh.Event{Version: 1, Op: refresh.OpClear, Source: "sketch", Layers: []string{"sketch/sketch"}, Revision: 4, TS: ts}
	for i := range 2 {
		if err := r.handleMessage(ctx, message(t, clearEv, int64(i))); err != nil {
			t.Fatalf("clear: %v", err)
		}
	}
	_ = r.handleMessage(ctx, &sarama.ConsumerMessage{Value: []byte(`not json`)})

	fa.stale = true
	refreshEv := refresh.Event{Version: 1, Op: refresh.OpRefresh, Source: "sketch", Revision: 9, TS: ts}
	if err := r.handleMessage(ctx, message(t, refreshEv, 5)); err != nil {
		t.Fatalf("stale refresh: %v", err)
	}

	cases := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"clear ok", r.ms.msgs.WithLabelValues("clear", "ok"), 2},
		{"undecodable", r.ms.msgs.WithLabelValues("unknown", "error"), 1},
		{"refresh ok", r.ms.msgs.WithLabelValues("refresh", "ok"), 1},
		{"clear applied", r.ms.outcomes.WithLabelValues("clear", "applied"), 1},
		{"clear duplicate", r.ms.outcomes.WithLabelValues("clear", "duplicate"), 1},
		{"refresh stale", r.ms.outcomes.WithLabelValues("refresh", "stale"), 1},
		{"revision", r.ms.revision.WithLabelValues("sketch"), 4},
		{"invalidated", r.ms.invalidated.WithLabelValues("sketch"), 1},
	}
	for _, tc := range cases {
		if got := testutil.ToFloat64(tc.c); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return map[string][]int32{"t": {0, 2}} }
func (s *fakeSession) MemberID() string                         { return "m" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, msg.Offset)
	s.mu.Unlock()
}
func (s *fakeSession) Context() context.Context { return s.ctx }

type fakeClaim struct{ ch chan *sarama.ConsumerMessage }

func (c fakeClaim) Topic() string                            { return "t" }
func (c fakeClaim) Partition() int32                         { return 0 }
func (c fakeClaim) InitialOffset() int64                     { return 0 }
func (c fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func TestConsumeClaim_MarksEvenFailedMessages(t *testing.T) {
	fa := &fakeApplier{}
	r := newRunner(fa)
	h := &groupHandler{process: r.handleMessage}

	sess := &fakeSession{ctx: context.Background()}
	claim := fakeClaim{ch: make(chan *sarama.ConsumerMessage, 2)}
	claim.ch <- &sarama.ConsumerMessage{Offset: 1, Value: []byte(`not json`)}
	claim.ch <- message(t, refresh.Event{Version: 1, Op: "refresh", Source: "parcels", TS: time.Now()}, 2)
	close(claim.ch)

	if err := h.ConsumeClaim(sess, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(sess.marked) != 2 || fa.count() != 1 {
		t.Fatalf("marked=%v applied=%d", sess.marked, fa.count())
	}
}

func TestReadiness_TracksAssignment(t *testing.T) {
	r := newRunner(&fakeApplier{})
	if ok, _ := r.Readiness(); ok {
		t.Fatalf("not ready before assignment")
	}
	r.onAssign(&fakeSession{ctx: context.Background()})
	if ok, parts := r.Readiness(); !ok || len(parts) != 2 {
		t.Fatalf("ready=%v partitions=%v", ok, parts)
	}
	r.onRevoke(nil)
	if ok, _ := r.Readiness(); ok {
		t.Fatalf("not ready after revoke")
	}
}

func TestStart_DisabledIsNoop(t *testing.T) {
	r := New(FromConfig(config.RefreshCfg{Driver: "none"}), nil, Options{})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("disabled start: %v", err)
	}
	r.Stop()

	cfg := FromConfig(config.RefreshCfg{Enabled: true, Driver: "kafka", Brokers: " a:9092, ,b:9092", Topic: "t", GroupID: "g"})
	if len(cfg.Brokers) != 2 || cfg.Brokers[1] != "b:9092" {
		t.Fatalf("brokers %v", cfg.Brokers)
	}
	if err := New(cfg, nil, Options{Register: prometheus.NewRegistry()}).Start(context.Background()); err == nil {
		t.Fatalf("enabled runner without applier should fail")
	}
}
