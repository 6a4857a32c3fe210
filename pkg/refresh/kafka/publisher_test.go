package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/mohammed-shakir/mapbook-query/internal/refresh"
)

func TestPublisher_SendsKeyedJSON(t *testing.T) {
	sc := mocks.NewTestConfig()
	sc.Producer.Return.Successes = true
	prod := mocks.NewAsyncProducer(t, sc)

	var got refresh.Event
	prod.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if k, _ := m.Key.Encode(); string(k) != "parcels" {
			return errors.New("message should be keyed by source, got " + string(k))
		}
		b, err := m.Value.Encode()
		if err != nil {
			return err
		}
		return json.Unmarshal(b, &got)
	})

	p := newPublisher(prod, "mapsource-refresh", nil, 4)
	ev := refresh.Event{Version: 1, Op: refresh.OpRefresh, Source: "parcels", Revision: 3, TS: time.Unix(10, 0).UTC()}
	if !p.Publish(ev) {
		t.Fatalf("publish should be accepted")
	}
	select {
	case msg := <-prod.Successes():
		if msg.Topic != "mapsource-refresh" {
			t.Fatalf("topic=%s", msg.Topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("message never produced")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got.Source != "parcels" || got.Revision != 3 {
		t.Fatalf("decoded %+v", got)
	}
}

type outcomeApplier struct {
	out refresh.Outcome
	err error
}

func (a *outcomeApplier) Apply(context.Context, refresh.Event) (refresh.Outcome, error) {
	return a.out, a.err
}

type recordPub struct{ evs []refresh.Event }

func (r *recordPub) Publish(ev refresh.Event) bool {
	r.evs = append(r.evs, ev)
	return true
}

func TestBroadcaster(t *testing.T) {
	pub := &recordPub{}
	local := &outcomeApplier{out: refresh.Outcome{Source: "parcels", Revision: 5, Layers: []string{"parcels/parcels"}}}
	b := Broadcaster{Local: local, Pub: pub}

	out, err := b.Apply(context.Background(), refresh.Event{Version: 1, Op: refresh.OpRefresh, Source: "parcels"})
	if err != nil || out.Revision != 5 {
		t.Fatalf("apply: %+v %v", out, err)
	}
	if len(pub.evs) != 1 || pub.evs[0].Revision != 5 || pub.evs[0].TS.IsZero() || len(pub.evs[0].Layers) != 1 {
		t.Fatalf("broadcast %+v", pub.evs)
	}

	local.out.Stale = true
	if _, err := b.Apply(context.Background(), refresh.Event{Version: 1, Op: refresh.OpRefresh, Source: "parcels"}); err != nil {
		t.Fatal(err)
	}
	local.out.Stale = false
	local.err = errors.New("unknown map source")
	if _, err := b.Apply(context.Background(), refresh.Event{Version: 1, Op: refresh.OpRefresh, Source: "nope"}); err == nil {
		t.Fatalf("local errors must surface")
	}
	if len(pub.evs) != 1 {
		t.Fatalf("stale or failed refreshes must not be broadcast, got %d", len(pub.evs))
	}
}
