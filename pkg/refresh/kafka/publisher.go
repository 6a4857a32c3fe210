package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/mapbook-query/internal/refresh"
)

// Publisher sends refresh events to the topic without blocking callers.
// Events are keyed by source so one source's events stay in order.
type Publisher struct {
	topic   string
	log     *slog.Logger
	events  chan refresh.Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
}

func NewPublisher(cfg Config, logger *slog.Logger, queueSize int) (*Publisher, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_5_0_0
	sc.Producer.Return.Errors = true
	sc.Producer.Return.Successes = false
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	prod, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("refresh publisher: create async producer: %w", err)
	}
	return newPublisher(prod, cfg.Topic, logger, queueSize), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, logger *slog.Logger, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		log:     logger,
		events:  make(chan refresh.Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Error("refresh publisher: marshal", "source", ev.Source, "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Source),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn("refresh publisher: produce failed", "err", err)
			}
		}
	}()
	return p
}

// Publish queues ev. It reports false when the queue is full and the event
// was dropped.
func (p *Publisher) Publish(ev refresh.Event) bool {
	select {
	case p.events <- ev:
		return true
	default:
		return false
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("refresh publisher: close producer: %w", err)
	}
	return nil
}

// Broadcaster applies a refresh locally, then publishes it with the
// revision it produced. Peers bump to that revision; this process sees its
// own event come back as stale.
type Broadcaster struct {
	Local Applier
	Pub   interface{ Publish(refresh.Event) bool }
	Log   *slog.Logger
}

func (b Broadcaster) Apply(ctx context.Context, ev refresh.Event) (refresh.Outcome, error) {
	out, err := b.Local.Apply(ctx, ev)
	if err != nil || out.Stale {
		return out, err
	}
	fwd := ev
	fwd.Revision = out.Revision
	fwd.Layers = out.Layers
	if fwd.TS.IsZero() {
		fwd.TS = time.Now().UTC()
	}
	if !b.Pub.Publish(fwd) && b.Log != nil {
		b.Log.WarnContext(ctx, "refresh not broadcast, publish queue full", "source", ev.Source, "revision", out.Revision)
	}
	return out, nil
}
