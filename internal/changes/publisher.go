// Package changes publishes feature change events to Kafka.
package changes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/invalidation"
)

var (
	ErrQueueFull = errors.New("changes: publish queue full")
	ErrClosed    = errors.New("changes: publisher closed")
)

// Publisher queues events and hands them to an async producer. Publishing
// never blocks: when the queue is full the event is dropped.
type Publisher struct {
	topic   string
	events  chan invalidation.Event
	prod    sarama.AsyncProducer
	log     *slog.Logger
	now     func() time.Time
	stopped chan struct{}
	errDone chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("changes: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, log), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan invalidation.Event, queueSize),
		prod:    prod,
		log:     log,
		now:     time.Now,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Error("change event marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Layer),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Error("change event produce", "err", err)
			}
		}
	}()
	return p
}

// Publish enqueues ev.
func (p *Publisher) Publish(ev invalidation.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.events <- ev:
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// FeatureCreated publishes an insert event for f.
func (p *Publisher) FeatureCreated(_ context.Context, f *feature.Feature) error {
	return p.Publish(invalidation.FromFeature(invalidation.OpInsert, f, p.now()))
}

// Dropped is the number of events lost to a full queue.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Close flushes queued events and closes the producer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("changes: close producer: %w", err)
	}
	return nil
}
