// Package eventbus delivers ordered run lifecycle events to live subscribers
// without ever blocking the publisher. Each subscriber owns a bounded queue;
// on overflow the oldest buffered event is dropped and a synthetic gap event
// is delivered in its place so consumers can detect loss and re-query run
// state. Events are optionally mirrored to NATS for external consumers.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

const instrumentationName = "github.com/fyrsmithlabs/sdlcd/internal/eventbus"

// Config configures the event bus.
type Config struct {
	// BufferSize is the per-subscriber queue capacity (default: 64).
	BufferSize int

	// SubjectPrefix is the NATS subject prefix for mirrored events
	// (default: "pipeline.run"). Events publish to
	// "{prefix}.{run_id}.{kind}".
	SubjectPrefix string
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "pipeline.run"
	}
}

// Bus fans events out to per-run subscribers. Safe for concurrent use.
type Bus struct {
	cfg    Config
	nc     *nats.Conn
	logger *zap.Logger

	publishCounter metric.Int64Counter
	dropCounter    metric.Int64Counter

	mu     sync.RWMutex
	subs   map[string][]*Subscription
	closed bool
}

// NewBus creates an event bus. nc may be nil to disable NATS mirroring.
func NewBus(cfg Config, nc *nats.Conn, logger *zap.Logger) *Bus {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bus{
		cfg:    cfg,
		nc:     nc,
		logger: logger,
		subs:   make(map[string][]*Subscription),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	b.publishCounter, err = meter.Int64Counter(
		"sdlcd.eventbus.published_total",
		metric.WithDescription("Total number of run events published"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		logger.Warn("failed to create publish counter", zap.Error(err))
	}
	b.dropCounter, err = meter.Int64Counter(
		"sdlcd.eventbus.dropped_total",
		metric.WithDescription("Total number of events dropped from slow subscriber buffers"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		logger.Warn("failed to create drop counter", zap.Error(err))
	}

	return b
}

// Publish delivers an event to every live subscriber of the run and mirrors
// it to NATS when configured. Publish never blocks on a slow subscriber; a
// run with no subscribers is a no-op apart from the mirror.
func (b *Bus) Publish(ctx context.Context, runID string, ev pipeline.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := b.subs[runID]
	b.mu.RUnlock()

	for _, sub := range subs {
		if dropped := sub.enqueue(ev); dropped && b.dropCounter != nil {
			b.dropCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("kind", string(ev.Kind)),
			))
		}
	}

	if b.publishCounter != nil {
		b.publishCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(ev.Kind)),
		))
	}

	b.mirror(runID, ev)
}

// mirror publishes the event to NATS, best effort.
func (b *Bus) mirror(runID string, ev pipeline.Event) {
	if b.nc == nil {
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", b.cfg.SubjectPrefix, runID, ev.Kind)
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("failed to marshal event for mirror", zap.Error(err))
		return
	}
	if err := b.nc.Publish(subject, data); err != nil {
		b.logger.Warn("failed to mirror event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// Subscribe attaches a new subscriber to a run. Subscribing before the run
// starts is allowed; only events published after subscription are delivered
// (there is no replay; past events live in the checkpoint history).
func (b *Bus) Subscribe(runID string) *Subscription {
	sub := &Subscription{
		bus:    b,
		runID:  runID,
		ch:     make(chan pipeline.Event),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		max:    b.cfg.BufferSize,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub
	}
	b.subs[runID] = append(b.subs[runID], sub)
	b.mu.Unlock()

	go sub.pump()
	return sub
}

// remove detaches a subscription from the bus.
func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.runID]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.runID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.runID]) == 0 {
		delete(b.subs, sub.runID)
	}
}

// Close shuts the bus down and closes every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = make(map[string][]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
}

// Subscription is one consumer's view of a run's event stream. Events arrive
// on Events() in publish order; a gap event marks buffer overflow. The
// channel closes on Close or bus shutdown. Closing a subscription never
// affects the underlying run.
type Subscription struct {
	bus   *Bus
	runID string
	ch    chan pipeline.Event

	mu      sync.Mutex
	queue   []pipeline.Event
	dropped int
	max     int

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Events returns the subscriber's delivery channel.
func (s *Subscription) Events() <-chan pipeline.Event {
	return s.ch
}

// Close detaches the subscriber. Idempotent.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// enqueue appends an event, dropping the oldest on overflow. Returns whether
// a drop occurred. Never blocks.
func (s *Subscription) enqueue(ev pipeline.Event) (dropped bool) {
	s.mu.Lock()
	if len(s.queue) >= s.max {
		s.queue = s.queue[1:]
		s.dropped++
		dropped = true
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// pump moves events from the queue to the consumer channel. Any accumulated
// drop count is surfaced as a single gap event before the next retained
// event, which is exactly where the loss occurred (drops always take the
// queue head, so lost events are older than everything still buffered).
func (s *Subscription) pump() {
	defer close(s.ch)

	for {
		s.mu.Lock()
		var ev pipeline.Event
		var have bool
		if s.dropped > 0 {
			ev = pipeline.Event{
				Kind:      pipeline.EventGap,
				RunID:     s.runID,
				Timestamp: time.Now().UTC(),
				Dropped:   s.dropped,
			}
			s.dropped = 0
			have = true
		} else if len(s.queue) > 0 {
			ev = s.queue[0]
			s.queue = s.queue[1:]
			have = true
		}
		s.mu.Unlock()

		if !have {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.ch <- ev:
		case <-s.done:
			return
		}
	}
}
