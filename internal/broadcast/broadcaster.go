// Package broadcast fans attendance events out to subscribers.
//
// Publishing never blocks the caller: events go into a bounded queue that a
// single worker drains. When the queue is full the oldest event is dropped.
// Delivery is best effort; a failing sink is logged and counted, never
// retried, and never affects the operation that published the event.
package broadcast

import (
	"context"
	"sync"
	"time"

	"rollcall/internal/logs"
	"rollcall/internal/metrics"
)

// Sink receives events. Deliver must respect ctx.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// Config bounds the queue and each delivery.
type Config struct {
	QueueSize       int           `yaml:"queue_size"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

func DefaultConfig() Config {
	return Config{
		QueueSize:       256,
		DeliveryTimeout: 2 * time.Second,
	}
}

// Broadcaster delivers published events to every subscribed sink.
type Broadcaster struct {
	cfg     Config
	logger  *logs.Logger
	metrics *metrics.Registry

	mu    sync.Mutex // serializes enqueue and guards sinks
	queue chan Event
	sinks []Sink

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a Broadcaster. Call Start to begin delivering.
func New(cfg Config, logger *logs.Logger, reg *metrics.Registry) *Broadcaster {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultConfig().DeliveryTimeout
	}
	return &Broadcaster{
		cfg:     cfg,
		logger:  logger,
		metrics: reg,
		queue:   make(chan Event, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// Subscribe adds s to the set of sinks.
func (b *Broadcaster) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish enqueues e without blocking, dropping the oldest queued event
// when the queue is full.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.Inc(metrics.BroadcastPublishedTotal)
	for {
		select {
		case b.queue <- e:
			return
		default:
		}
		select {
		case old := <-b.queue:
			b.metrics.Inc(metrics.BroadcastDroppedTotal)
			b.logger.Warn("broadcast queue full, dropping oldest event", "event", old.Kind, "ids", len(old.IDs))
		default:
		}
	}
}

// Start launches the delivery worker. It stops when ctx is done or Stop is
// called.
func (b *Broadcaster) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		b.mu.Lock()
		b.cancel = cancel
		b.mu.Unlock()
		go b.run(ctx)
	})
}

// Stop halts the worker, aborting any delivery in progress, and waits for
// it to exit. Queued events are discarded.
func (b *Broadcaster) Stop() {
	b.startOnce.Do(func() { close(b.done) })
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-b.done
}

func (b *Broadcaster) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case e := <-b.queue:
			if ctx.Err() != nil {
				return
			}
			b.deliver(ctx, e)
		case <-ctx.Done():
			b.logger.Debug("broadcaster stopped")
			return
		}
	}
}

func (b *Broadcaster) deliver(ctx context.Context, e Event) {
	b.mu.Lock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()

	for _, s := range sinks {
		dctx, cancel := context.WithTimeout(ctx, b.cfg.DeliveryTimeout)
		err := s.Deliver(dctx, e)
		cancel()
		if err != nil {
			b.metrics.Inc(metrics.BroadcastFailedTotal)
			b.logger.Warn("event delivery failed", "sink", s.Name(), "event", e.Kind, "err", err)
			continue
		}
		b.metrics.Inc(metrics.BroadcastDeliveredTotal)
		b.logger.Debug("event delivered", "sink", s.Name(), "event", e.Kind, "ids", len(e.IDs))
	}
}
