package events

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/pinalbum/internal/errors"
	"github.com/tphakala/pinalbum/internal/logger"
)

// ErrBusClosed is returned by Publish after Shutdown started.
var ErrBusClosed = errors.NewStd("event bus closed")

// Config holds event bus configuration.
type Config struct {
	BufferSize int // per worker
	Workers    int
}

// DefaultConfig returns the default event bus configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize: 1000,
		Workers:    4,
	}
}

// Bus fans events out to consumers on a fixed set of workers. Events are
// sharded by location, so one location's events are processed in order.
type Bus struct {
	queues []chan Event
	wg     sync.WaitGroup

	// sendMu is held for reading while sending; Shutdown takes it for
	// writing before closing the queues.
	sendMu  sync.RWMutex
	closing atomic.Bool
	closed  bool

	consumerMu sync.RWMutex
	consumers  []Consumer

	received       atomic.Uint64
	processed      atomic.Uint64
	dropped        atomic.Uint64
	consumerErrors atomic.Uint64
	fastPathHits   atomic.Uint64

	logger logger.Logger
}

// New creates a bus and starts its workers. Zero config fields take defaults.
func New(cfg Config, log logger.Logger) *Bus {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}

	b := &Bus{
		queues: make([]chan Event, cfg.Workers),
		logger: log,
	}
	for i := range b.queues {
		b.queues[i] = make(chan Event, cfg.BufferSize)
		b.wg.Add(1)
		go b.worker(i, b.queues[i])
	}

	log.Debug("event bus started",
		logger.Int("workers", cfg.Workers),
		logger.Int("buffer_size", cfg.BufferSize))
	return b
}

// RegisterConsumer adds a consumer. Names must be unique.
func (b *Bus) RegisterConsumer(consumer Consumer) error {
	b.consumerMu.Lock()
	defer b.consumerMu.Unlock()

	for _, existing := range b.consumers {
		if existing.Name() == consumer.Name() {
			return errors.Newf("consumer %s already registered", consumer.Name()).
				Component("events").
				Category(errors.CategoryConflict).
				Build()
		}
	}
	b.consumers = append(b.consumers, consumer)
	b.logger.Debug("registered event consumer", logger.String("consumer", consumer.Name()))
	return nil
}

// UnregisterConsumer removes the consumer with name and reports whether it existed.
func (b *Bus) UnregisterConsumer(name string) bool {
	b.consumerMu.Lock()
	defer b.consumerMu.Unlock()

	for i, existing := range b.consumers {
		if existing.Name() == name {
			b.consumers = append(b.consumers[:i], b.consumers[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bus) hasConsumers() bool {
	b.consumerMu.RLock()
	defer b.consumerMu.RUnlock()
	return len(b.consumers) > 0
}

func (b *Bus) queueFor(event Event) chan Event {
	if len(b.queues) == 1 {
		return b.queues[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(event.Location()))
	return b.queues[h.Sum32()%uint32(len(b.queues))]
}

// Publish enqueues event, blocking while the worker queue is full. It fails
// only when ctx ends or the bus is shutting down.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if b == nil {
		return nil
	}
	if b.closing.Load() {
		return ErrBusClosed
	}
	if !b.hasConsumers() {
		b.fastPathHits.Add(1)
		return nil
	}

	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	select {
	case b.queueFor(event) <- event:
		b.received.Add(1)
		return nil
	case <-ctx.Done():
		b.dropped.Add(1)
		return ctx.Err()
	}
}

// TryPublish enqueues event without blocking and reports whether it was accepted.
func (b *Bus) TryPublish(event Event) bool {
	if b == nil || b.closing.Load() {
		return false
	}
	if !b.hasConsumers() {
		b.fastPathHits.Add(1)
		return false
	}

	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		return false
	}

	select {
	case b.queueFor(event) <- event:
		b.received.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.logger.Trace("event dropped due to full buffer",
			logger.String("kind", string(event.Kind())),
			logger.String("location_id", event.Location()))
		return false
	}
}

func (b *Bus) worker(id int, queue <-chan Event) {
	defer b.wg.Done()
	log := b.logger.With(logger.Int("worker_id", id))

	for event := range queue {
		b.dispatch(event, log)
	}
	log.Trace("worker stopped")
}

// dispatch sends event to every consumer, isolating panics and errors.
func (b *Bus) dispatch(event Event, log logger.Logger) {
	b.consumerMu.RLock()
	consumers := make([]Consumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.consumerMu.RUnlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.consumerErrors.Add(1)
					log.Error("consumer panicked",
						logger.String("consumer", consumer.Name()),
						logger.String("kind", string(event.Kind())),
						logger.Any("panic", r))
				}
			}()

			if err := consumer.ProcessEvent(event); err != nil {
				b.consumerErrors.Add(1)
				log.Warn("consumer error",
					logger.String("consumer", consumer.Name()),
					logger.String("kind", string(event.Kind())),
					logger.String("location_id", event.Location()),
					logger.Error(err))
				return
			}
			b.processed.Add(1)
		}()
	}
}

// Shutdown stops accepting events, lets workers drain what is queued and
// waits up to timeout for them to finish.
func (b *Bus) Shutdown(timeout time.Duration) error {
	if b == nil {
		return nil
	}
	if b.closing.Swap(true) {
		return nil
	}

	b.sendMu.Lock()
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	b.sendMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Debug("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		b.logger.Warn("event bus shutdown timeout exceeded", logger.Duration("timeout", timeout))
		return fmt.Errorf("event bus shutdown timeout exceeded after %s", timeout)
	}
}

// Stats returns current event bus statistics.
func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	return Stats{
		EventsReceived:  b.received.Load(),
		EventsProcessed: b.processed.Load(),
		EventsDropped:   b.dropped.Load(),
		ConsumerErrors:  b.consumerErrors.Load(),
		FastPathHits:    b.fastPathHits.Load(),
	}
}
