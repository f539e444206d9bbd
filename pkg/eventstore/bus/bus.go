// Package bus is the process-local subscription bus: post-commit,
// best-effort fan-out of committed batches to in-process subscribers.
// It owns no durability and no cross-process delivery — that is the
// separate, optional RemoteNotifier in notifier.go. Structurally grounded
// on the teacher's nats.EventBus (subscriber map guarded by a mutex,
// filtered dispatch), generalized from pub/sub-over-NATS to an in-memory
// fan-out per the design note that a subscription bus is a value owned
// by one engine instance, not a process-wide singleton.
package bus

import (
	"context"
	"sync"

	"github.com/nexusid/eventstore/pkg/idgen"
	"github.com/nexusid/eventstore/pkg/logging"
	"github.com/nexusid/eventstore/pkg/model"
	"github.com/nexusid/eventstore/pkg/observability"
)

// Filter narrows which events a subscriber receives. A nil/empty slice
// matches everything on that axis.
type Filter struct {
	AggregateTypes []string
	EventTypes     []string
}

func (f Filter) matches(e model.Event) bool {
	if len(f.AggregateTypes) > 0 && !contains(f.AggregateTypes, e.AggregateType) {
		return false
	}
	if len(f.EventTypes) > 0 && !contains(f.EventTypes, e.EventType) {
		return false
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Handler receives a committed batch. It must not block for long: the
// bus calls it on its own goroutine per subscriber per batch, but a
// handler that never returns leaks goroutines.
type Handler func(events []model.Event)

type subscriber struct {
	handle string
	filter Filter
	fn     Handler
}

// Bus fans committed batches out to registered subscribers. The zero
// value is not usable; construct with New.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]subscriber
	enabled bool
	logger  logging.Logger
	metrics *observability.Metrics
	wg      sync.WaitGroup
	closed  bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithEnabled toggles whether Publish actually dispatches. Disabled
// mirrors enable_subscriptions=false: Subscribe still succeeds but
// Publish is a no-op, matching a store configured without subscriptions.
func WithEnabled(enabled bool) Option {
	return func(b *Bus) { b.enabled = enabled }
}

// WithLogger attaches a structured logger for swallowed handler panics.
func WithLogger(l logging.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics attaches OpenTelemetry instruments recorded by Publish. A
// nil *Metrics leaves the recording call a no-op.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// New constructs a Bus. Subscriptions are enabled by default.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:    make(map[string]subscriber),
		enabled: true,
		logger:  logging.NoOp(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h to receive future Publish calls whose events
// match filter. It returns a handle usable with Unsubscribe.
func (b *Bus) Subscribe(filter Filter, h Handler) string {
	handle := idgen.NewHandle()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[handle] = subscriber{handle: handle, filter: filter, fn: h}
	return handle
}

// Unsubscribe removes a previously registered handler. Unknown handles
// are ignored.
func (b *Bus) Unsubscribe(handle string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, handle)
}

// Publish delivers events to every matching subscriber asynchronously.
// It never blocks the caller beyond taking a read lock to snapshot the
// subscriber list, and it never returns an error: bus failures must not
// affect the Push* result that triggered them.
func (b *Bus) Publish(events []model.Event) {
	if !b.enabled || len(events) == 0 {
		return
	}

	type delivery struct {
		s       subscriber
		matched []model.Event
	}

	// wg.Add must happen under the same RLock as the closed check: CloseAll
	// takes the write lock before calling wg.Wait, so holding RLock here
	// guarantees every Add this call makes is visible to that Wait before
	// it can observe the counter reaching zero.
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	deliveries := make([]delivery, 0, len(b.subs))
	for _, s := range b.subs {
		matched := make([]model.Event, 0, len(events))
		for _, e := range events {
			if s.filter.matches(e) {
				matched = append(matched, e)
			}
		}
		if len(matched) == 0 {
			continue
		}
		b.wg.Add(1)
		deliveries = append(deliveries, delivery{s: s, matched: matched})
	}
	b.mu.RUnlock()

	for _, d := range deliveries {
		b.metrics.RecordFanout(context.Background(), len(d.matched))
		go func(s subscriber, matched []model.Event) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("subscription handler panicked", "handle", s.handle, "panic", r)
				}
			}()
			s.fn(matched)
		}(d.s, d.matched)
	}
}

// CloseAll unregisters every subscriber and waits for in-flight
// deliveries to finish. Further Publish calls are no-ops.
func (b *Bus) CloseAll() {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[string]subscriber)
	b.mu.Unlock()
	b.wg.Wait()
}
