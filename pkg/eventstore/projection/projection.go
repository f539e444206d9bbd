// Package projection is the projection catch-up runtime: a registry of
// named handlers, each driven by its own poll-or-notify loop that reads
// events strictly after its checkpoint and applies them inside a
// transaction shared with the checkpoint update, guaranteeing
// at-most-once invocation per event per projection. Grounded on the
// teacher's pkg/runner for service lifecycle (Start/Stop/HealthCheck)
// and on the engine's own retry/backoff idiom for the poll loop's
// timer-driven shape.
package projection

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nexusid/eventstore/pkg/eventstore/bus"
	"github.com/nexusid/eventstore/pkg/logging"
	"github.com/nexusid/eventstore/pkg/model"
	"github.com/nexusid/eventstore/pkg/observability"
)

// Handler is a single projection's business logic. Handle runs inside
// the same transaction as the checkpoint advance; returning an error
// rolls both back and the event is retried on the next tick.
type Handler interface {
	Name() string
	Tables() []string
	EventTypes() []string
	AggregateTypes() []string
	Handle(ctx context.Context, tx *sql.Tx, event model.Event) error
}

// Source is the subset of the engine's read surface the runtime needs:
// paging events and subscribing to commit notifications. *eventstore.EventStore
// satisfies it.
type Source interface {
	EventsAfterPosition(ctx context.Context, anchor model.Position, limit int) ([]model.Event, error)
	Bus() *bus.Bus
}

// Config tunes one projection's catch-up loop.
type Config struct {
	Name          string
	BatchSize     int
	Interval      time.Duration
	EnableLocking bool
	Metrics       *observability.Metrics
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	return c
}

// Status is the health snapshot for one projection.
type Status struct {
	Name            string
	CurrentPosition model.Position
	LastProcessedAt time.Time
	LastError       error
}

// Runner drives one handler's catch-up loop. It implements
// runner.Service so it can be supervised by the same Runner that
// supervises every other long-running component.
type Runner struct {
	cfg     Config
	handler Handler
	source  Source
	store   *checkpointStore
	logger  logging.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	wake    chan struct{}

	mu     sync.Mutex
	status Status
}

// New constructs a Runner for handler against source, persisting
// checkpoints through db.
func New(db *sql.DB, handler Handler, source Source, cfg Config, logger logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NoOp()
	}
	cfg = cfg.withDefaults()
	if cfg.Name == "" {
		cfg.Name = handler.Name()
	}
	return &Runner{
		cfg:     cfg,
		handler: handler,
		source:  source,
		store:   &checkpointStore{db: db},
		logger:  logger,
		wake:    make(chan struct{}, 1),
		status:  Status{Name: cfg.Name},
	}
}

// Name identifies this projection for the supervising Runner.
func (r *Runner) Name() string { return r.cfg.Name }

// Start ensures the checkpoint row exists, subscribes to commit notifications for a
// low-latency wake-up, and spawns the poll loop. It returns once the
// loop goroutine is running.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.store.ensureRow(ctx, r.cfg.Name); err != nil {
		return fmt.Errorf("ensure checkpoint row for %s: %w", r.cfg.Name, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	var unsubscribe func()
	if r.source.Bus() != nil {
		handle := r.source.Bus().Subscribe(bus.Filter{
			AggregateTypes: r.handler.AggregateTypes(),
			EventTypes:     r.handler.EventTypes(),
		}, func([]model.Event) { r.signalWake() })
		unsubscribe = func() { r.source.Bus().Unsubscribe(handle) }
	}

	logging.InfoContext(ctx, r.logger, "projection started", "projection", r.cfg.Name, "interval", r.cfg.Interval)

	go func() {
		defer close(r.done)
		if unsubscribe != nil {
			defer unsubscribe()
		}
		r.loop(loopCtx)
	}()

	return nil
}

func (r *Runner) signalWake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Stop cancels the poll loop and waits for it to exit.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HealthCheck reports the last error recorded by the loop, if any.
func (r *Runner) HealthCheck(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.LastError
}

// Status returns a snapshot of the projection's health.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runner) loop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// tick runs catch-up batches until a round returns fewer than a full
// batch, so a wake-up or timer firing during a long backlog still
// drains it in one go rather than one batch per tick.
func (r *Runner) tick(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if r.cfg.EnableLocking {
			acquired, release, err := r.store.tryLock(ctx, r.cfg.Name, r.cfg.Interval*4)
			if err != nil {
				r.recordError(err)
				return
			}
			if !acquired {
				return
			}
			n, err := r.processBatch(ctx)
			release()
			if err != nil {
				r.recordError(err)
				return
			}
			if n < r.cfg.BatchSize {
				return
			}
			continue
		}

		n, err := r.processBatch(ctx)
		if err != nil {
			r.recordError(err)
			return
		}
		if n < r.cfg.BatchSize {
			return
		}
	}
}

func (r *Runner) processBatch(ctx context.Context) (int, error) {
	checkpoint, err := r.store.load(ctx, r.cfg.Name)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}

	raw, err := r.source.EventsAfterPosition(ctx, checkpoint, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch events after checkpoint: %w", err)
	}
	if len(raw) == 0 {
		r.cfg.Metrics.RecordProjectionTick(ctx, r.cfg.Name, 0, 0, nil)
		return 0, nil
	}
	matched := filterEvents(raw, r.handler)

	for _, e := range matched {
		if err := r.applyOne(ctx, e); err != nil {
			r.cfg.Metrics.RecordProjectionTick(ctx, r.cfg.Name, 0, 0, err)
			return 0, fmt.Errorf("apply event %s/%d: %w", e.EventType, e.AggregateVersion, err)
		}
	}

	// Advance the checkpoint to the last raw event's position even when
	// none of it matched the handler's filter, so a long run of
	// irrelevant events can't pin the cursor and make every subsequent
	// tick re-fetch the same unmatched page forever.
	lastRaw := raw[len(raw)-1]
	if len(matched) == 0 || lastRaw.Position.After(matched[len(matched)-1].Position) {
		if err := r.store.advanceOnly(ctx, r.cfg.Name, lastRaw.Position); err != nil {
			r.cfg.Metrics.RecordProjectionTick(ctx, r.cfg.Name, len(matched), 0, err)
			return 0, fmt.Errorf("advance checkpoint past unmatched events: %w", err)
		}
	}

	now := time.Now()
	r.mu.Lock()
	r.status.CurrentPosition = lastRaw.Position
	r.status.LastProcessedAt = now
	r.status.LastError = nil
	r.mu.Unlock()

	r.cfg.Metrics.RecordProjectionTick(ctx, r.cfg.Name, len(matched), now.Sub(lastRaw.CreatedAt), nil)
	return len(raw), nil
}

// applyOne runs the handler and the checkpoint advance in one
// transaction: either both happen or neither does.
func (r *Runner) applyOne(ctx context.Context, e model.Event) error {
	return r.store.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.handler.Handle(ctx, tx, e); err != nil {
			return err
		}
		return r.store.advance(ctx, tx, r.cfg.Name, e.Position)
	})
}

func (r *Runner) recordError(err error) {
	r.mu.Lock()
	r.status.LastError = err
	r.mu.Unlock()
	r.logger.Error("projection tick failed", "projection", r.cfg.Name, "error", err)
	r.store.recordError(context.Background(), r.cfg.Name, err)
}

func filterEvents(events []model.Event, h Handler) []model.Event {
	types := h.EventTypes()
	aggs := h.AggregateTypes()
	if len(types) == 0 && len(aggs) == 0 {
		return events
	}
	out := events[:0:0]
	for _, e := range events {
		if len(types) > 0 && !contains(types, e.EventType) {
			continue
		}
		if len(aggs) > 0 && !contains(aggs, e.AggregateType) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
