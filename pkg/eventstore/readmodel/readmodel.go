// Package readmodel defines the reducer contract the engine's
// FilterToReducer streams events into: append the batch, then fold it.
// The capability set replaces an inheritance hierarchy with a small
// embeddable base struct, per the design note: "the engine calls
// reduce(event) on anything satisfying {append_events, reduce}; base
// state tracking is a small embeddable value, not a super-type."
package readmodel

import (
	"context"
	"time"

	"github.com/nexusid/eventstore/pkg/model"
)

// Reducer is satisfied by any stateful consumer that folds a batch of
// events into a materialized view.
type Reducer interface {
	// AppendEvents buffers events for the next Reduce call. It never
	// mutates domain state directly.
	AppendEvents(events ...model.Event)
	// Reduce applies every buffered event in order and clears the buffer.
	Reduce(ctx context.Context) error
}

// Base tracks the fields every read model has regardless of domain:
// identity, how many events it has folded, and the position/time of the
// latest one. Embed it; do not subclass it.
type Base struct {
	AggregateID      string
	AggregateType    string
	InstanceID       string
	Owner            string
	ProcessedSeq     int64
	Position         model.Position
	CreationDate     time.Time
	ChangeDate       time.Time

	pending []model.Event
}

// AppendEvents buffers events for the next Reduce call.
func (b *Base) AppendEvents(events ...model.Event) {
	b.pending = append(b.pending, events...)
}

// HandleEvent is the extension point: embedders override it by shadowing
// the method on their own type. Base's own implementation only tracks
// bookkeeping fields common to every read model; domain-specific
// read models define their own HandleEvent that does the same bookkeeping
// via ApplyBase and then folds the payload into domain fields.
func (b *Base) ApplyBase(e model.Event) {
	if b.ProcessedSeq == 0 {
		b.CreationDate = e.CreatedAt
		b.AggregateID = e.AggregateID
		b.AggregateType = e.AggregateType
		b.InstanceID = e.InstanceID
	}
	b.Owner = e.Owner
	b.ChangeDate = e.CreatedAt
	b.Position = e.Position
	b.ProcessedSeq++
}

// Reset zeroes the bookkeeping fields, leaving domain fields the
// embedding type owns untouched. Intended for explicit operator use
// (e.g. forcing a projection rebuild), not normal operation.
func (b *Base) Reset() {
	b.AggregateID = ""
	b.AggregateType = ""
	b.InstanceID = ""
	b.Owner = ""
	b.ProcessedSeq = 0
	b.Position = model.ZeroPosition()
	b.CreationDate = time.Time{}
	b.ChangeDate = time.Time{}
	b.pending = nil
}

// Pending returns and clears the buffered events; callers implementing
// Reduce use this to drain the buffer in FIFO order.
func (b *Base) Pending() []model.Event {
	p := b.pending
	b.pending = nil
	return p
}
