package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/nexusid/eventstore/pkg/eventstore/storage"
	"github.com/nexusid/eventstore/pkg/eventstore/uniqueconstraint"
	"github.com/nexusid/eventstore/pkg/idgen"
	"github.com/nexusid/eventstore/pkg/model"
	"github.com/nexusid/eventstore/pkg/validators"
)

const timeLayout = time.RFC3339Nano

// Push appends a single command and returns its committed event. A
// command that omits AggregateID gets one generated with
// idgen.MustGenerateSortableID before validation.
func (es *EventStore) Push(ctx context.Context, cmd model.Command) (model.Event, error) {
	events, err := es.PushMany(ctx, []model.Command{cmd})
	if err != nil {
		return model.Event{}, err
	}
	return events[0], nil
}

// PushMany validates and appends a batch of commands in one transaction,
// retrying on classified-transient storage failures with exponential
// backoff (10ms * 2^attempt, capped at the configured max retries). Each
// command that omits AggregateID is stamped with its own generated one,
// so a batch creating several new aggregates at once must supply an
// explicit shared ID for any of them that need more than one event.
func (es *EventStore) PushMany(ctx context.Context, cmds []model.Command) ([]model.Event, error) {
	return es.push(ctx, cmds, nil)
}

// PushWithConcurrencyCheck behaves like PushMany but first verifies the
// shared aggregate's current version matches expectedVersion under the
// same transaction, failing Concurrency on mismatch without writing
// anything. Every command must target the same (aggregate_type,
// aggregate_id); it fails InvalidArgument otherwise.
func (es *EventStore) PushWithConcurrencyCheck(ctx context.Context, cmds []model.Command, expectedVersion int64) ([]model.Event, error) {
	if err := validateSingleAggregate(cmds); err != nil {
		return nil, err
	}
	return es.push(ctx, cmds, &expectedVersion)
}

func validateSingleAggregate(cmds []model.Command) error {
	if len(cmds) == 0 {
		return nil
	}
	first := cmds[0]
	for _, c := range cmds[1:] {
		if c.InstanceID != first.InstanceID || c.AggregateType != first.AggregateType || c.AggregateID != first.AggregateID {
			return model.NewInvalidArgument("PushWithConcurrencyCheck requires every command to target the same aggregate")
		}
	}
	return nil
}

// aggregateKey identifies one aggregate's version sequence.
type aggregateKey struct {
	instanceID    string
	aggregateType string
	aggregateID   string
}

func keyOf(instanceID string, c model.Command) aggregateKey {
	return aggregateKey{instanceID: instanceID, aggregateType: c.AggregateType, aggregateID: c.AggregateID}
}

func (es *EventStore) push(ctx context.Context, cmds []model.Command, expectedVersion *int64) ([]model.Event, error) {
	resolved := make([]model.Command, len(cmds))
	for i, c := range cmds {
		c.InstanceID = es.resolveInstanceID(c.InstanceID)
		// A concurrency-checked push targets one already-identified
		// aggregate; stamping a fresh ID per command there would defeat
		// validateSingleAggregate's same-aggregate invariant, so only
		// plain pushes get a generated ID for an omitted one.
		if c.AggregateID == "" && expectedVersion == nil {
			c.AggregateID = idgen.MustGenerateSortableID()
		}
		resolved[i] = c
	}

	if err := validators.ValidateBatch(resolved, es.cfg.maxPushBatchSize); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, es.cfg.pushTimeout)
	defer cancel()

	var events []model.Event
	var lastErr error
	start := time.Now()
	aggregateType := aggregateTypeOf(resolved)

	for attempt := 0; attempt <= es.cfg.maxRetries; attempt++ {
		var attemptErr error
		events, attemptErr = es.attemptPush(ctx, resolved, expectedVersion)
		if attemptErr == nil {
			es.cfg.metrics.RecordPush(ctx, aggregateType, time.Since(start), attempt, "ok")
			es.bus.Publish(events)
			if es.notifier != nil {
				es.notifier.NotifyCommit()
			}
			return events, nil
		}

		lastErr = attemptErr

		if !isRetryable(attemptErr) {
			es.cfg.metrics.RecordPush(ctx, aggregateType, time.Since(start), attempt, outcomeOf(attemptErr))
			return nil, attemptErr
		}
		if attempt == es.cfg.maxRetries {
			break
		}

		backoff := time.Duration(10*int(math.Pow(2, float64(attempt)))) * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			es.cfg.metrics.RecordPush(ctx, aggregateType, time.Since(start), attempt, "timeout")
			return nil, model.NewTransient(ctx.Err())
		}
	}

	es.cfg.metrics.RecordPush(ctx, aggregateType, time.Since(start), es.cfg.maxRetries, "exhausted_retries")
	return nil, model.NewTransient(lastErr)
}

func aggregateTypeOf(cmds []model.Command) string {
	if len(cmds) == 0 {
		return ""
	}
	return cmds[0].AggregateType
}

func outcomeOf(err error) string {
	switch model.KindOf(err) {
	case model.KindConcurrency:
		return "concurrency_conflict"
	case model.KindUniqueConstraintViolation:
		return "constraint_violation"
	default:
		return "error"
	}
}

// isRetryable reports whether the push loop should retry attemptErr.
// Application-level conflicts (Concurrency, UniqueConstraintViolation,
// InvalidArgument) surface immediately; only classified storage races
// are retried.
func isRetryable(err error) bool {
	switch model.KindOf(err) {
	case model.KindConcurrency, model.KindUniqueConstraintViolation, model.KindInvalidArgument:
		return false
	}
	var class storage.FailureClass
	if fc, ok := err.(interface{ FailureClass() storage.FailureClass }); ok {
		class = fc.FailureClass()
		return class.Retryable()
	}
	return false
}

// classifiedError tags a storage error with its neutral FailureClass so
// isRetryable can decide without re-inspecting the driver error.
type classifiedError struct {
	class storage.FailureClass
	err   error
}

func (e *classifiedError) Error() string                       { return e.err.Error() }
func (e *classifiedError) Unwrap() error                       { return e.err }
func (e *classifiedError) FailureClass() storage.FailureClass { return e.class }

func (es *EventStore) attemptPush(ctx context.Context, cmds []model.Command, expectedVersion *int64) ([]model.Event, error) {
	position := es.position.Next()
	now := time.Now().UTC()

	var events []model.Event

	err := es.adapter.WithTx(ctx, func(tx *sql.Tx) error {
		versions := make(map[aggregateKey]int64)

		if expectedVersion != nil && len(cmds) > 0 {
			key := keyOf(cmds[0].InstanceID, cmds[0])
			current, err := currentVersion(ctx, tx, key)
			if err != nil {
				return wrapStorageErr(err)
			}
			if current != *expectedVersion {
				return model.NewConcurrencyConflict(*expectedVersion, current)
			}
			versions[key] = current
		}

		events = make([]model.Event, len(cmds))

		for i, cmd := range cmds {
			key := keyOf(cmd.InstanceID, cmd)

			current, ok := versions[key]
			if !ok {
				v, err := currentVersion(ctx, tx, key)
				if err != nil {
					return wrapStorageErr(err)
				}
				current = v
			}
			nextVersion := current + 1
			versions[key] = nextVersion

			if err := uniqueconstraint.ApplyAdds(ctx, tx, cmd.InstanceID, cmd.UniqueConstraints); err != nil {
				return wrapConstraintErr(err)
			}

			event := model.Event{
				InstanceID:       cmd.InstanceID,
				AggregateType:    cmd.AggregateType,
				AggregateID:      cmd.AggregateID,
				EventType:        cmd.EventType,
				AggregateVersion: nextVersion,
				Revision:         cmd.Revision,
				Payload:          cmd.Payload,
				Creator:          cmd.Creator,
				Owner:            cmd.Owner,
				CreatedAt:        now,
				Position:         model.Position{Value: position, InTxOrder: int64(i)},
			}

			if err := insertEvent(ctx, tx, event); err != nil {
				return wrapStorageErr(err)
			}

			if err := uniqueconstraint.ApplyRemoves(ctx, tx, cmd.InstanceID, cmd.UniqueConstraints); err != nil {
				return wrapConstraintErr(err)
			}

			events[i] = event
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// wrapStorageErr classifies a raw storage-layer error for the retry
// loop. A unique-index hit here (as opposed to one surfaced through the
// uniqueconstraint package) means a concurrent writer raced us on the
// aggregate's primary key, i.e. a version conflict rather than an
// application-level claim collision, so it is remapped to a retryable
// serialization failure instead of staying a hard UniqueViolation.
// wrapConstraintErr leaves an application-level UniqueConstraintViolation
// untouched (it must not retry) and classifies anything else the
// uniqueconstraint package surfaced, such as a transient lock error
// hit while claiming a row.
func wrapConstraintErr(err error) error {
	if model.KindOf(err) == model.KindUniqueConstraintViolation {
		return err
	}
	return wrapStorageErr(err)
}

func wrapStorageErr(err error) error {
	class := storage.Classify(err)
	if class == storage.ClassUniqueViolation {
		class = storage.ClassSerializationFailure
	}
	return &classifiedError{class: class, err: err}
}

func currentVersion(ctx context.Context, tx *sql.Tx, key aggregateKey) (int64, error) {
	var version sql.NullInt64
	row := tx.QueryRowContext(ctx,
		`SELECT MAX(aggregate_version) FROM events WHERE instance_id = ? AND aggregate_type = ? AND aggregate_id = ?`,
		key.instanceID, key.aggregateType, key.aggregateID)
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return version.Int64, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, e model.Event) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (
			instance_id, aggregate_type, aggregate_id, event_type,
			aggregate_version, revision, created_at, payload,
			creator, owner, position, in_tx_order
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.InstanceID, e.AggregateType, e.AggregateID, e.EventType,
		e.AggregateVersion, e.Revision, e.CreatedAt.Format(timeLayout), e.Payload,
		e.Creator, e.Owner, e.Position.Value.String(), e.Position.InTxOrder,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
