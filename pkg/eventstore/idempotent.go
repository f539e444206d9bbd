package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexusid/eventstore/pkg/model"
)

// PushIdempotent appends cmds exactly once per handle: a retried call
// with the same handle returns the events produced the first time
// instead of appending a duplicate batch. Grounded on the teacher's
// AppendEventsIdempotent/processed_commands bookkeeping, generalized
// from a single-aggregate call to PushMany's arbitrary-aggregate batch.
func (es *EventStore) PushIdempotent(ctx context.Context, handle string, cmds []model.Command, ttl time.Duration) ([]model.Event, error) {
	if handle == "" {
		return nil, model.NewInvalidArgument("command handle is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	if events, found, err := es.lookupProcessedCommand(ctx, handle); err != nil {
		return nil, err
	} else if found {
		return events, nil
	}

	events, err := es.PushMany(ctx, cmds)
	if err != nil {
		return nil, err
	}

	if err := es.recordProcessedCommand(ctx, handle, events, ttl); err != nil {
		// The batch committed; a bookkeeping failure must not unwind it.
		// A retry of the same handle will append a duplicate batch in
		// the rare case the record never lands, which callers can only
		// avoid by giving the caller-side idempotency key enough margin.
		es.cfg.logger.Error("failed to record processed command", "handle", handle, "error", err)
	}

	return events, nil
}

// eventRef identifies one produced event by the coordinates eventAtVersion
// needs to re-fetch it, since a PushMany batch can span several aggregates
// and each one keeps its own version sequence.
type eventRef struct {
	InstanceID       string `json:"instance_id"`
	AggregateType    string `json:"aggregate_type"`
	AggregateID      string `json:"aggregate_id"`
	AggregateVersion int64  `json:"aggregate_version"`
}

func (es *EventStore) lookupProcessedCommand(ctx context.Context, handle string) ([]model.Event, bool, error) {
	var refsJSON string
	row := es.adapter.DB().QueryRowContext(ctx,
		`SELECT event_refs FROM processed_commands WHERE command_handle = ? AND expires_at > ?`,
		handle, time.Now().UTC().Format(timeLayout))
	err := row.Scan(&refsJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup processed command %s: %w", handle, err)
	}

	var refs []eventRef
	if err := json.Unmarshal([]byte(refsJSON), &refs); err != nil {
		return nil, false, fmt.Errorf("decode processed command event refs: %w", err)
	}

	events := make([]model.Event, 0, len(refs))
	for _, ref := range refs {
		e, err := es.eventAtVersion(ctx, ref.InstanceID, ref.AggregateType, ref.AggregateID, ref.AggregateVersion)
		if err != nil {
			return nil, false, err
		}
		events = append(events, e)
	}
	return events, true, nil
}

func (es *EventStore) recordProcessedCommand(ctx context.Context, handle string, events []model.Event, ttl time.Duration) error {
	if len(events) == 0 {
		return nil
	}
	refs := make([]eventRef, len(events))
	for i, e := range events {
		refs[i] = eventRef{
			InstanceID:       e.InstanceID,
			AggregateType:    e.AggregateType,
			AggregateID:      e.AggregateID,
			AggregateVersion: e.AggregateVersion,
		}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("encode processed command event refs: %w", err)
	}

	now := time.Now().UTC()
	_, err = es.adapter.DB().ExecContext(ctx, `
		INSERT INTO processed_commands (command_handle, event_refs, processed_at, expires_at)
		VALUES (?, ?, ?, ?)`,
		handle, string(refsJSON), now.Format(timeLayout), now.Add(ttl).Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert processed command %s: %w", handle, err)
	}
	return nil
}

// PruneExpiredCommands deletes processed-command records past their TTL.
// Operators run this periodically; the engine never calls it implicitly.
func (es *EventStore) PruneExpiredCommands(ctx context.Context) (int64, error) {
	res, err := es.adapter.DB().ExecContext(ctx,
		`DELETE FROM processed_commands WHERE expires_at <= ?`, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune expired commands: %w", err)
	}
	return res.RowsAffected()
}
