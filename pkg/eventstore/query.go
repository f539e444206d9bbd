package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nexusid/eventstore/pkg/eventstore/readmodel"
	"github.com/nexusid/eventstore/pkg/model"
)

const eventColumns = `instance_id, aggregate_type, aggregate_id, event_type,
	aggregate_version, revision, created_at, payload, creator, owner, position, in_tx_order`

func scanEvent(row interface{ Scan(...interface{}) error }) (model.Event, error) {
	var e model.Event
	var createdAt, position string
	if err := row.Scan(
		&e.InstanceID, &e.AggregateType, &e.AggregateID, &e.EventType,
		&e.AggregateVersion, &e.Revision, &createdAt, &e.Payload,
		&e.Creator, &e.Owner, &position, &e.Position.InTxOrder,
	); err != nil {
		return model.Event{}, err
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return model.Event{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	d, err := decimal.NewFromString(position)
	if err != nil {
		return model.Event{}, fmt.Errorf("parse position %q: %w", position, err)
	}
	e.Position.Value = d
	return e, nil
}

// Query returns every event matching filter, conjunctively, ordered by
// position ascending unless filter.Desc is set, with in_tx_order always
// ascending as the tie-break regardless of Desc.
func (es *EventStore) Query(ctx context.Context, filter model.Filter) ([]model.Event, error) {
	instanceID := es.resolveInstanceID(valueOr(filter.InstanceID, ""))
	where, args := buildPredicate(instanceID, filter)

	query := fmt.Sprintf("SELECT %s FROM events WHERE %s %s", eventColumns, where, orderClause(filter.Desc))
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return es.queryEvents(ctx, query, args)
}

// Search unions each filter's matches, removes anything matching the
// optional exclusion filter, and applies a single global order/limit.
func (es *EventStore) Search(ctx context.Context, sq model.SearchQuery) ([]model.Event, error) {
	if len(sq.Filters) == 0 {
		return nil, nil
	}

	var unionParts []string
	var args []interface{}
	for _, f := range sq.Filters {
		instanceID := es.resolveInstanceID(valueOr(f.InstanceID, ""))
		where, fargs := buildPredicate(instanceID, f)
		unionParts = append(unionParts, fmt.Sprintf("SELECT %s FROM events WHERE %s", eventColumns, where))
		args = append(args, fargs...)
	}
	query := fmt.Sprintf("SELECT * FROM (%s) AS events", joinUnion(unionParts))

	if sq.Exclude != nil {
		instanceID := es.resolveInstanceID(valueOr(sq.Exclude.InstanceID, ""))
		where, eargs := buildPredicateAliased("e2", instanceID, *sq.Exclude)
		query += fmt.Sprintf(" WHERE NOT EXISTS (SELECT 1 FROM events e2 WHERE e2.instance_id = events.instance_id"+
			" AND e2.aggregate_type = events.aggregate_type AND e2.aggregate_id = events.aggregate_id"+
			" AND e2.aggregate_version = events.aggregate_version AND %s)", where)
		args = append(args, eargs...)
	}

	query += " " + orderClause(sq.Desc)
	if sq.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, sq.Limit)
	}

	return es.queryEvents(ctx, query, args)
}

func joinUnion(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += " UNION " + p
	}
	return out
}

// Count returns the number of events matching filter without loading them.
func (es *EventStore) Count(ctx context.Context, filter model.Filter) (int64, error) {
	instanceID := es.resolveInstanceID(valueOr(filter.InstanceID, ""))
	where, args := buildPredicate(instanceID, filter)
	query := fmt.Sprintf("SELECT COUNT(*) FROM events WHERE %s", where)

	var count int64
	if err := es.adapter.DB().QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// LatestEvent returns the highest-version event for an aggregate, or nil
// if the aggregate has no events.
func (es *EventStore) LatestEvent(ctx context.Context, instanceID, aggregateType, aggregateID string) (*model.Event, error) {
	instanceID = es.resolveInstanceID(instanceID)
	query := fmt.Sprintf(`SELECT %s FROM events
		WHERE instance_id = ? AND aggregate_type = ? AND aggregate_id = ?
		ORDER BY aggregate_version DESC LIMIT 1`, eventColumns)

	row := es.adapter.DB().QueryRowContext(ctx, query, instanceID, aggregateType, aggregateID)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest event: %w", err)
	}
	return &e, nil
}

func (es *EventStore) eventAtVersion(ctx context.Context, instanceID, aggregateType, aggregateID string, version int64) (model.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events
		WHERE instance_id = ? AND aggregate_type = ? AND aggregate_id = ? AND aggregate_version = ?`, eventColumns)
	row := es.adapter.DB().QueryRowContext(ctx, query, instanceID, aggregateType, aggregateID, version)
	e, err := scanEvent(row)
	if err != nil {
		return model.Event{}, fmt.Errorf("load event at version %d: %w", version, err)
	}
	return e, nil
}

// Aggregate reconstructs the full (or version-capped) event history of
// one aggregate in ascending version order, or nil if it has never been
// written to. maxVersion of 0 means no cap.
func (es *EventStore) Aggregate(ctx context.Context, instanceID, aggregateType, aggregateID string, maxVersion int64) (*model.Aggregate, error) {
	instanceID = es.resolveInstanceID(instanceID)

	query := fmt.Sprintf(`SELECT %s FROM events
		WHERE instance_id = ? AND aggregate_type = ? AND aggregate_id = ?`, eventColumns)
	args := []interface{}{instanceID, aggregateType, aggregateID}
	if maxVersion > 0 {
		query += " AND aggregate_version <= ?"
		args = append(args, maxVersion)
	}
	query += " ORDER BY aggregate_version ASC"

	events, err := es.queryEvents(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("load aggregate: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	last := events[len(events)-1]
	return &model.Aggregate{
		ID:         aggregateID,
		Type:       aggregateType,
		InstanceID: instanceID,
		Owner:      last.Owner,
		Version:    last.AggregateVersion,
		Position:   last.Position,
		Events:     events,
	}, nil
}

// EventsAfterPosition returns up to limit events strictly after anchor
// in global order, the basis for both catch-up subscriptions and
// replaying a checkpoint. limit defaults to 1000.
func (es *EventStore) EventsAfterPosition(ctx context.Context, anchor model.Position, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := fmt.Sprintf(`SELECT %s FROM events
		WHERE instance_id = ? AND (position > ? OR (position = ? AND in_tx_order > ?))
		ORDER BY position ASC, in_tx_order ASC
		LIMIT ?`, eventColumns)
	args := []interface{}{es.cfg.instanceID, anchor.Value.String(), anchor.Value.String(), anchor.InTxOrder, limit}
	return es.queryEvents(ctx, query, args)
}

// LatestPosition returns the maximum (position, in_tx_order) among
// events matching filter, or the zero position if none match. A nil
// filter scans the whole configured instance.
func (es *EventStore) LatestPosition(ctx context.Context, filter *model.Filter) (model.Position, error) {
	f := model.Filter{}
	if filter != nil {
		f = *filter
	}
	instanceID := es.resolveInstanceID(valueOr(f.InstanceID, ""))
	where, args := buildPredicate(instanceID, f)

	query := fmt.Sprintf(`SELECT position, in_tx_order FROM events WHERE %s
		ORDER BY position DESC, in_tx_order DESC LIMIT 1`, where)

	var position string
	var inTxOrder int64
	err := es.adapter.DB().QueryRowContext(ctx, query, args...).Scan(&position, &inTxOrder)
	if err == sql.ErrNoRows {
		return model.ZeroPosition(), nil
	}
	if err != nil {
		return model.Position{}, fmt.Errorf("latest position: %w", err)
	}
	d, err := decimal.NewFromString(position)
	if err != nil {
		return model.Position{}, fmt.Errorf("parse position %q: %w", position, err)
	}
	return model.Position{Value: d, InTxOrder: inTxOrder}, nil
}

// InstanceIDs returns the sorted, distinct set of tenants with at least
// one event matching filter's AggregateTypes and EventTypes. Every other
// filter field, InstanceID included, is ignored.
func (es *EventStore) InstanceIDs(ctx context.Context, filter *model.Filter) ([]string, error) {
	query := "SELECT DISTINCT instance_id FROM events"
	var args []interface{}

	if filter != nil && (len(filter.AggregateTypes) > 0 || len(filter.EventTypes) > 0) {
		var clauses []string
		if len(filter.AggregateTypes) > 0 {
			ph, vals := placeholders(filter.AggregateTypes)
			clauses = append(clauses, fmt.Sprintf("aggregate_type IN (%s)", ph))
			args = append(args, vals...)
		}
		if len(filter.EventTypes) > 0 {
			ph, vals := placeholders(filter.EventTypes)
			clauses = append(clauses, fmt.Sprintf("event_type IN (%s)", ph))
			args = append(args, vals...)
		}
		query += " WHERE " + joinAnd(clauses)
	}
	query += " ORDER BY instance_id ASC"

	rows, err := es.adapter.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("instance ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan instance id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}

// FilterToReducer streams matching events into reducer in batches of at
// least 100, calling AppendEvents then Reduce per batch, so callers can
// replay arbitrarily large histories without materializing them. Unlike
// Query's inclusive Position anchor, the internal paging cursor here is
// strictly-greater-than so each event is delivered exactly once even
// when filter.Position names an anchor to resume from.
func (es *EventStore) FilterToReducer(ctx context.Context, filter model.Filter, reducer readmodel.Reducer) error {
	const batchSize = 100

	anchor := model.ZeroPosition()
	if filter.Position != nil {
		anchor = *filter.Position
	}
	instanceID := es.resolveInstanceID(valueOr(filter.InstanceID, ""))

	for {
		paged := filter
		paged.Position = nil
		where, args := buildPredicate(instanceID, paged)
		where += " AND (position > ? OR (position = ? AND in_tx_order > ?))"
		args = append(args, anchor.Value.String(), anchor.Value.String(), anchor.InTxOrder)

		query := fmt.Sprintf("SELECT %s FROM events WHERE %s ORDER BY position ASC, in_tx_order ASC LIMIT ?",
			eventColumns, where)
		args = append(args, batchSize)

		events, err := es.queryEvents(ctx, query, args)
		if err != nil {
			return fmt.Errorf("filter to reducer: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		reducer.AppendEvents(events...)
		if err := reducer.Reduce(ctx); err != nil {
			return fmt.Errorf("reduce batch: %w", err)
		}

		last := events[len(events)-1]
		anchor = model.Position{Value: last.Position.Value, InTxOrder: last.Position.InTxOrder}

		if len(events) < batchSize {
			return nil
		}
	}
}

func (es *EventStore) queryEvents(ctx context.Context, query string, args []interface{}) ([]model.Event, error) {
	rows, err := es.adapter.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func valueOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
