package eventstore

import (
	"fmt"
	"strings"

	"github.com/nexusid/eventstore/pkg/model"
)

// buildPredicate translates a Filter into a conjunctive SQL WHERE
// fragment (without the leading "WHERE") plus its positional arguments.
// Array fields become IN (...) membership checks; Position is a
// greater-or-equal-than anchor. Grounded on zitadel's per-field SQL
// predicate builders (crdb.go's searchQuery → conditions), adapted from
// a field/operation registry to a direct switch since this engine has a
// fixed, small filter shape rather than an open query DSL.
func buildPredicate(instanceID string, f model.Filter) (string, []interface{}) {
	return buildPredicateAliased("", instanceID, f)
}

// buildPredicateAliased is buildPredicate with every column qualified by
// alias (plus a trailing dot), needed when the predicate runs inside a
// correlated subquery alongside another events reference.
func buildPredicateAliased(alias, instanceID string, f model.Filter) (string, []interface{}) {
	col := func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}

	var clauses []string
	var args []interface{}

	clauses = append(clauses, col("instance_id")+" = ?")
	args = append(args, instanceID)

	if len(f.AggregateTypes) > 0 {
		ph, vals := placeholders(f.AggregateTypes)
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col("aggregate_type"), ph))
		args = append(args, vals...)
	}
	if len(f.AggregateIDs) > 0 {
		ph, vals := placeholders(f.AggregateIDs)
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col("aggregate_id"), ph))
		args = append(args, vals...)
	}
	if len(f.EventTypes) > 0 {
		ph, vals := placeholders(f.EventTypes)
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col("event_type"), ph))
		args = append(args, vals...)
	}
	if f.Owner != nil {
		clauses = append(clauses, col("owner")+" = ?")
		args = append(args, *f.Owner)
	}
	if f.Creator != nil {
		clauses = append(clauses, col("creator")+" = ?")
		args = append(args, *f.Creator)
	}
	if f.CreatedAtFrom != nil {
		clauses = append(clauses, col("created_at")+" >= ?")
		args = append(args, f.CreatedAtFrom.UTC().Format(timeLayout))
	}
	if f.CreatedAtTo != nil {
		clauses = append(clauses, col("created_at")+" <= ?")
		args = append(args, f.CreatedAtTo.UTC().Format(timeLayout))
	}
	if f.Position != nil {
		p, pos := col("position"), col("in_tx_order")
		clauses = append(clauses, fmt.Sprintf("(%s > ? OR (%s = ? AND %s >= ?))", p, p, pos))
		args = append(args, f.Position.Value.String(), f.Position.Value.String(), f.Position.InTxOrder)
	}

	return strings.Join(clauses, " AND "), args
}

func placeholders(vals []string) (string, []interface{}) {
	ph := make([]string, len(vals))
	args := make([]interface{}, len(vals))
	for i, v := range vals {
		ph[i] = "?"
		args[i] = v
	}
	return strings.Join(ph, ", "), args
}

// orderClause flips the position sort direction for desc but never the
// in_tx_order tie-break, which stays ascending either way: events
// sharing one position replay in the same relative commit order
// regardless of which end of the stream the query starts from.
func orderClause(desc bool) string {
	if desc {
		return "ORDER BY position DESC, in_tx_order ASC"
	}
	return "ORDER BY position ASC, in_tx_order ASC"
}
