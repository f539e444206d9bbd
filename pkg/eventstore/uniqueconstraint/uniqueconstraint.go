// Package uniqueconstraint implements tenant-scoped or global uniqueness
// claims that are added and removed atomically alongside the event batch
// that carries them.
// Grounded on zitadel's handleUniqueConstraints/fillUniqueConstraints
// (crdb.go) for the claim/release/teardown shape. A claim is a plain
// INSERT; the primary-key violation SQLite raises for a duplicate claim
// is mapped to model.NewUniqueConstraintViolation.
package uniqueconstraint

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nexusid/eventstore/pkg/eventstore/storage"
	"github.com/nexusid/eventstore/pkg/model"
)

// globalInstance is the sentinel instance_id row value representing the
// global scope.
const globalInstance = ""

func scopeKey(instanceID string, scope model.UniqueConstraintScope) string {
	if scope == model.ScopeGlobal {
		return globalInstance
	}
	return instanceID
}

// Add claims a (unique_type, unique_field) pair within tx. It fails with
// model.NewUniqueConstraintViolation if the row already exists.
func Add(ctx context.Context, tx *sql.Tx, instanceID string, c model.UniqueConstraint) error {
	key := scopeKey(instanceID, c.Scope)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO unique_constraints (unique_type, unique_field, instance_id) VALUES (?, ?, ?)`,
		c.UniqueType, c.UniqueField, key)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return model.NewUniqueConstraintViolation(c.UniqueType, c.UniqueField)
		}
		return fmt.Errorf("claim unique constraint %s/%s: %w", c.UniqueType, c.UniqueField, err)
	}
	return nil
}

// Remove releases a claim within tx. Removing an absent claim is a no-op.
func Remove(ctx context.Context, tx *sql.Tx, instanceID string, c model.UniqueConstraint) error {
	key := scopeKey(instanceID, c.Scope)
	_, err := tx.ExecContext(ctx,
		`DELETE FROM unique_constraints WHERE unique_type = ? AND unique_field = ? AND instance_id = ?`,
		c.UniqueType, c.UniqueField, key)
	if err != nil {
		return fmt.Errorf("release unique constraint %s/%s: %w", c.UniqueType, c.UniqueField, err)
	}
	return nil
}

// InstanceRemove deletes every claim belonging to instanceID, used for
// tenant teardown.
func InstanceRemove(ctx context.Context, tx *sql.Tx, instanceID string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM unique_constraints WHERE instance_id = ?`, instanceID)
	if err != nil {
		return fmt.Errorf("teardown unique constraints for instance %s: %w", instanceID, err)
	}
	return nil
}

// ApplyAdds and ApplyRemoves let the engine sequence unique-constraint
// claims around the event insert: every Add runs before the insert,
// every Remove after.
func ApplyAdds(ctx context.Context, tx *sql.Tx, instanceID string, constraints []model.UniqueConstraint) error {
	for _, c := range constraints {
		if c.Action != model.ConstraintAdd {
			continue
		}
		if err := Add(ctx, tx, instanceID, c); err != nil {
			return err
		}
	}
	return nil
}

// ApplyRemoves processes every Remove action in constraints.
func ApplyRemoves(ctx context.Context, tx *sql.Tx, instanceID string, constraints []model.UniqueConstraint) error {
	for _, c := range constraints {
		if c.Action != model.ConstraintRemove {
			continue
		}
		if err := Remove(ctx, tx, instanceID, c); err != nil {
			return err
		}
	}
	return nil
}
