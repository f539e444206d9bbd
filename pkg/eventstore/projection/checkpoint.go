package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nexusid/eventstore/pkg/idgen"
	"github.com/nexusid/eventstore/pkg/model"
	"github.com/shopspring/decimal"
)

const timeLayout = time.RFC3339Nano

// checkpointStore persists catch-up progress and, optionally, an
// advisory lock per projection name. It opens its own transactions
// against the same database the engine writes to; co-transacting a
// handler's side effects with the checkpoint advance is what makes
// delivery exactly-once rather than at-least-once.
type checkpointStore struct {
	db *sql.DB
}

func (s *checkpointStore) ensureRow(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projection_checkpoints (name, position, in_tx_order, updated_at)
		VALUES (?, '0', 0, ?)
		ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("ensure projection checkpoint row: %w", err)
	}
	return nil
}

func (s *checkpointStore) load(ctx context.Context, name string) (model.Position, error) {
	var value string
	var inTxOrder int64
	row := s.db.QueryRowContext(ctx,
		`SELECT position, in_tx_order FROM projection_checkpoints WHERE name = ?`, name)
	if err := row.Scan(&value, &inTxOrder); err != nil {
		if err == sql.ErrNoRows {
			return model.Position{}, nil
		}
		return model.Position{}, fmt.Errorf("load checkpoint %s: %w", name, err)
	}
	dec, err := decimal.NewFromString(value)
	if err != nil {
		return model.Position{}, fmt.Errorf("parse checkpoint position %s: %w", name, err)
	}
	return model.Position{Value: dec, InTxOrder: inTxOrder}, nil
}

func (s *checkpointStore) advance(ctx context.Context, tx *sql.Tx, name string, pos model.Position) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := tx.ExecContext(ctx, `
		UPDATE projection_checkpoints
		SET position = ?, in_tx_order = ?, updated_at = ?, last_processed_at = ?, last_error = NULL
		WHERE name = ?`,
		pos.Value.String(), pos.InTxOrder, now, now, name)
	if err != nil {
		return fmt.Errorf("advance checkpoint %s: %w", name, err)
	}
	return nil
}

// advanceOnly moves the checkpoint forward outside of a handler
// transaction, used to skip past events the filter excluded so they
// never pin the cursor.
func (s *checkpointStore) advanceOnly(ctx context.Context, name string, pos model.Position) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
		UPDATE projection_checkpoints
		SET position = ?, in_tx_order = ?, updated_at = ?, last_processed_at = ?, last_error = NULL
		WHERE name = ?`,
		pos.Value.String(), pos.InTxOrder, now, now, name)
	if err != nil {
		return fmt.Errorf("advance checkpoint %s past unmatched events: %w", name, err)
	}
	return nil
}

func (s *checkpointStore) recordError(ctx context.Context, name string, cause error) {
	if cause == nil {
		return
	}
	_, _ = s.db.ExecContext(ctx,
		`UPDATE projection_checkpoints SET last_error = ? WHERE name = ?`,
		cause.Error(), name)
}

func (s *checkpointStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin projection transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit projection transaction: %w", err)
	}
	return nil
}

// tryLock attempts to acquire the advisory lock row for name, claiming
// it for leaseFor. A stale lock (expired holder) is stolen. release
// must be called regardless of the returned error once acquired is true.
func (s *checkpointStore) tryLock(ctx context.Context, name string, leaseFor time.Duration) (acquired bool, release func(), err error) {
	holder := idgen.NewHandle()
	now := time.Now().UTC()
	expires := now.Add(leaseFor)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, func() {}, fmt.Errorf("begin lock transaction: %w", err)
	}

	var existingHolder string
	var existingExpires string
	row := tx.QueryRowContext(ctx, `SELECT holder, expires_at FROM projection_locks WHERE name = ?`, name)
	scanErr := row.Scan(&existingHolder, &existingExpires)

	switch {
	case scanErr == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO projection_locks (name, holder, expires_at) VALUES (?, ?, ?)`,
			name, holder, expires.Format(timeLayout))
	case scanErr != nil:
		_ = tx.Rollback()
		return false, func() {}, fmt.Errorf("read projection lock %s: %w", name, scanErr)
	default:
		expiresAt, parseErr := time.Parse(timeLayout, existingExpires)
		if parseErr == nil && now.Before(expiresAt) {
			_ = tx.Rollback()
			return false, func() {}, nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE projection_locks SET holder = ?, expires_at = ? WHERE name = ?`,
			holder, expires.Format(timeLayout), name)
	}
	if err != nil {
		_ = tx.Rollback()
		return false, func() {}, fmt.Errorf("claim projection lock %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, func() {}, fmt.Errorf("commit projection lock claim %s: %w", name, err)
	}

	release = func() {
		_, _ = s.db.ExecContext(context.Background(),
			`DELETE FROM projection_locks WHERE name = ? AND holder = ?`, name, holder)
	}
	return true, release, nil
}
