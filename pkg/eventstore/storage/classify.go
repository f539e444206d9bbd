package storage

import (
	"database/sql"
	"errors"
	"strings"

	"modernc.org/sqlite"
)

// FailureClass is the neutral classification a Storage Adapter maps every
// driver-specific error onto, so the engine's retry loop never
// pattern-matches on an engine-specific code (design note, "map source
// engine error codes ... once in the storage adapter"). Grounded on
// zitadel's crdb.go isUniqueViolationError, which does the same mapping
// for pq.Error/pgconn.PgError codes; here the driver is modernc.org/sqlite
// instead of lib/pq.
type FailureClass int

const (
	// ClassNone means the error was nil or sql.ErrNoRows, neither of
	// which is a storage failure.
	ClassNone FailureClass = iota
	ClassSerializationFailure
	ClassDeadlockDetected
	ClassLockUnavailable
	ClassUniqueViolation
	ClassTransient
	ClassFatal
)

func (c FailureClass) String() string {
	switch c {
	case ClassSerializationFailure:
		return "serialization_failure"
	case ClassDeadlockDetected:
		return "deadlock_detected"
	case ClassLockUnavailable:
		return "lock_unavailable"
	case ClassUniqueViolation:
		return "unique_violation"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "none"
	}
}

// Retryable reports whether the engine's push retry loop should treat
// this class as worth a backoff-and-retry attempt.
func (c FailureClass) Retryable() bool {
	switch c {
	case ClassSerializationFailure, ClassDeadlockDetected, ClassLockUnavailable, ClassTransient:
		return true
	default:
		return false
	}
}

// SQLite result codes relevant to classification. modernc.org/sqlite
// surfaces these via sqlite.Error.Code(), mirroring the raw codes from
// the C library (sqlite3.h).
const (
	sqliteBusy      = 5
	sqliteLocked    = 6
	sqliteConstraint = 19
	sqliteBusyTimeout = 5 | (9 << 8) // SQLITE_BUSY_TIMEOUT extended code
	sqliteConstraintUnique = 19 | (8 << 8) // SQLITE_CONSTRAINT_UNIQUE extended code
)

// Classify maps a driver error to the neutral taxonomy. SQLite has no
// true multi-statement deadlock detector the way CockroachDB/Postgres
// do; SQLITE_LOCKED (a conflicting lock held by another connection in
// the same process) is the closest analogue and is classified as
// DeadlockDetected so the same retry path handles it.
func Classify(err error) FailureClass {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, sql.ErrTxDone) || errors.Is(err, sql.ErrConnDone) {
		return ClassTransient
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqliteBusy, sqliteBusyTimeout:
			return ClassLockUnavailable
		case sqliteLocked:
			return ClassDeadlockDetected
		case sqliteConstraint, sqliteConstraintUnique:
			return ClassUniqueViolation
		}
	}

	// Fall back to message sniffing: some call paths wrap the driver
	// error before it reaches here, or the error originates from the
	// database/sql layer itself rather than the driver.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"):
		return ClassUniqueViolation
	case strings.Contains(msg, "database is locked"):
		return ClassLockUnavailable
	case strings.Contains(msg, "database table is locked"):
		return ClassDeadlockDetected
	case strings.Contains(msg, "busy"):
		return ClassLockUnavailable
	case errors.Is(err, sql.ErrNoRows):
		return ClassNone
	}

	return ClassFatal
}

// IsUniqueViolation is a narrow convenience used by the unique-constraint
// table, which needs only a boolean.
func IsUniqueViolation(err error) bool {
	return Classify(err) == ClassUniqueViolation
}
