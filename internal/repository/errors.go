// Package repository defines error types that are reused across multiple
// repositories together with the translation of driver errors into them.
// These sentinel values allow higher layers such as the approval engine
// and the handlers to distinguish between failure scenarios without
// knowing which SQL backend is in use.
package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalid is returned when a row to be written carries a value outside
// its column's domain.
var ErrInvalid = errors.New("invalid value")

// ErrConflict is returned when an update cannot be performed because
// the row is not in the state the update expects.
var ErrConflict = errors.New("conflict")

// ErrDuplicate is returned when an insert violates a unique key.  For
// reservation_approvals this means the role has already decided.
var ErrDuplicate = errors.New("duplicate key")

// ErrLockTimeout is returned when the database gave up waiting for a row
// lock or aborted the transaction as a deadlock victim.
var ErrLockTimeout = errors.New("lock wait timeout")

// MySQL server error numbers we translate.
const (
	mysqlDupEntry        = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// classify maps backend specific errors onto the sentinels above so that
// callers can use errors.Is.  Errors it does not recognise pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDupEntry:
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		case mysqlLockWaitTimeout, mysqlDeadlock:
			return fmt.Errorf("%w: %w", ErrLockTimeout, err)
		}
		return err
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				return fmt.Errorf("%w: %w", ErrDuplicate, err)
			}
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", ErrLockTimeout, err)
		}
	}
	return err
}
