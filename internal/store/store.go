// Package store defines persistence for the user aggregate and the saga audit log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Serializable is the isolation used by compensation and account recovery.
var Serializable = &sql.TxOptions{Isolation: sql.LevelSerializable}

// Users is the user aggregate gateway.
type Users interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error

	// LockUser probes for the user row and locks it for the rest of the
	// transaction. It reports false when the row does not exist.
	LockUser(ctx context.Context, id int64) (bool, error)
	// DeleteUser removes the row. It returns ErrNotFound if nothing was deleted.
	DeleteUser(ctx context.Context, id int64) error

	ScheduleDeletion(ctx context.Context, id int64, at time.Time) error
	// RecoverUser clears a pending deletion. It returns ErrNotFound unless the
	// row exists, is not anonymized and has a deletion scheduled.
	RecoverUser(ctx context.Context, id int64) error
	// AnonymizeUser writes the anonymized u over a row that is still pending
	// deletion. It returns ErrNotFound if the row was recovered or purged.
	AnonymizeUser(ctx context.Context, u *models.User) error
	ListPurgeable(ctx context.Context, before time.Time, limit int) ([]int64, error)
}

// AuditLog is the append-only saga audit trail.
type AuditLog interface {
	// AppendEventLog inserts l and assigns its ID.
	AppendEventLog(ctx context.Context, l *models.UserEventLog) error
	// FinishEventLog persists the single terminal transition of a STARTED record.
	// A record that is already terminal yields models.ErrEventLogFinalized.
	FinishEventLog(ctx context.Context, l *models.UserEventLog) error
	ListEventLogs(ctx context.Context, userID int64) ([]*models.UserEventLog, error)
}

// Store is the full persistence surface.
type Store interface {
	Users
	AuditLog

	// RunInTransaction runs fn against a transaction-scoped Store, committing
	// when fn returns nil and rolling back otherwise.
	RunInTransaction(ctx context.Context, opts *sql.TxOptions, fn func(tx Store) error) error

	// Savepoint runs fn so that a failure only rolls back fn's own writes.
	// Outside a transaction it simply calls fn.
	Savepoint(ctx context.Context, name string, fn func() error) error

	Close() error
}
