// Package postgres implements store.Store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/store"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

// PostgresStore implements store.Store backed by a *sql.DB.
type PostgresStore struct {
	db *sql.DB
}

var _ store.Store = (*PostgresStore)(nil)

// New wraps an open database. Migrations are applied by the caller.
func New(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	return queryCreateUser(ctx, s.db, u)
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return queryGetUser(ctx, s.db, id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return queryGetUserByEmail(ctx, s.db, email)
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u *models.User) error {
	return queryUpdateUser(ctx, s.db, u)
}

func (s *PostgresStore) LockUser(ctx context.Context, id int64) (bool, error) {
	return queryLockUser(ctx, s.db, id)
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id int64) error {
	return queryDeleteUser(ctx, s.db, id)
}

func (s *PostgresStore) ScheduleDeletion(ctx context.Context, id int64, at time.Time) error {
	return queryScheduleDeletion(ctx, s.db, id, at)
}

func (s *PostgresStore) RecoverUser(ctx context.Context, id int64) error {
	return queryRecoverUser(ctx, s.db, id)
}

func (s *PostgresStore) AnonymizeUser(ctx context.Context, u *models.User) error {
	return queryAnonymizeUser(ctx, s.db, u)
}

func (s *PostgresStore) ListPurgeable(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	return queryListPurgeable(ctx, s.db, before, limit)
}

func (s *PostgresStore) AppendEventLog(ctx context.Context, l *models.UserEventLog) error {
	return queryAppendEventLog(ctx, s.db, l)
}

func (s *PostgresStore) FinishEventLog(ctx context.Context, l *models.UserEventLog) error {
	return queryFinishEventLog(ctx, s.db, l)
}

func (s *PostgresStore) ListEventLogs(ctx context.Context, userID int64) ([]*models.UserEventLog, error) {
	return queryListEventLogs(ctx, s.db, userID)
}

// Savepoint has nothing to scope outside a transaction.
func (s *PostgresStore) Savepoint(_ context.Context, _ string, fn func() error) error {
	return fn()
}

// RunInTransaction begins a transaction with opts, hands fn a txStore bound to
// it, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, opts *sql.TxOptions, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&txStore{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

var _ store.Store = (*txStore)(nil)

func (s *txStore) Close() error { return nil }

func (s *txStore) CreateUser(ctx context.Context, u *models.User) error {
	return queryCreateUser(ctx, s.tx, u)
}

func (s *txStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return queryGetUser(ctx, s.tx, id)
}

func (s *txStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return queryGetUserByEmail(ctx, s.tx, email)
}

func (s *txStore) UpdateUser(ctx context.Context, u *models.User) error {
	return queryUpdateUser(ctx, s.tx, u)
}

func (s *txStore) LockUser(ctx context.Context, id int64) (bool, error) {
	return queryLockUser(ctx, s.tx, id)
}

func (s *txStore) DeleteUser(ctx context.Context, id int64) error {
	return queryDeleteUser(ctx, s.tx, id)
}

func (s *txStore) ScheduleDeletion(ctx context.Context, id int64, at time.Time) error {
	return queryScheduleDeletion(ctx, s.tx, id, at)
}

func (s *txStore) RecoverUser(ctx context.Context, id int64) error {
	return queryRecoverUser(ctx, s.tx, id)
}

func (s *txStore) AnonymizeUser(ctx context.Context, u *models.User) error {
	return queryAnonymizeUser(ctx, s.tx, u)
}

func (s *txStore) ListPurgeable(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	return queryListPurgeable(ctx, s.tx, before, limit)
}

func (s *txStore) AppendEventLog(ctx context.Context, l *models.UserEventLog) error {
	return queryAppendEventLog(ctx, s.tx, l)
}

func (s *txStore) FinishEventLog(ctx context.Context, l *models.UserEventLog) error {
	return queryFinishEventLog(ctx, s.tx, l)
}

func (s *txStore) ListEventLogs(ctx context.Context, userID int64) ([]*models.UserEventLog, error) {
	return queryListEventLogs(ctx, s.tx, userID)
}

// RunInTransaction joins the current transaction.
func (s *txStore) RunInTransaction(_ context.Context, _ *sql.TxOptions, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *txStore) Savepoint(ctx context.Context, name string, fn func() error) error {
	ident := pq.QuoteIdentifier(name)
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+ident); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	if err := fn(); err != nil {
		if _, rbErr := s.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+ident); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint %s: %w", name, rbErr))
		}
		return err
	}

	if _, err := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+ident); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}
