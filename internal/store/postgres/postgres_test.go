package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/store"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestLockUser(t *testing.T) {
	tests := []struct {
		name  string
		rows  *sqlmock.Rows
		found bool
	}{
		{"present", sqlmock.NewRows([]string{"user_id"}).AddRow(42), true},
		{"absent", sqlmock.NewRows([]string{"user_id"}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			s := New(db)

			mock.ExpectQuery("SELECT user_id FROM users WHERE user_id = \\$1 FOR UPDATE").
				WithArgs(42).
				WillReturnRows(tt.rows)

			found, err := s.LockUser(context.Background(), 42)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if found != tt.found {
				t.Errorf("expected found=%v, got %v", tt.found, found)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet sqlmock expectations: %v", err)
			}
		})
	}
}

func TestDeleteUser_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db)

	mock.ExpectExec("DELETE FROM users WHERE user_id = \\$1").
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteUser(context.Background(), 7)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecoverUser_OnlyPendingRows(t *testing.T) {
	tests := []struct {
		name    string
		rows    int64
		wantErr error
	}{
		{"pending", 1, nil},
		{"purged or not scheduled", 0, store.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			s := New(db)

			mock.ExpectExec("UPDATE users SET deleted_at = NULL, updated_at = NOW\\(\\) WHERE user_id = \\$1 AND is_deleted = FALSE AND deleted_at IS NOT NULL").
				WithArgs(42).
				WillReturnResult(sqlmock.NewResult(0, tt.rows))

			err := s.RecoverUser(context.Background(), 42)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet sqlmock expectations: %v", err)
			}
		})
	}
}

func TestAnonymizeUser_RecoveredRowIsUntouched(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db)

	u := &models.User{ID: 42, UpdatedAt: time.Now()}
	u.Anonymize(u.UpdatedAt)

	mock.ExpectExec("UPDATE users SET (.+) WHERE user_id = \\$1 AND is_deleted = FALSE AND deleted_at IS NOT NULL").
		WithArgs(42, "deleted_42@deleted.com", u.Nickname, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.AnonymizeUser(context.Background(), u); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

func TestCreateUser(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db)
	now := time.Now()

	u := &models.User{
		Email:        "yogi@example.com",
		PasswordHash: "hash",
		Nickname:     "morning_flow",
		Role:         models.RoleStudent,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("yogi@example.com", "hash", "morning_flow", nil, nil, "STUDENT", nil, nil, false, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(42))

	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != 42 {
		t.Errorf("expected assigned id 42, got %d", u.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

func TestCreateUser_Conflict(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db)

	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.CreateUser(context.Background(), &models.User{Email: "dup@example.com", Role: models.RoleStudent})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetUser(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db)
	now := time.Now()

	cols := []string{"user_id", "email", "pwd", "nickname", "profile_image_url", "profile_image_url_small",
		"role", "content", "fcm_token", "is_deleted", "deleted_at", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT (.+) FROM users WHERE user_id = \\$1").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(42, "yogi@example.com", "hash", "morning_flow", nil, nil, "TEACHER", "bio", nil, false, now, now, now))

	u, err := s.GetUser(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Role != models.RoleTeacher || u.Content != "bio" || u.ProfileImageURL != "" {
		t.Errorf("unexpected user: %+v", u)
	}
	if !u.PendingDeletion() {
		t.Error("expected pending deletion from deleted_at")
	}

	mock.ExpectQuery("SELECT (.+) FROM users WHERE user_id = \\$1").
		WithArgs(43).
		WillReturnRows(sqlmock.NewRows(cols))
	if _, err := s.GetUser(context.Background(), 43); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendAndFinishEventLog(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db)
	now := time.Now()

	entry := models.StartEventLog(42, models.StepCompensation, now)

	mock.ExpectQuery("INSERT INTO user_event_logs").
		WithArgs(42, "COMPENSATION", "STARTED", nil, sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectExec("UPDATE user_event_logs SET status = \\$2, error_message = \\$3, completed_at = \\$4 WHERE id = \\$1 AND status = 'STARTED'").
		WithArgs(5, "FAILED", "disk full", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.AppendEventLog(context.Background(), entry); err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.ID != 5 {
		t.Fatalf("expected id 5, got %d", entry.ID)
	}

	if err := entry.Fail("disk full", now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := s.FinishEventLog(context.Background(), entry); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

func TestFinishEventLog_AlreadyTerminal(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db)
	now := time.Now()

	entry := models.StartEventLog(42, models.StepCompensation, now)
	entry.ID = 9
	_ = entry.Complete(now)

	mock.ExpectExec("UPDATE user_event_logs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.FinishEventLog(context.Background(), entry); !errors.Is(err, models.ErrEventLogFinalized) {
		t.Fatalf("expected ErrEventLogFinalized, got %v", err)
	}
}

func TestFinishEventLog_RejectsUnpersistedOrOpen(t *testing.T) {
	db, _ := newMockDB(t)
	s := New(db)

	entry := models.StartEventLog(42, models.StepCompensation, time.Now())
	if err := s.FinishEventLog(context.Background(), entry); err == nil {
		t.Error("expected error for record without id")
	}
	entry.ID = 3
	if err := s.FinishEventLog(context.Background(), entry); err == nil {
		t.Error("expected error for non-terminal record")
	}
}

func TestListEventLogs(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM user_event_logs WHERE user_id = \\$1 ORDER BY id").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "event_type", "status", "error_message", "created_at", "completed_at"}).
			AddRow(1, 42, "COMPENSATION", "FAILED", "boom", now, now).
			AddRow(2, 42, "COMPENSATION_FAILED", "FAILED", "boom", now, now))

	logs, err := s.ListEventLogs(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[1].EventType != models.StepCompensationFailed || logs[1].ErrorMessage == nil || *logs[1].ErrorMessage != "boom" {
		t.Errorf("unexpected second log: %+v", logs[1])
	}
}

func TestListPurgeable(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db)

	mock.ExpectQuery("SELECT user_id FROM users").
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(3).AddRow(8))

	ids, err := s.ListPurgeable(context.Background(), time.Now(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 8 {
		t.Errorf("unexpected ids: %v", ids)
	}
}

func TestRunInTransaction_SavepointRollsBackOnlyInnerWrites(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db)
	ctx := context.Background()
	deleteErr := errors.New("fk violation")

	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT "compensation"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM users").WithArgs(42).WillReturnError(deleteErr)
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT "compensation"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var inner error
	err := s.RunInTransaction(ctx, store.Serializable, func(tx store.Store) error {
		inner = tx.Savepoint(ctx, "compensation", func() error {
			return tx.DeleteUser(ctx, 42)
		})
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(inner, deleteErr) {
		t.Errorf("expected delete error from savepoint, got %v", inner)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

func TestRunInTransaction_RollbackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	s := New(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT "step"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`RELEASE SAVEPOINT "step"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RunInTransaction(context.Background(), nil, func(tx store.Store) error {
		if err := tx.Savepoint(context.Background(), "step", func() error { return nil }); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}
