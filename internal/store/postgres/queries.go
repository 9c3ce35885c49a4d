package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/store"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
	pgutil "github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/postgres"
)

const userColumns = `user_id, email, pwd, nickname, profile_image_url, profile_image_url_small,
	role, content, fcm_token, is_deleted, deleted_at, created_at, updated_at`

const eventLogColumns = `id, user_id, event_type, status, error_message, created_at, completed_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func queryCreateUser(ctx context.Context, db executor, u *models.User) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO users (email, pwd, nickname, profile_image_url, profile_image_url_small,
			role, content, fcm_token, is_deleted, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING user_id`,
		u.Email, u.PasswordHash, u.Nickname,
		nullString(u.ProfileImageURL), nullString(u.ProfileImageURLSmall),
		string(u.Role), nullString(u.Content), nullString(u.FCMToken),
		u.IsDeleted, u.DeletedAt, u.CreatedAt, u.UpdatedAt,
	).Scan(&u.ID)
	if pgutil.IsUniqueViolation(err) {
		return fmt.Errorf("create user %s: %w", u.Email, store.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func queryGetUser(ctx context.Context, db executor, id int64) (*models.User, error) {
	row := db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
	}
	return u, err
}

func queryGetUserByEmail(ctx context.Context, db executor, email string) (*models.User, error) {
	row := db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, store.ErrNotFound)
	}
	return u, err
}

func queryUpdateUser(ctx context.Context, db executor, u *models.User) error {
	res, err := db.ExecContext(ctx, `
		UPDATE users SET email = $2, nickname = $3, profile_image_url = $4,
			profile_image_url_small = $5, content = $6, fcm_token = $7,
			is_deleted = $8, deleted_at = $9, updated_at = $10
		WHERE user_id = $1`,
		u.ID, u.Email, u.Nickname,
		nullString(u.ProfileImageURL), nullString(u.ProfileImageURLSmall),
		nullString(u.Content), nullString(u.FCMToken),
		u.IsDeleted, u.DeletedAt, u.UpdatedAt,
	)
	if pgutil.IsUniqueViolation(err) {
		return fmt.Errorf("update user %d: %w", u.ID, store.ErrConflict)
	}
	return expectOne(res, err, fmt.Sprintf("update user %d", u.ID))
}

func queryLockUser(ctx context.Context, db executor, id int64) (bool, error) {
	var found int64
	err := db.QueryRowContext(ctx, `SELECT user_id FROM users WHERE user_id = $1 FOR UPDATE`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock user %d: %w", id, err)
	}
	return true, nil
}

func queryDeleteUser(ctx context.Context, db executor, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM users WHERE user_id = $1`, id)
	return expectOne(res, err, fmt.Sprintf("delete user %d", id))
}

func queryScheduleDeletion(ctx context.Context, db executor, id int64, at time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE users SET deleted_at = $2, updated_at = NOW()
		WHERE user_id = $1 AND is_deleted = FALSE`, id, at)
	return expectOne(res, err, fmt.Sprintf("schedule deletion of user %d", id))
}

func queryRecoverUser(ctx context.Context, db executor, id int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE users SET deleted_at = NULL, updated_at = NOW()
		WHERE user_id = $1 AND is_deleted = FALSE AND deleted_at IS NOT NULL`, id)
	return expectOne(res, err, fmt.Sprintf("recover user %d", id))
}

func queryAnonymizeUser(ctx context.Context, db executor, u *models.User) error {
	res, err := db.ExecContext(ctx, `
		UPDATE users SET email = $2, nickname = $3, profile_image_url = NULL,
			profile_image_url_small = NULL, content = NULL, fcm_token = NULL,
			is_deleted = TRUE, updated_at = $4
		WHERE user_id = $1 AND is_deleted = FALSE AND deleted_at IS NOT NULL`,
		u.ID, u.Email, u.Nickname, u.UpdatedAt,
	)
	return expectOne(res, err, fmt.Sprintf("anonymize user %d", u.ID))
}

func queryListPurgeable(ctx context.Context, db executor, before time.Time, limit int) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id FROM users
		WHERE is_deleted = FALSE AND deleted_at IS NOT NULL AND deleted_at <= $1
		ORDER BY deleted_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list purgeable users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan purgeable user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func queryAppendEventLog(ctx context.Context, db executor, l *models.UserEventLog) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO user_event_logs (user_id, event_type, status, error_message, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		l.UserID, l.EventType, string(l.Status), l.ErrorMessage, l.CreatedAt, l.CompletedAt,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("append event log for user %d: %w", l.UserID, err)
	}
	return nil
}

func queryFinishEventLog(ctx context.Context, db executor, l *models.UserEventLog) error {
	if l.ID == 0 {
		return fmt.Errorf("finish event log: record was never appended")
	}
	if !l.Terminal() {
		return fmt.Errorf("finish event log %d: status %s is not terminal", l.ID, l.Status)
	}

	res, err := db.ExecContext(ctx, `
		UPDATE user_event_logs SET status = $2, error_message = $3, completed_at = $4
		WHERE id = $1 AND status = 'STARTED'`,
		l.ID, string(l.Status), l.ErrorMessage, l.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("finish event log %d: %w", l.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish event log %d: %w", l.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("finish event log %d: %w", l.ID, models.ErrEventLogFinalized)
	}
	return nil
}

func queryListEventLogs(ctx context.Context, db executor, userID int64) ([]*models.UserEventLog, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+eventLogColumns+` FROM user_event_logs WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list event logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.UserEventLog
	for rows.Next() {
		var (
			l           models.UserEventLog
			status      string
			errMsg      sql.NullString
			completedAt sql.NullTime
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.EventType, &status, &errMsg, &l.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan event log: %w", err)
		}
		l.Status = models.LogStatus(status)
		if errMsg.Valid {
			l.ErrorMessage = &errMsg.String
		}
		if completedAt.Valid {
			l.CompletedAt = &completedAt.Time
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func scanUser(row scanner) (*models.User, error) {
	var (
		u                                    models.User
		role                                 string
		image, imageSmall, content, fcmToken sql.NullString
		deletedAt                            sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Nickname, &image, &imageSmall,
		&role, &content, &fcmToken, &u.IsDeleted, &deletedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.ProfileImageURL = image.String
	u.ProfileImageURLSmall = imageSmall.String
	u.Content = content.String
	u.FCMToken = fcmToken.String
	if deletedAt.Valid {
		u.DeletedAt = &deletedAt.Time
	}
	return &u, nil
}

func expectOne(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
