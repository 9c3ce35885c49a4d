// Package account implements the user-facing lifecycle: registration,
// profile changes, deletion requests with a grace period, login with
// recovery of pending deletions, and the purge sweep that anonymizes
// accounts once the grace period has passed.
package account

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/auth"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/store"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDeleted     = errors.New("account has been deleted")
	ErrEmailTaken         = errors.New("email or nickname already in use")
	ErrReservedEmail      = errors.New("email address is reserved")
)

var reservedEmail = regexp.MustCompile(`^deleted_\d+@`)

// EventPublisher emits user lifecycle events.
type EventPublisher interface {
	PublishCreated(ctx context.Context, u *models.User) error
	PublishUpdated(ctx context.Context, u *models.User) error
	PublishDeleted(ctx context.Context, u *models.User) error
}

// Service owns the user aggregate's write paths.
type Service struct {
	store    store.Store
	events   EventPublisher
	tokens   *auth.Issuer
	sessions auth.KV
	grace    time.Duration
	batch    int
	now      func() time.Time
	log      *logrus.Entry
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPurgeBatch bounds how many accounts one sweep anonymizes.
func WithPurgeBatch(n int) Option {
	return func(s *Service) { s.batch = n }
}

func NewService(st store.Store, events EventPublisher, tokens *auth.Issuer, sessions auth.KV, grace time.Duration, opts ...Option) *Service {
	s := &Service{
		store:    st,
		events:   events,
		tokens:   tokens,
		sessions: sessions,
		grace:    grace,
		batch:    100,
		now:      time.Now,
		log:      logrus.WithField("component", "account"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionKey(userID int64) string {
	return "refresh:" + strconv.FormatInt(userID, 10)
}

// Register commits the user and then publishes CREATED. A delivery failure
// deletes the row again so no unsynced user is left behind.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if reservedEmail.MatchString(req.Email) {
		return nil, ErrReservedEmail
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := models.RoleStudent
	if req.Teacher {
		role = models.RoleTeacher
	}
	now := s.now()
	u := &models.User{
		Email:        req.Email,
		PasswordHash: hash,
		Nickname:     req.Nickname,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.store.CreateUser(ctx, u)
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", req.Email, err)
	}

	// CREATED goes out only once the row is committed, so a FAILED result
	// can always find the user it has to compensate.
	if err := s.events.PublishCreated(ctx, u); err != nil {
		if delErr := s.store.DeleteUser(ctx, u.ID); delErr != nil && !errors.Is(delErr, store.ErrNotFound) {
			s.log.WithError(delErr).WithField("user_id", u.ID).Error("failed to remove unpublished user")
		}
		return nil, fmt.Errorf("register %s: %w", req.Email, err)
	}

	s.log.WithField("user_id", u.ID).Info("user registered")
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.store.GetUser(ctx, id)
}

// UpdateProfile applies the non-empty fields of req and publishes UPDATED.
func (s *Service) UpdateProfile(ctx context.Context, id int64, req models.UpdateUserRequest) (*models.User, error) {
	var updated *models.User
	err := s.store.RunInTransaction(ctx, nil, func(tx store.Store) error {
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if u.IsDeleted {
			return ErrAccountDeleted
		}

		if req.Nickname != "" {
			u.Nickname = req.Nickname
		}
		if req.ProfileImageURL != "" {
			u.ProfileImageURL = req.ProfileImageURL
		}
		if req.ProfileImageURLSmall != "" {
			u.ProfileImageURLSmall = req.ProfileImageURLSmall
		}
		if req.Content != "" {
			u.Content = req.Content
		}
		u.UpdatedAt = s.now()

		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		updated = u
		return s.events.PublishUpdated(ctx, u)
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}

	s.log.WithField("user_id", id).Info("profile updated")
	return updated, nil
}

// RequestDeletion schedules the account for purge after the grace period.
func (s *Service) RequestDeletion(ctx context.Context, id int64) (time.Time, error) {
	at := s.now().Add(s.grace)
	if err := s.store.ScheduleDeletion(ctx, id, at); err != nil {
		return time.Time{}, err
	}
	s.log.WithFields(logrus.Fields{"user_id": id, "deleted_at": at}).Info("deletion requested")
	return at, nil
}

// Login verifies credentials and issues tokens. An account with a pending
// deletion is recovered under serializable isolation, racing any
// compensation that may be deleting the same row.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (*models.TokenResponse, error) {
	u, err := s.store.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.IsDeleted {
		return nil, ErrAccountDeleted
	}
	if !auth.CheckPassword(req.Password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	recovered := false
	if u.PendingDeletion() {
		// The read above predates the lock; a purge or another login may have
		// changed the row since.
		err := s.store.RunInTransaction(ctx, store.Serializable, func(tx store.Store) error {
			found, err := tx.LockUser(ctx, u.ID)
			if err != nil {
				return err
			}
			if !found {
				return ErrInvalidCredentials
			}
			cur, err := tx.GetUser(ctx, u.ID)
			if err != nil {
				return err
			}
			if cur.IsDeleted {
				return ErrAccountDeleted
			}
			if cur.DeletedAt == nil {
				return nil
			}
			if err := tx.RecoverUser(ctx, u.ID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return ErrAccountDeleted
				}
				return err
			}
			recovered = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		u.DeletedAt = nil
		if recovered {
			s.log.WithField("user_id", u.ID).Info("pending deletion cancelled by login")
		}
	}

	access, err := s.tokens.IssueAccess(u)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefresh(u)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	if err := s.sessions.Set(ctx, sessionKey(u.ID), refresh, s.tokens.RefreshTTL()); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	return &models.TokenResponse{AccessToken: access, RefreshToken: refresh, Recovered: recovered}, nil
}

// Refresh exchanges the current refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.TokenResponse, error) {
	claims, err := s.tokens.Parse(refreshToken, auth.RefreshToken)
	if err != nil {
		return nil, err
	}

	stored, err := s.sessions.Get(ctx, sessionKey(claims.UserID))
	if errors.Is(err, auth.ErrKeyNotFound) || (err == nil && stored != refreshToken) {
		return nil, fmt.Errorf("%w: session revoked", auth.ErrInvalidToken)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	u, err := s.store.GetUser(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", auth.ErrInvalidToken)
	}
	if err != nil {
		return nil, err
	}
	if u.IsDeleted {
		return nil, ErrAccountDeleted
	}

	access, err := s.tokens.IssueAccess(u)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &models.TokenResponse{AccessToken: access}, nil
}

func (s *Service) Logout(ctx context.Context, userID int64) error {
	return s.sessions.Delete(ctx, sessionKey(userID))
}
