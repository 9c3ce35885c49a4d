package models

import (
	"fmt"
	"time"
)

// Role distinguishes instructors from members.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTeacher Role = "TEACHER"
)

// User is the local user aggregate.
type User struct {
	ID                   int64      `json:"userId"`
	Email                string     `json:"email"`
	PasswordHash         string     `json:"-"`
	Nickname             string     `json:"nickname"`
	ProfileImageURL      string     `json:"profileImageUrl,omitempty"`
	ProfileImageURLSmall string     `json:"profileImageUrlSmall,omitempty"`
	Role                 Role       `json:"role"`
	Content              string     `json:"content,omitempty"`
	FCMToken             string     `json:"-"`
	IsDeleted            bool       `json:"isDeleted"`
	DeletedAt            *time.Time `json:"deletedAt,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// PendingDeletion reports whether a deletion was requested but the account
// has not been purged yet.
func (u *User) PendingDeletion() bool {
	return u.DeletedAt != nil && !u.IsDeleted
}

// Anonymize strips personal data from the aggregate and marks it deleted.
func (u *User) Anonymize(at time.Time) {
	u.Email = fmt.Sprintf("deleted_%d@deleted.com", u.ID)
	u.Nickname = fmt.Sprintf("삭제된 사용자%d", u.ID)
	u.ProfileImageURL = ""
	u.ProfileImageURLSmall = ""
	u.Content = ""
	u.FCMToken = ""
	u.IsDeleted = true
	u.UpdatedAt = at
}

// RegisterRequest is the request body for registration.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email" example:"yogi@example.com"`
	Password string `json:"password" binding:"required,min=8,max=72" example:"s3cretpass"`
	Nickname string `json:"nickname" binding:"required,nickname" example:"morning_flow"`
	Teacher  bool   `json:"teacher" example:"false"`
}

// UpdateUserRequest is the request body for a profile update.
type UpdateUserRequest struct {
	Nickname             string `json:"nickname,omitempty" binding:"omitempty,nickname" example:"evening_flow"`
	ProfileImageURL      string `json:"profileImageUrl,omitempty" binding:"omitempty,url"`
	ProfileImageURLSmall string `json:"profileImageUrlSmall,omitempty" binding:"omitempty,url"`
	Content              string `json:"content,omitempty" binding:"omitempty,max=500" example:"Hatha and vinyasa."`
}

// LoginRequest is the request body for login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email" example:"yogi@example.com"`
	Password string `json:"password" binding:"required" example:"s3cretpass"`
}

// RefreshRequest carries a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	Recovered    bool   `json:"recovered,omitempty"`
}
