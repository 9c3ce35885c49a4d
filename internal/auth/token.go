package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenType separates access from refresh tokens.
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

// Claims are the JWT claims issued for a user.
type Claims struct {
	UserID    int64       `json:"userId"`
	Role      models.Role `json:"role"`
	TokenType TokenType   `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(secret string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

// RefreshTTL is how long a refresh token and its session entry live.
func (i *Issuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

func (i *Issuer) IssueAccess(u *models.User) (string, error) {
	return i.issue(u, AccessToken, i.accessTTL)
}

func (i *Issuer) IssueRefresh(u *models.User) (string, error) {
	return i.issue(u, RefreshToken, i.refreshTTL)
}

func (i *Issuer) issue(u *models.User, typ TokenType, ttl time.Duration) (string, error) {
	id, err := nanoid.New()
	if err != nil {
		return "", fmt.Errorf("token id: %w", err)
	}
	now := i.now()
	claims := Claims{
		UserID:    u.ID,
		Role:      u.Role,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Parse verifies tokenString and checks that it is of type want.
func (i *Issuer) Parse(tokenString string, want TokenType) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.TokenType != want {
		return nil, fmt.Errorf("%w: got %s token, want %s", ErrInvalidToken, claims.TokenType, want)
	}
	return claims, nil
}
