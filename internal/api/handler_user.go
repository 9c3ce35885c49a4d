package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/account"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/auth"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/store"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/middleware"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

// AccountService is the account behaviour the handlers depend on.
type AccountService interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpdateProfile(ctx context.Context, id int64, req models.UpdateUserRequest) (*models.User, error)
	RequestDeletion(ctx context.Context, id int64) (time.Time, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenResponse, error)
	Logout(ctx context.Context, userID int64) error
}

// UserHandler handles user and session HTTP requests.
type UserHandler struct {
	Accounts AccountService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(accounts AccountService) *UserHandler {
	return &UserHandler{Accounts: accounts}
}

// DeletionResponse reports when a requested deletion takes effect.
type DeletionResponse struct {
	UserID    int64     `json:"userId"`
	DeletedAt time.Time `json:"deletedAt"`
}

// CreateUser godoc
// @Summary      Register a new user
// @Description  Creates a user and publishes a user-created event
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request  body      models.RegisterRequest  true  "Registration request"
// @Success      201      {object}  models.User
// @Failure      400      {object}  map[string]any
// @Failure      409      {object}  map[string]string
// @Failure      500      {object}  map[string]string
// @Router       /users [post]
func (h *UserHandler) CreateUser(c *gin.Context) {
	log := middleware.Logger(c, "api")

	var req models.RegisterRequest
	if !bind(c, &req) {
		return
	}

	user, err := h.Accounts.Register(c.Request.Context(), req)
	if err != nil {
		log.WithError(err).WithField("email", req.Email).Warn("registration failed")
		respondError(c, err)
		return
	}

	log.WithField("user_id", user.ID).Info("user created")
	c.JSON(http.StatusCreated, user)
}

// GetUser godoc
// @Summary      Get a user by ID
// @Description  Returns a single user
// @Tags         users
// @Produce      json
// @Param        id   path      int  true  "User ID"
// @Success      200  {object}  models.User
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /users/{id} [get]
func (h *UserHandler) GetUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	user, err := h.Accounts.GetUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateUser godoc
// @Summary      Update the caller's profile
// @Description  Updates nickname, images or bio and publishes a user-updated event
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      int                       true  "User ID"
// @Param        request  body      models.UpdateUserRequest  true  "Update user request"
// @Success      200      {object}  models.User
// @Failure      400      {object}  map[string]any
// @Failure      401      {object}  map[string]string
// @Failure      403      {object}  map[string]string
// @Failure      404      {object}  map[string]string
// @Router       /users/{id} [put]
func (h *UserHandler) UpdateUser(c *gin.Context) {
	id, ok := ownID(c)
	if !ok {
		return
	}

	var req models.UpdateUserRequest
	if !bind(c, &req) {
		return
	}

	user, err := h.Accounts.UpdateProfile(c.Request.Context(), id, req)
	if err != nil {
		middleware.Logger(c, "api").WithError(err).Warn("profile update failed")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// DeleteUser godoc
// @Summary      Request account deletion
// @Description  Schedules the caller's account for anonymization after the grace period. Logging in before then cancels it.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "User ID"
// @Success      202  {object}  DeletionResponse
// @Failure      401  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /users/{id} [delete]
func (h *UserHandler) DeleteUser(c *gin.Context) {
	id, ok := ownID(c)
	if !ok {
		return
	}

	at, err := h.Accounts.RequestDeletion(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, DeletionResponse{UserID: id, DeletedAt: at})
}

// Login godoc
// @Summary      Log in
// @Description  Issues access and refresh tokens. A pending deletion is cancelled.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body      models.LoginRequest  true  "Credentials"
// @Success      200      {object}  models.TokenResponse
// @Failure      401      {object}  map[string]string
// @Failure      410      {object}  map[string]string
// @Router       /auth/login [post]
func (h *UserHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.Accounts.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Refresh godoc
// @Summary      Refresh the access token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body      models.RefreshRequest  true  "Refresh token"
// @Success      200      {object}  models.TokenResponse
// @Failure      401      {object}  map[string]string
// @Router       /auth/refresh [post]
func (h *UserHandler) Refresh(c *gin.Context) {
	var req models.RefreshRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.Accounts.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Logout godoc
// @Summary      Log out
// @Description  Revokes the caller's refresh token
// @Tags         auth
// @Security     BearerAuth
// @Success      204
// @Failure      401  {object}  map[string]string
// @Router       /auth/logout [post]
func (h *UserHandler) Logout(c *gin.Context) {
	id, _ := middleware.GetUserID(c)
	if err := h.Accounts.Logout(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		if fields := middleware.ValidationErrors(err); fields != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fields})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

// ownID resolves the path id and requires it to be the caller's.
func ownID(c *gin.Context) (int64, bool) {
	id, ok := pathID(c)
	if !ok {
		return 0, false
	}
	caller, _ := middleware.GetUserID(c)
	if caller != id {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot modify another user"})
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, account.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, account.ErrReservedEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, account.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, account.ErrAccountDeleted):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		middleware.Logger(c, "api").WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
