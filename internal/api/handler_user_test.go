package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/account"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/auth"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/store"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockAccounts implements AccountService for testing.
type mockAccounts struct {
	registered []models.RegisterRequest
	updated    map[int64]models.UpdateUserRequest
	users      map[int64]*models.User
	loggedOut  []int64
	err        error
}

func newMockAccounts() *mockAccounts {
	return &mockAccounts{updated: map[int64]models.UpdateUserRequest{}, users: map[int64]*models.User{}}
}

func (m *mockAccounts) Register(_ context.Context, req models.RegisterRequest) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.registered = append(m.registered, req)
	return &models.User{ID: 42, Email: req.Email, Nickname: req.Nickname, Role: models.RoleStudent}, nil
}

func (m *mockAccounts) GetUser(_ context.Context, id int64) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockAccounts) UpdateProfile(_ context.Context, id int64, req models.UpdateUserRequest) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.updated[id] = req
	return &models.User{ID: id, Nickname: req.Nickname}, nil
}

func (m *mockAccounts) RequestDeletion(_ context.Context, id int64) (time.Time, error) {
	if m.err != nil {
		return time.Time{}, m.err
	}
	return time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), nil
}

func (m *mockAccounts) Login(_ context.Context, req models.LoginRequest) (*models.TokenResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.TokenResponse{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *mockAccounts) Refresh(_ context.Context, token string) (*models.TokenResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.TokenResponse{AccessToken: "access-2"}, nil
}

func (m *mockAccounts) Logout(_ context.Context, id int64) error {
	m.loggedOut = append(m.loggedOut, id)
	return m.err
}

var testIssuer = auth.NewIssuer("test-secret", time.Minute, time.Hour)

func bearer(t *testing.T, id int64) string {
	t.Helper()
	token, err := testIssuer.IssueAccess(&models.User{ID: id})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

func do(router http.Handler, method, path, body, authz string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestCreateUser_Success(t *testing.T) {
	accounts := newMockAccounts()
	router := NewRouter(NewUserHandler(accounts), testIssuer)

	body := `{"email":"test@example.com","password":"s3cretpass","nickname":"test_user"}`
	w := do(router, http.MethodPost, "/users", body, "")

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var user models.User
	if err := json.Unmarshal(w.Body.Bytes(), &user); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if user.ID != 42 || user.Email != "test@example.com" {
		t.Errorf("unexpected user: %+v", user)
	}
	if len(accounts.registered) != 1 {
		t.Fatalf("expected 1 registration, got %d", len(accounts.registered))
	}
}

func TestCreateUser_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{invalid"},
		{"bad email", `{"email":"not-an-email","password":"s3cretpass","nickname":"abc"}`},
		{"short password", `{"email":"a@example.com","password":"short","nickname":"abc"}`},
		{"bad nickname", `{"email":"a@example.com","password":"s3cretpass","nickname":"no spaces allowed"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := newMockAccounts()
			router := NewRouter(NewUserHandler(accounts), testIssuer)

			w := do(router, http.MethodPost, "/users", tt.body, "")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
			}
			if len(accounts.registered) != 0 {
				t.Error("service should not be called")
			}
		})
	}
}

func TestCreateUser_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{account.ErrEmailTaken, http.StatusConflict},
		{account.ErrReservedEmail, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		accounts := newMockAccounts()
		accounts.err = tt.err
		router := NewRouter(NewUserHandler(accounts), testIssuer)

		body := `{"email":"test@example.com","password":"s3cretpass","nickname":"test_user"}`
		if w := do(router, http.MethodPost, "/users", body, ""); w.Code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, w.Code)
		}
	}
}

func TestGetUser(t *testing.T) {
	accounts := newMockAccounts()
	accounts.users[7] = &models.User{ID: 7, Email: "a@example.com", Nickname: "a"}
	router := NewRouter(NewUserHandler(accounts), testIssuer)

	if w := do(router, http.MethodGet, "/users/7", "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := do(router, http.MethodGet, "/users/8", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	if w := do(router, http.MethodGet, "/users/abc", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestUpdateUser_RequiresOwnership(t *testing.T) {
	accounts := newMockAccounts()
	router := NewRouter(NewUserHandler(accounts), testIssuer)
	body := `{"nickname":"evening_flow"}`

	if w := do(router, http.MethodPut, "/users/7", body, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if w := do(router, http.MethodPut, "/users/7", body, bearer(t, 8)); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for another user, got %d", w.Code)
	}

	w := do(router, http.MethodPut, "/users/7", body, bearer(t, 7))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if accounts.updated[7].Nickname != "evening_flow" {
		t.Errorf("unexpected update: %+v", accounts.updated[7])
	}
}

func TestDeleteUser(t *testing.T) {
	accounts := newMockAccounts()
	router := NewRouter(NewUserHandler(accounts), testIssuer)

	w := do(router, http.MethodDelete, "/users/7", "", bearer(t, 7))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp DeletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UserID != 7 || resp.DeletedAt.IsZero() {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestLoginRefreshLogout(t *testing.T) {
	accounts := newMockAccounts()
	router := NewRouter(NewUserHandler(accounts), testIssuer)

	w := do(router, http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"s3cretpass"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", w.Code)
	}

	w = do(router, http.MethodPost, "/auth/refresh", `{"refreshToken":"refresh"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", w.Code)
	}

	w = do(router, http.MethodPost, "/auth/logout", "", bearer(t, 7))
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", w.Code)
	}
	if len(accounts.loggedOut) != 1 || accounts.loggedOut[0] != 7 {
		t.Errorf("unexpected logouts: %v", accounts.loggedOut)
	}
}

func TestLogin_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{account.ErrInvalidCredentials, http.StatusUnauthorized},
		{account.ErrAccountDeleted, http.StatusGone},
	}

	for _, tt := range tests {
		accounts := newMockAccounts()
		accounts.err = tt.err
		router := NewRouter(NewUserHandler(accounts), testIssuer)

		w := do(router, http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"s3cretpass"}`, "")
		if w.Code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, w.Code)
		}
	}
}
