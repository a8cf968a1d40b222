package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRequest creates an HTTP request with a JSON body. A nil body sends nothing.
func newTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// withAuthContext adds the claims and raw token AuthMiddleware would inject
func withAuthContext(req *http.Request, userID, token string) *http.Request {
	claims := &models.TokenClaims{
		Type:             models.TokenTypeAccess,
		Role:             string(models.RoleUser),
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	ctx = context.WithValue(ctx, auth.TokenContextKey, token)
	return req.WithContext(ctx)
}

// assertJSONResponse checks the status and decodes the JSON body into target
func assertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// assertErrorResponse checks the status and machine-readable error code
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message)
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc                func(ctx context.Context, email, password string) (*models.TokenPair, error)
	LogoutFunc               func(ctx context.Context, tokens ...string) error
	RefreshFunc              func(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	RequestPasswordResetFunc func(ctx context.Context, email string) error
	ConsumePasswordResetFunc func(ctx context.Context, nonce, newPassword string) error
	VerifyEmailFunc          func(ctx context.Context, nonce string) error
	RegisterFunc             func(ctx context.Context, in services.RegisterInput) (*models.User, error)
	ResendVerificationFunc   func(ctx context.Context, email string) error
	CurrentUserFunc          func(ctx context.Context, userID string) (*models.User, error)
}

func (m *MockAuthService) Login(ctx context.Context, email, password string) (*models.TokenPair, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockAuthService) Logout(ctx context.Context, tokens ...string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, tokens...)
	}
	return nil
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, models.ErrTokenMalformed
}

func (m *MockAuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.RequestPasswordResetFunc != nil {
		return m.RequestPasswordResetFunc(ctx, email)
	}
	return nil
}

func (m *MockAuthService) ConsumePasswordReset(ctx context.Context, nonce, newPassword string) error {
	if m.ConsumePasswordResetFunc != nil {
		return m.ConsumePasswordResetFunc(ctx, nonce, newPassword)
	}
	return nil
}

func (m *MockAuthService) VerifyEmail(ctx context.Context, nonce string) error {
	if m.VerifyEmailFunc != nil {
		return m.VerifyEmailFunc(ctx, nonce)
	}
	return nil
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput) (*models.User, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, in)
	}
	return &models.User{ID: "user-1", Email: in.Email}, nil
}

func (m *MockAuthService) ResendVerification(ctx context.Context, email string) error {
	if m.ResendVerificationFunc != nil {
		return m.ResendVerificationFunc(ctx, email)
	}
	return nil
}

func (m *MockAuthService) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	if m.CurrentUserFunc != nil {
		return m.CurrentUserFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	SetActiveFunc func(ctx context.Context, actorID, userID string, active bool) (*models.User, error)
	UnlockFunc    func(ctx context.Context, actorID, userID string) (*models.User, error)
}

func (m *MockAdminService) SetActive(ctx context.Context, actorID, userID string, active bool) (*models.User, error) {
	if m.SetActiveFunc != nil {
		return m.SetActiveFunc(ctx, actorID, userID, active)
	}
	return &models.User{ID: userID, Active: active}, nil
}

func (m *MockAdminService) Unlock(ctx context.Context, actorID, userID string) (*models.User, error) {
	if m.UnlockFunc != nil {
		return m.UnlockFunc(ctx, actorID, userID)
	}
	return &models.User{ID: userID}, nil
}
