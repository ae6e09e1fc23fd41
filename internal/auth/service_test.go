package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-discovery/internal/auth"
	"github.com/david/grant-discovery/internal/db"
)

func TestSignupAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := auth.NewService(db.NewMemoryStore(), "test-secret")

	resp, err := svc.Signup(ctx, auth.SignupRequest{Email: " Producer@Example.com ", Password: "correct horse"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "producer@example.com", resp.User.Email)
	assert.Empty(t, resp.User.PasswordHash)

	_, err = svc.Signup(ctx, auth.SignupRequest{Email: "producer@example.com", Password: "another pass"})
	assert.ErrorIs(t, err, auth.ErrUserExists)

	login, err := svc.Login(ctx, auth.LoginRequest{Email: "PRODUCER@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, login.User.ID)
	assert.Empty(t, login.User.PasswordHash)

	_, err = svc.Login(ctx, auth.LoginRequest{Email: "producer@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, auth.ErrInvalidCreds)
	_, err = svc.Login(ctx, auth.LoginRequest{Email: "nobody@example.com", Password: "correct horse"})
	assert.ErrorIs(t, err, auth.ErrInvalidCreds)
}

func TestSignupValidation(t *testing.T) {
	svc := auth.NewService(db.NewMemoryStore(), "test-secret")
	for _, req := range []auth.SignupRequest{
		{Email: "not-an-email", Password: "long enough"},
		{Email: "a@example.com", Password: "short"},
	} {
		_, err := svc.Signup(context.Background(), req)
		assert.ErrorIs(t, err, auth.ErrInvalidInput, req.Email)
	}
}

func TestMiddleware(t *testing.T) {
	svc := auth.NewService(db.NewMemoryStore(), "test-secret")
	resp, err := svc.Signup(context.Background(), auth.SignupRequest{Email: "a@example.com", Password: "password1"})
	require.NoError(t, err)

	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		id, err := auth.GetUserIDFromContext(c)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, id.String())
	}, svc.Middleware)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + resp.Token, http.StatusOK},
		{"lowercase scheme", "bearer " + resp.Token, http.StatusOK},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
		{"bad format", "Token " + resp.Token, http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, resp.User.ID.String(), rec.Body.String())
			}
		})
	}

	other := auth.NewService(db.NewMemoryStore(), "other-secret")
	foreign, err := other.Signup(context.Background(), auth.SignupRequest{Email: "b@example.com", Password: "password1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+foreign.Token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err = svc.ParseToken(foreign.Token)
	assert.Error(t, err)
	id, err := other.ParseToken(foreign.Token)
	require.NoError(t, err)
	assert.Equal(t, foreign.User.ID, id)

	_, err = auth.GetUserIDFromContext(e.NewContext(req, rec))
	assert.Error(t, err)
	assert.NotEqual(t, uuid.Nil, resp.User.ID)
}
