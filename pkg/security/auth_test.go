package security

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "media-toolkit/pkg/errors"
)

func newTestAuth(t *testing.T) *TokenAuth {
	t.Helper()
	config := DefaultSecurityConfig()
	config.JWTSecret = "0123456789abcdef0123456789abcdef"
	auth, err := NewTokenAuth(config, zerolog.Nop())
	require.NoError(t, err)
	return auth
}

func TestNewTokenAuthRequiresSecret(t *testing.T) {
	_, err := NewTokenAuth(DefaultSecurityConfig(), zerolog.Nop())
	assert.Error(t, err)
}

func TestIssueAndValidate(t *testing.T) {
	auth := newTestAuth(t)

	token, err := auth.Issue("ci", []string{ScopeTools})
	require.NoError(t, err)

	claims, err := auth.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
	assert.True(t, claims.HasScope(ScopeTools))
	assert.False(t, claims.HasScope(ScopeJobs))

	other := DefaultSecurityConfig()
	other.JWTSecret = "another-secret-another-secret"
	otherAuth, err := NewTokenAuth(other, zerolog.Nop())
	require.NoError(t, err)
	_, err = otherAuth.Validate(token)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	auth := newTestAuth(t)
	auth.config.TokenTTL = -time.Minute

	token, err := auth.Issue("ci", nil)
	require.NoError(t, err)
	_, err = auth.Validate(token)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	auth := newTestAuth(t)
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(apperrors.GetHTTPStatus(err)).SendString(err.Error())
		},
	})
	app.Use(auth.Middleware())
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/api/v1/jobs/x", RequireScope(ScopeJobs), func(c *fiber.Ctx) error { return c.SendString("job") })

	tools, err := auth.Issue("ci", []string{ScopeTools})
	require.NoError(t, err)
	admin, err := auth.Issue("ops", []string{ScopeAdmin})
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"public path", "/health", "", fiber.StatusOK},
		{"missing header", "/api/v1/jobs/x", "", fiber.StatusUnauthorized},
		{"not bearer", "/api/v1/jobs/x", "Basic abc", fiber.StatusUnauthorized},
		{"garbage token", "/api/v1/jobs/x", "Bearer abc", fiber.StatusUnauthorized},
		{"missing scope", "/api/v1/jobs/x", "Bearer " + tools, fiber.StatusForbidden},
		{"admin scope", "/api/v1/jobs/x", "Bearer " + admin, fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
		})
	}
}
