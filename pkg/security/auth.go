package security

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "media-toolkit/pkg/errors"
)

// Scopes granted by tokens.
const (
	ScopeTools = "tools"
	ScopeJobs  = "jobs"
	ScopeAdmin = "admin"
)

// ClaimsKey is the fiber.Ctx local holding validated claims.
const ClaimsKey = "auth_claims"

// SecurityConfig holds token settings.
type SecurityConfig struct {
	JWTSecret             string
	JWTIssuer             string
	JWTAudience           string
	TokenTTL              time.Duration
	EnableSecurityHeaders bool
	// Paths served without a token, matched by prefix.
	PublicPaths []string
}

func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		JWTIssuer:             "media-toolkit",
		JWTAudience:           "media-toolkit-api",
		TokenTTL:              24 * time.Hour,
		EnableSecurityHeaders: true,
		PublicPaths:           []string{"/health", "/ready", "/live", "/metrics"},
	}
}

// Claims represents JWT claims
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants scope. Admin grants everything.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope) || slices.Contains(c.Scopes, ScopeAdmin)
}

// TokenAuth issues and validates HMAC signed bearer tokens.
type TokenAuth struct {
	config *SecurityConfig
	logger zerolog.Logger
}

func NewTokenAuth(config *SecurityConfig, logger zerolog.Logger) (*TokenAuth, error) {
	if config == nil {
		config = DefaultSecurityConfig()
	}
	if len(config.JWTSecret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 characters")
	}
	return &TokenAuth{
		config: config,
		logger: logger.With().Str("component", "auth").Logger(),
	}, nil
}

// Issue signs a token for subject with the given scopes.
func (a *TokenAuth) Issue(subject string, scopes []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    a.config.JWTIssuer,
			Audience:  []string{a.config.JWTAudience},
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(a.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	a.logger.Info().
		Str("subject", subject).
		Strs("scopes", scopes).
		Msg("Token issued")

	return tokenString, nil
}

// Validate parses tokenString and checks signature, issuer, audience and expiry.
func (a *TokenAuth) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.config.JWTSecret), nil
	},
		jwt.WithIssuer(a.config.JWTIssuer),
		jwt.WithAudience(a.config.JWTAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token. Public paths
// pass through.
func (a *TokenAuth) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if a.config.EnableSecurityHeaders {
			c.Set("X-Content-Type-Options", "nosniff")
			c.Set("X-Frame-Options", "DENY")
		}

		path := c.Path()
		for _, p := range a.config.PublicPaths {
			if strings.HasPrefix(path, p) {
				return c.Next()
			}
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return apperrors.NewAuthError("Authorization header required")
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return apperrors.NewAuthError("Bearer token required")
		}

		claims, err := a.Validate(tokenString)
		if err != nil {
			a.logger.Debug().Err(err).Str("path", path).Msg("Rejected token")
			return apperrors.NewAuthError("Invalid token")
		}

		c.Locals(ClaimsKey, claims)
		return c.Next()
	}
}

// RequireScope rejects tokens that do not carry scope. It must run after
// Middleware.
func RequireScope(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals(ClaimsKey).(*Claims)
		if !ok || !claims.HasScope(scope) {
			err := apperrors.New(apperrors.AuthError, "INSUFFICIENT_SCOPE", "Token lacks scope "+scope)
			err.HTTPStatus = fiber.StatusForbidden
			return err
		}
		return c.Next()
	}
}
