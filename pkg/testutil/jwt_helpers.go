package testutil

import (
	"time"

	"github.com/walidhousni/glavito-sub004/pkg/auth"

	"github.com/golang-jwt/jwt/v5"
)

// JWTTestHelper signs tenant-scoped tokens for route tests.
type JWTTestHelper struct {
	Secret []byte
}

// NewJWTTestHelper creates a JWT test helper with a default test secret
func NewJWTTestHelper() *JWTTestHelper {
	return &JWTTestHelper{
		Secret: []byte("test-secret-for-unit-tests"),
	}
}

// GenerateValidJWT generates a valid agent token for the given tenant
func (h *JWTTestHelper) GenerateValidJWT(userID, tenantID, email, role string) (string, error) {
	return auth.GenerateJWT(userID, tenantID, email, role, h.Secret)
}

// GenerateExpiredJWT generates a token that expired an hour ago
func (h *JWTTestHelper) GenerateExpiredJWT(userID, tenantID, email, role string) (string, error) {
	claims := &auth.Claims{
		UserID:   userID,
		TenantID: tenantID,
		Email:    email,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.Secret)
}

// GenerateJWTWithWrongSecret signs a token with a secret the service does not trust
func (h *JWTTestHelper) GenerateJWTWithWrongSecret(userID, tenantID, email, role string) (string, error) {
	return auth.GenerateJWT(userID, tenantID, email, role, []byte("wrong-secret"))
}

// TestAgent represents a helpdesk agent for token generation
type TestAgent struct {
	UserID   string
	TenantID string
	Email    string
	Role     string
}

// DefaultTestAgent returns an agent belonging to the default test tenant
func DefaultTestAgent(tenantID string) TestAgent {
	return TestAgent{
		UserID:   "agent-1",
		TenantID: tenantID,
		Email:    "agent@example.com",
		Role:     "agent",
	}
}

// GenerateJWT signs a valid token for the agent
func (a TestAgent) GenerateJWT(helper *JWTTestHelper) (string, error) {
	return helper.GenerateValidJWT(a.UserID, a.TenantID, a.Email, a.Role)
}

// GenerateExpiredJWT signs an expired token for the agent
func (a TestAgent) GenerateExpiredJWT(helper *JWTTestHelper) (string, error) {
	return helper.GenerateExpiredJWT(a.UserID, a.TenantID, a.Email, a.Role)
}
