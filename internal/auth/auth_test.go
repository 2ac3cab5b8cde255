package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/datapulse/orchestrator/internal/pkg/httputil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

func TestTokenValidator_ValidToken(t *testing.T) {
	v, err := NewTokenValidator(testSecret, "orchestrator")
	require.NoError(t, err)

	token, err := IssueToken(testSecret, "orchestrator", "alice", time.Minute)
	require.NoError(t, err)

	subject, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
}

func TestTokenValidator_Rejects(t *testing.T) {
	v, err := NewTokenValidator(testSecret, "orchestrator")
	require.NoError(t, err)

	expired, err := IssueToken(testSecret, "orchestrator", "alice", -time.Minute)
	require.NoError(t, err)
	wrongSecret, err := IssueToken("other-secret", "orchestrator", "alice", time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := IssueToken(testSecret, "someone-else", "alice", time.Minute)
	require.NoError(t, err)
	noSubject, err := IssueToken(testSecret, "orchestrator", "", time.Minute)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "alice",
		Issuer:  "orchestrator",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "orchestrator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong secret": wrongSecret,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"no expiry":    noExpiry,
		"other alg":    hs512,
		"garbage":      "not-a-jwt",
		"empty":        "",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			subject, err := v.ValidateToken(context.Background(), token)
			assert.Error(t, err)
			assert.Empty(t, subject)
		})
	}
}

func TestNewTokenValidator_EmptySecret(t *testing.T) {
	_, err := NewTokenValidator("", "")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestAgentTokenChecker(t *testing.T) {
	hash, err := HashAgentToken("agent-token")
	require.NoError(t, err)

	checker, err := NewAgentTokenChecker(hash)
	require.NoError(t, err)

	assert.NoError(t, checker.Check("agent-token"))
	assert.ErrorIs(t, checker.Check("wrong"), ErrInvalidToken)
	assert.ErrorIs(t, checker.Check(""), ErrInvalidToken)
}

func TestNewAgentTokenChecker_InvalidHash(t *testing.T) {
	_, err := NewAgentTokenChecker("")
	assert.ErrorIs(t, err, ErrEmptySecret)

	_, err = NewAgentTokenChecker("plain-text-token")
	assert.Error(t, err)
}

func TestMiddlewareIntegration(t *testing.T) {
	v, err := NewTokenValidator(testSecret, "")
	require.NoError(t, err)

	var gotSubject string
	handler := httputil.AuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = httputil.GetSubject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := IssueToken(testSecret, "", "bob", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "bob", gotSubject)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
