// ABOUTME: Tests for JWT issue/verify and the bearer auth middleware
// ABOUTME: Exercises expiry, tampering, wrong secret, and disabled-auth passthrough

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens_IssueAndVerify(t *testing.T) {
	tokens := NewTokens([]byte("unit-test-secret"))

	signed, err := tokens.Issue("ops@example.com", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	subject, err := tokens.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", subject)
}

func TestTokens_EmptySubjectRejected(t *testing.T) {
	tokens := NewTokens([]byte("secret"))
	_, err := tokens.Issue("", time.Hour)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestTokens_Expired(t *testing.T) {
	tokens := NewTokens([]byte("secret"))
	signed, err := tokens.Issue("caller", -time.Minute)
	require.NoError(t, err)

	_, err = tokens.Verify(signed)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokens_WrongSecret(t *testing.T) {
	signed, err := NewTokens([]byte("secret-a")).Issue("caller", time.Hour)
	require.NoError(t, err)

	_, err = NewTokens([]byte("secret-b")).Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_WrongIssuer(t *testing.T) {
	secret := []byte("secret")
	claims := jwt.RegisteredClaims{
		Issuer:    "somebody-else",
		Subject:   "caller",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	_, err = NewTokens(secret).Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_RejectsUnsignedAlg(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "caller",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokens([]byte("secret")).Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func authedHandler(t *testing.T) (http.Handler, *string) {
	t.Helper()
	var seen string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Subject(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return h, &seen
}

func TestMiddleware_ValidToken(t *testing.T) {
	tokens := NewTokens([]byte("secret"))
	signed, err := tokens.Issue("caller", time.Hour)
	require.NoError(t, err)

	inner, seen := authedHandler(t)
	handler := Middleware(tokens)(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/agencies", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "caller", *seen)
}

func TestMiddleware_RejectsMissingAndMalformedHeaders(t *testing.T) {
	handler := Middleware(NewTokens([]byte("secret")))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	for _, header := range []string{"", "Basic abc123", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/api/agencies", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
		assert.Contains(t, rec.Body.String(), "error")
	}
}

func TestMiddleware_RejectsBadToken(t *testing.T) {
	handler := Middleware(NewTokens([]byte("secret")))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/agencies", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_NilVerifierPassesThrough(t *testing.T) {
	inner, seen := authedHandler(t)
	handler := Middleware(nil)(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/agencies", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, *seen)
}
