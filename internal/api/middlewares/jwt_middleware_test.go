package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func serve(t *testing.T, authHeader string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seen string
	h := JWTMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OwnerID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/quota", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestJWTMiddlewareAcceptsUserIDClaim(t *testing.T) {
	tok := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"user_id": "alice", "exp": time.Now().Add(time.Hour).Unix()})
	rec, owner := serve(t, "Bearer "+tok)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "alice", owner)
}

func TestJWTMiddlewareFallsBackToSubject(t *testing.T) {
	tok := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "bob"})
	rec, owner := serve(t, "Bearer "+tok)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "bob", owner)
}

func TestJWTMiddlewareRejects(t *testing.T) {
	expired := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"user_id": "alice", "exp": time.Now().Add(-time.Hour).Unix()})
	wrongKey := sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"user_id": "alice"})
	noOwner := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"role": "admin"})
	unsigned := sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"user_id": "alice"})

	for name, header := range map[string]string{
		"missing":   "",
		"scheme":    "Basic abc",
		"garbage":   "Bearer not-a-token",
		"expired":   "Bearer " + expired,
		"wrong key": "Bearer " + wrongKey,
		"no owner":  "Bearer " + noOwner,
		"alg none":  "Bearer " + unsigned,
	} {
		rec, owner := serve(t, header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
		assert.Empty(t, owner, name)
	}
}
