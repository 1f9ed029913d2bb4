package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func protected(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMissingHeader(t *testing.T) {
	var called bool
	h := Auth("secret-token")(protected(&called))

	req := httptest.NewRequest(http.MethodPost, "/verify-return", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called, "handler must not run without a token")
}

func TestAuthWrongToken(t *testing.T) {
	var called bool
	h := Auth("secret-token")(protected(&called))

	req := httptest.NewRequest(http.MethodPost, "/verify-return", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestAuthValidToken(t *testing.T) {
	var called bool
	h := Auth("secret-token")(protected(&called))

	req := httptest.NewRequest(http.MethodPost, "/verify-return", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestAuthDisabledWhenNoKeyConfigured(t *testing.T) {
	var called bool
	h := Auth("")(protected(&called))

	req := httptest.NewRequest(http.MethodPost, "/verify-return", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}
