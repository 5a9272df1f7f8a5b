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

const testSecret = "test-secret"

func signed(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, name := UserFromContext(r.Context())
		w.Write([]byte(id + "|" + name))
	})
}

func TestAuthMiddleware(t *testing.T) {
	handler := AuthMiddleware(testSecret)(echoUser())
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name     string
		setup    func(r *http.Request)
		wantCode int
		wantBody string
	}{
		{
			name: "bearer header with name",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signed(t, testSecret, jwt.MapClaims{"sub": "u1", "name": "Alice", "exp": exp}))
			},
			wantCode: http.StatusOK,
			wantBody: "u1|Alice",
		},
		{
			name: "query token without name",
			setup: func(r *http.Request) {
				q := r.URL.Query()
				q.Set("token", signed(t, testSecret, jwt.MapClaims{"sub": "u2", "exp": exp}))
				r.URL.RawQuery = q.Encode()
			},
			wantCode: http.StatusOK,
			wantBody: "u2|u2",
		},
		{
			name:     "no token",
			setup:    func(r *http.Request) {},
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "wrong secret",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signed(t, "other", jwt.MapClaims{"sub": "u1", "exp": exp}))
			},
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "expired",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signed(t, testSecret, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()}))
			},
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "missing subject",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signed(t, testSecret, jwt.MapClaims{"name": "Alice", "exp": exp}))
			},
			wantCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/canvases/shapes", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestAuthMiddlewareWithoutSecretRejects(t *testing.T) {
	handler := AuthMiddleware("")(echoUser())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, testSecret, jwt.MapClaims{"sub": "u1"}))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/canvases/shapes", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
