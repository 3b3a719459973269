package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var secret = []byte("test-secret")

func TestSignAndParseToken(t *testing.T) {
	now := time.Now()
	tok, err := SignToken(secret, UserClaims{UserID: 12, Email: "o@example.com", Role: "officer", Department: "kebersihan"}, now)
	require.NoError(t, err)

	claims, err := ParseToken(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, int64(12), claims.UserID)
	assert.Equal(t, "officer", claims.Role)
	assert.Equal(t, "12", claims.Subject)

	_, err = ParseToken([]byte("other"), tok)
	assert.Error(t, err)

	expired, err := SignToken(secret, UserClaims{UserID: 12}, now.Add(-2*TokenTTL))
	require.NoError(t, err)
	_, err = ParseToken(secret, expired)
	assert.Error(t, err)

	_, err = SignToken(nil, UserClaims{UserID: 1}, now)
	assert.Error(t, err)
}

func TestAuthAndRoleGuard(t *testing.T) {
	h := AuthMiddleware(secret)(RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		require.True(t, ok)
		assert.Equal(t, int64(1), claims.UserID)
		w.WriteHeader(http.StatusNoContent)
	})))

	call := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	admin, _ := SignToken(secret, UserClaims{UserID: 1, Role: "admin"}, time.Now())
	citizen, _ := SignToken(secret, UserClaims{UserID: 2, Role: "citizen"}, time.Now())

	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call(admin))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage"))
	assert.Equal(t, http.StatusForbidden, call("Bearer "+citizen))
	assert.Equal(t, http.StatusNoContent, call("Bearer "+admin))
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/subscribe?token=q", nil)
	assert.Equal(t, "q", BearerToken(req))
	req.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", BearerToken(req))
}

func TestTraceAndRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := TraceMiddleware(RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, GetTraceID(r))
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(TraceHeader, "trace-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "trace-123", rec.Header().Get(TraceHeader))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zap.WarnLevel, entry.Level)
	assert.Equal(t, "trace-123", entry.ContextMap()["trace_id"])
	assert.Equal(t, int64(http.StatusTeapot), entry.ContextMap()["status"])
}

func TestRouteLabel(t *testing.T) {
	r := chi.NewRouter()
	var label string
	r.Get("/api/reports/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		label = routeLabel(req)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/reports/42", nil))
	assert.Equal(t, "/api/reports/{id}", label)

	assert.Equal(t, "/api/reports/:id", normalizePath("/api/reports/42"))
}
