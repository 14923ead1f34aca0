package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atelier-b2b/atelier/internal/auth"
	"github.com/atelier-b2b/atelier/internal/observability"
	"github.com/atelier-b2b/atelier/internal/rbac"
	"github.com/atelier-b2b/atelier/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, *auth.Verifier) {
	t.Helper()
	verifier, err := auth.NewVerifier("router-secret", "atelier-test")
	require.NoError(t, err)
	handler := NewRouter(RouterParams{
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:             &Config{AppEnv: "test", RateLimitPerMin: 1000},
		Verifier:           verifier,
		PermissionsHandler: rbac.NewPermissionsHandler(),
		Metrics:            observability.NewMetrics(),
	})
	return handler, verifier
}

func TestRouterHealthz(t *testing.T) {
	handler, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterRequiresBearerToken(t *testing.T) {
	handler, verifier := newTestRouter(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/permissions", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := verifier.Issue(shared.Actor{ID: 9, Role: shared.RoleBuyer}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/permissions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		UserID      int64    `json:"user_id"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(9), body.UserID)
	require.Contains(t, body.Permissions, rbac.PermOrdersPay)
}

func TestRouterServesMetrics(t *testing.T) {
	handler, _ := newTestRouter(t)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "atelier_http_requests_total")
}
