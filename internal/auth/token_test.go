package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/atelier-b2b/atelier/internal/shared"
)

func TestVerifyRoundTrip(t *testing.T) {
	v, err := NewVerifier("secret", "atelier-auth")
	require.NoError(t, err)

	token, err := v.Issue(shared.Actor{ID: 42, Role: shared.RoleSales}, time.Hour)
	require.NoError(t, err)

	actor, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), actor.ID)
	require.Equal(t, shared.RoleSales, actor.Role)
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	v, err := NewVerifier("secret", "atelier-auth")
	require.NoError(t, err)

	expired, err := v.Issue(shared.Actor{ID: 1, Role: shared.RoleBuyer}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	other, err := NewVerifier("other-secret", "atelier-auth")
	require.NoError(t, err)
	foreign, err := other.Issue(shared.Actor{ID: 1, Role: shared.RoleBuyer}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(foreign)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestVerifyRejectsUnknownRole(t *testing.T) {
	v, err := NewVerifier("secret", "")
	require.NoError(t, err)
	claims := Claims{Role: "superuser", RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "5",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.Verify(token)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestAuthenticateMiddleware(t *testing.T) {
	v, err := NewVerifier("secret", "")
	require.NoError(t, err)
	token, err := v.Issue(shared.Actor{ID: 9, Role: shared.RoleOperations}, time.Hour)
	require.NoError(t, err)

	var seen shared.Actor
	h := Authenticate(v, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, int64(9), seen.ID)
	require.Equal(t, shared.RoleOperations, seen.Role)
}
