package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atelier-b2b/atelier/internal/shared"
)

func run(t *testing.T, mw func(http.Handler) http.Handler, actor *shared.Actor) int {
	t.Helper()
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestRequireAny(t *testing.T) {
	m := Middleware{}
	buyer := shared.Actor{ID: 1, Role: shared.RoleBuyer}
	ops := shared.Actor{ID: 2, Role: shared.RoleOperations}

	require.Equal(t, http.StatusForbidden, run(t, m.RequireAny(PermRequestsValidate), &buyer))
	require.Equal(t, http.StatusNoContent, run(t, m.RequireAny(PermRequestsValidate), &ops))
	require.Equal(t, http.StatusNoContent, run(t, m.RequireAny(" REQUESTS.OWN ", PermRequestsView), &buyer))
	require.Equal(t, http.StatusUnauthorized, run(t, m.RequireAny(PermRequestsView), nil))
}

func TestRequireAll(t *testing.T) {
	m := Middleware{}
	sales := shared.Actor{ID: 3, Role: shared.RoleSales}
	admin := shared.Actor{ID: 4, Role: shared.RoleAdmin}

	require.Equal(t, http.StatusForbidden, run(t, m.RequireAll(PermCommissionsView, PermCommissionsSettle), &sales))
	require.Equal(t, http.StatusNoContent, run(t, m.RequireAll(PermCommissionsView, PermCommissionsSettle), &admin))
}

func TestEffectivePermissionsIsACopy(t *testing.T) {
	perms := EffectivePermissions(shared.RoleBuyer)
	perms[0] = "tampered"
	require.NotContains(t, EffectivePermissions(shared.RoleBuyer), "tampered")
	require.Empty(t, EffectivePermissions("ghost"))
}
