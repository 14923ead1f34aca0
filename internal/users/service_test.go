package users

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atelier-b2b/atelier/internal/rbac"
	"github.com/atelier-b2b/atelier/internal/shared"
)

type memoryRepo struct {
	users []User
}

func (m *memoryRepo) GetUser(_ context.Context, id int64) (User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m *memoryRepo) ListUsers(_ context.Context, role string, activeOnly bool) ([]User, error) {
	var out []User
	for _, u := range m.users {
		if role != "" && string(u.Role) != role {
			continue
		}
		if activeOnly && !u.IsActive {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func fixtureRepo() *memoryRepo {
	return &memoryRepo{users: []User{
		{ID: 1, Name: "Buyer", Role: shared.RoleBuyer, IsActive: true},
		{ID: 2, Name: "Sales", Role: shared.RoleSales, IsActive: true, CommissionRate: decimal.RequireFromString("2.5")},
		{ID: 3, Name: "Former sales", Role: shared.RoleSales, IsActive: false},
		{ID: 4, Name: "Admin", Role: shared.RoleAdmin, IsActive: true},
		{ID: 5, Name: "Ops", Role: shared.RoleOperations, IsActive: true},
	}}
}

func TestListAssignableKeepsActiveSalesAndAdmins(t *testing.T) {
	svc := NewService(fixtureRepo())

	users, err := svc.ListAssignable(context.Background())
	require.NoError(t, err)
	ids := []int64{}
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	require.ElementsMatch(t, []int64{2, 4}, ids)
}

func TestHandlerRequiresAssignPermission(t *testing.T) {
	h := NewHandler(nil, NewService(fixtureRepo()), rbac.Middleware{})
	r := chi.NewRouter()
	var actor shared.Actor
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
		})
	})
	r.Route("/users", h.MountRoutes)

	actor = shared.Actor{ID: 2, Role: shared.RoleSales}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/?role=sales", nil))
	require.Equal(t, http.StatusForbidden, rr.Code)

	actor = shared.Actor{ID: 5, Role: shared.RoleOperations}
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/?role=sales", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data []User `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
}
