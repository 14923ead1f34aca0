package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atelier-b2b/atelier/internal/platform/httpx"
	"github.com/atelier-b2b/atelier/internal/shared"
)

// PermissionsHandler reports the caller's effective permissions.
type PermissionsHandler struct{}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler() *PermissionsHandler {
	return &PermissionsHandler{}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.listPermissions)
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":     actor.ID,
		"role":        actor.Role,
		"permissions": EffectivePermissions(actor.Role),
	})
}
