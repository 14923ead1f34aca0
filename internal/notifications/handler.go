package notifications

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atelier-b2b/atelier/internal/platform/httpx"
	"github.com/atelier-b2b/atelier/internal/shared"
)

// Reader is the read side used by the HTTP handler.
type Reader interface {
	ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id, userID int64) error
}

// Handler serves the caller's own notifications.
type Handler struct {
	store  Reader
	logger *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(store Reader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// MountRoutes registers notification routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/{id}/read", h.markRead)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.store.ListForUser(r.Context(), actor.ID, r.URL.Query().Get("unread") == "true", limit)
	if err != nil {
		h.logger.Error("list notifications", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []Notification{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.store.MarkRead(r.Context(), id, actor.ID); err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error(), "notification_not_found")
			return
		}
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
