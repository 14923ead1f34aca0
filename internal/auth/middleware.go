package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/atelier-b2b/atelier/internal/platform/httpx"
	"github.com/atelier-b2b/atelier/internal/shared"
)

// Authenticate requires a valid bearer token on every request.
func Authenticate(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			actor, err := v.Verify(strings.TrimSpace(token))
			if err != nil {
				if logger != nil {
					logger.Debug("reject bearer token", slog.Any("error", err))
				}
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	}
}
