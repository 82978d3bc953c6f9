package user

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/api"
)

// Handler exposes profile, stats and leaderboard endpoints.
type Handler struct {
	svc    *UserService
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Me handles GET /api/users/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Current(r.Context())
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, u)
}

// Stats handles GET /api/users/{id}/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathID(r, "id")
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	st, err := h.svc.Stats(r.Context(), id)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, st)
}

// Leaderboard handles GET /api/leaderboard?limit=.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := api.Page(r, 10, 100)
	rows, err := h.svc.Leaderboard(r.Context(), limit)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"leaderboard": rows})
}
