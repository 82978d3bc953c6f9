package notification

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/api"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/auth"
	userentity "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user/entity"
)

// CurrentUser resolves the signed-in caller.
type CurrentUser interface {
	Current(ctx context.Context) (*userentity.User, error)
}

type Handler struct {
	svc    *Service
	users  CurrentUser
	admins auth.AdminChecker
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, users CurrentUser, admins auth.AdminChecker, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, users: users, admins: admins, logger: logger}
}

// Create handles POST /api/notifications. Callers may notify themselves;
// operators may notify anyone.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	me, err := h.users.Current(r.Context())
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	var in CreateInput
	if err := api.DecodeJSON(w, r, &in); err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	if in.UserID == 0 {
		in.UserID = me.ID
	}
	if in.UserID != me.ID && !auth.CallerIsAdmin(h.admins, r) {
		api.Fail(w, h.logger, apperr.ErrForbidden)
		return
	}
	n, err := h.svc.Create(r.Context(), in)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, n)
}

// List handles GET /api/notifications?userId=&unread=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	me, err := h.users.Current(r.Context())
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	userID, err := api.QueryID(r, "userId")
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	if userID == 0 {
		userID = me.ID
	}
	if userID != me.ID && !auth.CallerIsAdmin(h.admins, r) {
		api.Fail(w, h.logger, apperr.ErrForbidden)
		return
	}
	limit, offset := api.Page(r, 50, 200)
	unread := r.URL.Query().Get("unread") == "true"
	out, err := h.svc.ListForUser(r.Context(), userID, unread, limit, offset)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// MarkRead handles PATCH /api/notifications/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	me, err := h.users.Current(r.Context())
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	id, err := api.PathID(r, "id")
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	if err := h.svc.MarkRead(r.Context(), id, me.ID); err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "isRead": true})
}
