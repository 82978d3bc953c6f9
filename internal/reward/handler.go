package reward

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/api"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/auth"
	userentity "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user/entity"
)

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

type UpdatePointsRequest struct {
	UserID      int64  `json:"userId" validate:"required,gt=0"`
	Points      int64  `json:"points" validate:"required"`
	Description string `json:"description" validate:"max=500"`
}

// UpdatePoints handles POST /api/rewards/points. Manual adjustments are an
// operator action.
func (h *Handler) UpdatePoints(w http.ResponseWriter, r *http.Request) {
	if !auth.CallerIsAdmin(h.admins, r) {
		api.Fail(w, h.logger, apperr.ErrForbidden)
		return
	}
	var req UpdatePointsRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	if err := api.Validate(req); err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		desc = "Manual adjustment"
	}
	res, err := h.svc.UpdatePoints(r.Context(), req.UserID, req.Points, desc)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// targetUser picks ?userId= when present, otherwise the caller. Reading
// someone else's ledger is an operator action.
func (h *Handler) targetUser(r *http.Request) (int64, error) {
	id, err := api.QueryID(r, "userId")
	if err != nil {
		return 0, err
	}
	me, err := h.users.Current(r.Context())
	if err != nil {
		return 0, err
	}
	if id == 0 || id == me.ID {
		return me.ID, nil
	}
	if !auth.CallerIsAdmin(h.admins, r) {
		return 0, apperr.ErrForbidden
	}
	return id, nil
}

// Balance handles GET /api/rewards/points?userId=.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, err := h.targetUser(r)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	b, err := h.svc.Balance(r.Context(), userID)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"userId":     b.UserID,
		"points":     b.Points,
		"ledgerSum":  b.LedgerSum,
		"earned":     b.Earned,
		"redeemed":   b.Redeemed,
		"consistent": b.Consistent(),
	})
}

// Catalog handles GET /api/rewards.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Catalog(r.Context(), r.URL.Query().Get("all") != "true")
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"rewards": items})
}

// Redeem handles POST /api/rewards/{id}/redeem.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
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
	res, err := h.svc.Redeem(r.Context(), me.ID, id)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// Transactions handles GET /api/transactions?userId=.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, err := h.targetUser(r)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	limit, offset := api.Page(r, 50, 200)
	items, err := h.svc.History(r.Context(), userID, limit, offset)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"transactions": items})
}
