package report

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/api"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/report/entity"
	userentity "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user/entity"
)

type CurrentUser interface {
	Current(ctx context.Context) (*userentity.User, error)
}

type Handler struct {
	svc    *Service
	users  CurrentUser
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, users CurrentUser, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, users: users, logger: logger}
}

// List handles GET /api/reports.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := entity.Filter{Status: q.Get("status"), WasteType: q.Get("wasteType")}
	var err error
	if f.UserID, err = api.QueryID(r, "userId"); err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	if f.CollectorID, err = api.QueryID(r, "collectorId"); err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	f.Limit, f.Offset = api.Page(r, 50, 200)
	items, err := h.svc.List(r.Context(), f)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"reports": items})
}

// Create handles POST /api/reports.
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
	rep, err := h.svc.Create(r.Context(), me.ID, in)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, rep)
}

// Get handles GET /api/reports/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathID(r, "id")
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	rep, err := h.svc.Get(r.Context(), id)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, rep)
}

type UpdateRequest struct {
	Status      string `json:"status" validate:"required,reportstatus"`
	CollectorID int64  `json:"collectorId"`
}

// Update handles PATCH /api/reports/{id}. The only client-driven edge is
// the claim (status in_progress); verification goes through collections.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
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
	var req UpdateRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	if err := api.Validate(req); err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	if req.CollectorID != 0 && req.CollectorID != me.ID {
		api.Fail(w, h.logger, apperr.ErrForbidden)
		return
	}
	status, _ := api.Canonical("reportstatus", req.Status)
	if status != entity.StatusInProgress {
		api.Fail(w, h.logger, fmt.Errorf("status %s cannot be set directly: %w", status, ErrInvalidTransition))
		return
	}
	rep, err := h.svc.Claim(r.Context(), id, me.ID)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, rep)
}

// Collect handles POST /api/reports/{id}/collect.
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
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
	var in CollectInput
	if err := api.DecodeJSON(w, r, &in); err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	out, err := h.svc.CollectWithPhotos(r.Context(), id, me.ID, in)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, out)
}

type CreateCollectionRequest struct {
	VerifyInput
	CollectorID int64  `json:"collectorId"`
	Comments    string `json:"comments"`
}

// CreateCollection handles POST /api/collections.
func (h *Handler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	me, err := h.users.Current(r.Context())
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	var req CreateCollectionRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	if req.CollectorID != 0 && req.CollectorID != me.ID {
		api.Fail(w, h.logger, apperr.ErrForbidden)
		return
	}
	in := req.VerifyInput
	if strings.TrimSpace(in.Comment) == "" {
		in.Comment = req.Comments
	}
	out, err := h.svc.Verify(r.Context(), me.ID, in)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, out)
}

// Collections handles GET /api/collections?collectorId=.
func (h *Handler) Collections(w http.ResponseWriter, r *http.Request) {
	collectorID, err := api.QueryID(r, "collectorId")
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	limit, offset := api.Page(r, 50, 200)
	items, err := h.svc.Collections(r.Context(), collectorID, limit, offset)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"collections": items})
}
