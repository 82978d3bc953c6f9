package event

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/api"
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

// List handles GET /api/events?upcoming=&category=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := api.Page(r, 50, 200)
	items, err := h.svc.List(r.Context(), q.Get("upcoming") == "true", q.Get("category"), limit, offset)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"events": items})
}

// Create handles POST /api/events.
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
	e, err := h.svc.Create(r.Context(), me.ID, in)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, e)
}

// Get handles GET /api/events/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, e)
}

// Register handles POST /api/events/{id}/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	me, err := h.users.Current(r.Context())
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	reg, created, err := h.svc.Register(r.Context(), r.PathValue("id"), me.ID)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	api.WriteJSON(w, status, reg)
}

// QR handles GET /api/events/{id}/qr and streams the caller's code as PNG.
func (h *Handler) QR(w http.ResponseWriter, r *http.Request) {
	me, err := h.users.Current(r.Context())
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	png, err := h.svc.QRImage(r.Context(), r.PathValue("id"), me.ID)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

type VerifyRequest struct {
	QRData string `json:"qrData" validate:"required"`
}

// Verify handles POST /api/events/{id}/verify. A repeat scan answers 409
// with status "duplicate" so scanners can tell it from other failures.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	me, err := h.users.Current(r.Context())
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	var req VerifyRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	req.QRData = strings.TrimSpace(req.QRData)
	if err := api.Validate(req); err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	out, err := h.svc.VerifyAttendance(r.Context(), r.PathValue("id"), me.ID, req.QRData)
	if errors.Is(err, ErrDuplicateAttendance) {
		api.WriteJSON(w, http.StatusConflict, map[string]any{"status": "duplicate", "error": ErrDuplicateAttendance.Error()})
		return
	}
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// Attendance handles GET /api/events/{id}/attendance.
func (h *Handler) Attendance(w http.ResponseWriter, r *http.Request) {
	me, err := h.users.Current(r.Context())
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	items, err := h.svc.Attendees(r.Context(), r.PathValue("id"), me.ID)
	if err != nil {
		api.Fail(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"attendees": items})
}
