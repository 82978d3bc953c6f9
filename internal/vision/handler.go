package vision

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/api"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/photo"
)

// Handler exposes the vision proxy.
type Handler struct {
	v      *Verifier
	logger *zap.SugaredLogger
}

func NewHandler(v *Verifier, logger *zap.SugaredLogger) *Handler {
	return &Handler{v: v, logger: logger}
}

type AnalyzeRequest struct {
	Mode     string    `json:"mode" validate:"required,oneof=classify verify"`
	Images   []string  `json:"images" validate:"required,min=1,max=2"`
	Expected *Expected `json:"expected" validate:"required_if=Mode verify"`
}

// Analyze handles POST /api/gemini.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if err := api.Validate(req); err != nil {
		h.fail(w, err)
		return
	}
	images := make([]photo.Image, 0, len(req.Images))
	for _, s := range req.Images {
		img, err := photo.ParseDataURL(s)
		if err != nil {
			h.fail(w, err)
			return
		}
		images = append(images, img)
	}

	var (
		result any
		err    error
	)
	switch req.Mode {
	case "classify":
		result, err = h.v.Classify(r.Context(), images[0])
	case "verify":
		result, err = h.v.VerifyCollection(r.Context(), *req.Expected, images...)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

// fail reports every failure as {"success": false, "error": ...} so the
// client can show a verification failure instead of a crash.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := api.StatusFor(err)
	body := map[string]any{"success": false, "error": err.Error()}
	if v, ok := apperr.AsValidation(err); ok {
		body["error"] = "validation failed"
		body["details"] = v.Details
	}
	switch status {
	case http.StatusInternalServerError:
		h.logger.Errorw("vision request failed", "err", err)
		body["error"] = "verification failed"
	case http.StatusTooManyRequests:
		w.Header().Set("Retry-After", "60")
	}
	api.WriteJSON(w, status, body)
}
