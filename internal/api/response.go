// Package api contains the JSON response helpers shared by all handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
)

// MaxBodyBytes bounds request bodies; photos travel inline as base64.
const MaxBodyBytes = 12 << 20

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg}.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]any{"error": msg})
}

// WriteTooManyRequests writes a 429 with Retry-After in seconds.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs < 1 {
		retryAfterSecs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	if _, ok := apperr.AsValidation(err); ok {
		return http.StatusBadRequest
	}
	switch {
	case errors.Is(err, apperr.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrUnprocessable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Fail writes the response for err. Unexpected errors are logged and answered
// with a generic message so internals never reach the client.
func Fail(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	if v, ok := apperr.AsValidation(err); ok {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "details": v.Details})
		return
	}
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Errorw("request failed", "err", err)
		WriteError(w, status, "internal server error")
		return
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	logger.Debugw("request rejected", "status", status, "err", err)
	WriteError(w, status, err.Error())
}

// DecodeJSON decodes the request body into dst, rejecting bodies larger
// than MaxBodyBytes.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperr.Invalid(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		case errors.Is(err, io.EOF):
			return apperr.Invalid("request body is empty")
		default:
			return apperr.Invalid("invalid JSON payload: " + err.Error())
		}
	}
	return nil
}
