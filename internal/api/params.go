package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
)

// PathID parses a positive integer path value such as {id}.
func PathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid(name + " must be a positive integer")
	}
	return id, nil
}

// QueryID parses an optional positive integer query parameter; 0 means absent.
func QueryID(r *http.Request, key string) (int64, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid(key + " must be a positive integer")
	}
	return id, nil
}

// Page reads limit/offset with a default and an upper bound on limit.
func Page(r *http.Request, def, max int) (limit, offset int) {
	limit = def
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > max {
		limit = max
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
