// Package apperr holds the error kinds shared by services and the HTTP layer.
// Services wrap these kinds with domain-specific sentinels so handlers can map
// any failure to a status code with errors.Is.
package apperr

import (
	"errors"
	"strings"
)

var (
	ErrInvalid       = errors.New("invalid request")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrForbidden     = errors.New("forbidden")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
	ErrUpstream      = errors.New("upstream service failed")
	ErrUnprocessable = errors.New("unprocessable")
)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// New returns a domain sentinel with its own message that still matches
// kind under errors.Is.
func New(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

// Validation carries one human-readable message per rejected field.
type Validation struct {
	Details []string
}

func (v *Validation) Error() string {
	return "validation failed: " + strings.Join(v.Details, "; ")
}

// Invalid builds a *Validation from messages.
func Invalid(details ...string) error {
	return &Validation{Details: details}
}

// AsValidation reports whether err carries validation details.
func AsValidation(err error) (*Validation, bool) {
	var v *Validation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
