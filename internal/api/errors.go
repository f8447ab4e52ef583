package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// classError is a normalized failure class with a user-facing notice.
type classError struct {
	notice string
	parent error
}

func (e *classError) Error() string { return e.notice }
func (e *classError) Unwrap() error { return e.parent }

// Normalized transport failures. Every call maps 401, 403, 429 and
// connection failures onto these regardless of endpoint.
var (
	ErrUnauthorized = &classError{notice: "Unauthorized - Please login again"}
	ErrForbidden    = &classError{notice: "Access denied - You don't have permission"}
	ErrRateLimited  = &classError{notice: "Too many requests - Please try again later"}
	ErrNetwork      = &classError{notice: "Network error - Please check your connection"}

	// ErrSessionExpired is returned without sending when the held credential
	// has passed its exp claim. It is also an ErrUnauthorized.
	ErrSessionExpired = &classError{notice: "Token expired", parent: ErrUnauthorized}
)

// Error is a non-2xx response. Message is the server's "message" or
// "error" field when the body carried one.
type Error struct {
	Status  int
	Message string
	Body    []byte
}

func (e *Error) Error() string {
	if class := e.class(); class != nil {
		return class.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api: unexpected status %d", e.Status)
}

// Unwrap exposes the normalized class so errors.Is(err, ErrForbidden) holds
// for any 403. Message is still kept for logging.
func (e *Error) Unwrap() error {
	if class := e.class(); class != nil {
		return class
	}
	return nil
}

func (e *Error) class() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

func newError(status int, body []byte) *Error {
	e := &Error{Status: status, Body: body}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		e.Message = strings.TrimSpace(payload.Message)
		if e.Message == "" {
			e.Message = strings.TrimSpace(payload.Error)
		}
	}
	return e
}

// Message returns user-visible text for err: the notice of a normalized
// class, else the server's message, otherwise fallback. A 401, 403 or 429
// always reads as its class notice whatever the body said.
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}
	for _, class := range []error{ErrSessionExpired, ErrUnauthorized, ErrForbidden, ErrRateLimited, ErrNetwork} {
		if errors.Is(err, class) {
			return class.Error()
		}
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
