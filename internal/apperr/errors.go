// Package apperr classifies failures of the inbox engine.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of a failure.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConfig     Kind = "config"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrNetwork    = &Error{Kind: KindNetwork}
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConfig     = &Error{Kind: KindConfig}
)

// Error is a classified failure.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	// Upstream marks a validation failure of what the remote service sent
	// back, as opposed to the caller's input.
	Upstream bool
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNetwork) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Network reports a transport failure.
func Network(op string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// NetworkStatus reports a non-success status from the remote service.
// A 404 is classified as not found.
func NetworkStatus(op string, status int, body string) error {
	var cause error
	if body != "" {
		cause = errors.New(body)
	}
	if status == http.StatusNotFound {
		return &Error{Kind: KindNotFound, Op: op, StatusCode: status, Err: cause}
	}
	return &Error{Kind: KindNetwork, Op: op, StatusCode: status, Err: cause}
}

// Validation reports input with the wrong shape.
func Validation(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// Validationf is Validation with a formatted cause.
func Validationf(op, format string, args ...any) error {
	return Validation(op, fmt.Errorf(format, args...))
}

// Malformed reports a response from the remote service with the wrong shape,
// or one that refused the request in its body.
func Malformed(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Upstream: true, Err: err}
}

// Malformedf is Malformed with a formatted cause.
func Malformedf(op, format string, args ...any) error {
	return Malformed(op, fmt.Errorf(format, args...))
}

// NotFound reports a missing entity.
func NotFound(op string, err error) error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}

// Config reports a missing credential or base address.
func Config(op, msg string) error {
	return &Error{Kind: KindConfig, Op: op, Err: errors.New(msg)}
}

// KindOf returns the kind of the first classified error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsUpstream reports whether err is a validation failure of a remote response.
func IsUpstream(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Upstream
}

// HTTPStatus maps an error to the status the HTTP surface answers with. A
// malformed remote response is the gateway's failure, not the caller's.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		if IsUpstream(err) {
			return http.StatusBadGateway
		}
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
