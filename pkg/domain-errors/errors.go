// Package domainerrors carries the named failures raised by the admission layer
// and the normalizer that renders any failure into a wire-safe triple.
//
// Services construct errors with New or Wrap and a Code. Transport code never
// inspects error strings; it calls Normalize and writes the result.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable slug sent to clients in the "error" field.
type Code string

const (
	CodeMissingToken        Code = "missing-token"
	CodeInvalidToken        Code = "invalid-token"
	CodeExpiredToken        Code = "expired-token"
	CodeInvalidAPIKey       Code = "invalid-api-key"
	CodeInvalidAPIKeySecret Code = "invalid-api-key-secret"
	CodeIPRangeCheckFail    Code = "ip-range-check-fail"
	CodeReferrerCheckFail   Code = "referrer-check-fail"
	CodeKeyStoreUnavailable Code = "key-store-unavailable"
	CodeRateLimited         Code = "rate-limited"
	CodeTooManyAttempts     Code = "too-many-attempts"
	CodeServiceUnavailable  Code = "service-unavailable"
	CodeInvalidLogin        Code = "invalid-login"
	CodeInvalidInput        Code = "invalid-input"
	CodeBadRequest          Code = "bad-request"
	CodeConflict            Code = "conflict"
	CodeNotFound            Code = "not-found"
	CodeInternal            Code = "server-error"
)

var statusByCode = map[Code]int{
	CodeMissingToken:        http.StatusUnprocessableEntity,
	CodeInvalidToken:        http.StatusUnauthorized,
	CodeExpiredToken:        http.StatusUnauthorized,
	CodeInvalidAPIKey:       http.StatusUnauthorized,
	CodeInvalidAPIKeySecret: http.StatusUnauthorized,
	CodeIPRangeCheckFail:    http.StatusUnauthorized,
	CodeReferrerCheckFail:   http.StatusUnauthorized,
	CodeKeyStoreUnavailable: http.StatusServiceUnavailable,
	CodeRateLimited:         http.StatusTooManyRequests,
	CodeTooManyAttempts:     http.StatusTooManyRequests,
	CodeServiceUnavailable:  http.StatusServiceUnavailable,
	CodeInvalidLogin:        http.StatusUnauthorized,
	CodeInvalidInput:        http.StatusUnprocessableEntity,
	CodeBadRequest:          http.StatusBadRequest,
	CodeConflict:            http.StatusConflict,
	CodeNotFound:            http.StatusNotFound,
	CodeInternal:            http.StatusInternalServerError,
}

// Status returns the HTTP status for the code. Unknown codes map to 500.
func (c Code) Status() int {
	if status, ok := statusByCode[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is a named failure. Message is shown to clients for 4xx codes or when
// Safe is set; 5xx messages stay in server logs.
type Error struct {
	Code    Code
	Message string
	Safe    bool
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code and message, so tests can use
// errors.Is against a freshly constructed value.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New creates a domain error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// NewSafe creates a domain error whose message may be shown to clients even
// when the code is a server-side failure.
func NewSafe(code Code, message string) error {
	return &Error{Code: code, Message: message, Safe: true}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any *Error in the chain carries code.
func HasCode(err error, code Code) bool {
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == code
}

// CodeOf returns the code of the outermost *Error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
