// Package errors defines the service error taxonomy shared by the hosting
// layer. Every error returned across a package boundary that a caller may
// want to classify is a *ServiceError carrying a stable code and the HTTP
// status used when it reaches the REST surface.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeAlreadyExists     Code = "ALREADY_EXISTS"
	CodeInvalidDomain     Code = "INVALID_DOMAIN"
	CodeConflict          Code = "CONFLICT"
	CodeUnresolved        Code = "UNRESOLVED"
	CodeBusy              Code = "BUSY"
	CodeRuntimeFailure    Code = "RUNTIME_FAILURE"
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeInvalidToken      Code = "INVALID_TOKEN"
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal          Code = "INTERNAL"
)

// ServiceError is a classified error.
type ServiceError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches any *ServiceError with the same code, so sentinel comparisons
// such as errors.Is(err, ErrBusy) work on wrapped errors.
func (e *ServiceError) Is(target error) bool {
	var other *ServiceError
	if !stderrors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// WithDetails returns a copy of e with an additional detail entry.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound       = &ServiceError{Code: CodeNotFound}
	ErrAlreadyExists  = &ServiceError{Code: CodeAlreadyExists}
	ErrInvalidDomain  = &ServiceError{Code: CodeInvalidDomain}
	ErrConflict       = &ServiceError{Code: CodeConflict}
	ErrUnresolved     = &ServiceError{Code: CodeUnresolved}
	ErrBusy           = &ServiceError{Code: CodeBusy}
	ErrRuntimeFailure = &ServiceError{Code: CodeRuntimeFailure}
	ErrInvalidInput   = &ServiceError{Code: CodeInvalidInput}
)

func newError(code Code, status int, msg string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: msg, HTTPStatus: status, Err: err}
}

// NotFound reports a missing module or deployment.
func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s %q not found", resource, id), nil).
		WithDetails("resource", resource)
}

// AlreadyExists reports a duplicate identifier.
func AlreadyExists(resource, id string) *ServiceError {
	return newError(CodeAlreadyExists, http.StatusConflict, fmt.Sprintf("%s %q already exists", resource, id), nil)
}

// InvalidDomain reports an empty or malformed domain.
func InvalidDomain(domain, reason string) *ServiceError {
	return newError(CodeInvalidDomain, http.StatusBadRequest, fmt.Sprintf("invalid domain %q: %s", domain, reason), nil)
}

// Conflict reports an operation blocked by dependent state.
func Conflict(msg string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, msg, nil)
}

// Unresolved reports a module whose dependencies are not satisfied.
func Unresolved(module string, missing []string, issues []string) *ServiceError {
	msg := fmt.Sprintf("module %q is not resolved", module)
	if len(missing) > 0 {
		msg += fmt.Sprintf(": missing dependencies %v", missing)
	}
	if len(issues) > 0 {
		msg += fmt.Sprintf(": issues %q", issues)
	}
	return newError(CodeUnresolved, http.StatusUnprocessableEntity, msg, nil).
		WithDetails("missing", missing)
}

// Busy reports another lifecycle operation in flight on the same domain.
func Busy(domain string) *ServiceError {
	return newError(CodeBusy, http.StatusLocked, fmt.Sprintf("deployment %q has an operation in flight", domain), nil)
}

// RuntimeFailure wraps an error from the hosting runtime verbatim.
func RuntimeFailure(op string, err error) *ServiceError {
	msg := op + " failed"
	if err != nil {
		msg = err.Error()
	}
	return newError(CodeRuntimeFailure, http.StatusBadGateway, msg, err)
}

// InvalidInput reports a malformed request.
func InvalidInput(msg string) *ServiceError {
	return newError(CodeInvalidInput, http.StatusBadRequest, msg, nil)
}

// Unauthorized reports a missing principal.
func Unauthorized(msg string) *ServiceError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, msg, nil)
}

// InvalidToken reports a token that failed validation.
func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", err)
}

// RateLimitExceeded reports a throttled client.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimitExceeded, http.StatusTooManyRequests,
		fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window), nil)
}

// Internal wraps an unexpected error.
func Internal(msg string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, msg, err)
}

// GetServiceError extracts the *ServiceError from err's chain, wrapping
// unclassified errors as Internal.
func GetServiceError(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if stderrors.As(err, &se) {
		if se.HTTPStatus == 0 {
			cp := *se
			cp.HTTPStatus = http.StatusInternalServerError
			return &cp
		}
		return se
	}
	return Internal("internal error", err)
}

func IsNotFound(err error) bool      { return stderrors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return stderrors.Is(err, ErrAlreadyExists) }
func IsInvalidDomain(err error) bool { return stderrors.Is(err, ErrInvalidDomain) }
func IsConflict(err error) bool      { return stderrors.Is(err, ErrConflict) }
func IsUnresolved(err error) bool    { return stderrors.Is(err, ErrUnresolved) }
func IsBusy(err error) bool          { return stderrors.Is(err, ErrBusy) }
func IsRuntimeFailure(err error) bool {
	return stderrors.Is(err, ErrRuntimeFailure)
}

// Is and As re-export the standard helpers so callers need one import.
func Is(err, target error) bool     { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }

// New re-exports errors.New.
func New(text string) error { return stderrors.New(text) }
