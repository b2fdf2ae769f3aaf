// Package gwerrors provides the structured error taxonomy every gateway
// component and driver uses: a code, a category, and hints for retry and
// HTTP translation.
package gwerrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Code identifies a specific error condition.
type Code string

const (
	CodeNotFound     Code = "NOT_FOUND"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodePolicyDenied Code = "POLICY_DENIED"
	CodeUnsupported  Code = "UNSUPPORTED"
	CodeConflict     Code = "CONFLICT"
	CodeTransient    Code = "TRANSIENT"
	CodeFatal        Code = "FATAL"
)

// Category groups codes the way pkg/retry and callers reason about them.
type Category string

const (
	CategoryNotFound    Category = "not_found"
	CategoryAuth        Category = "auth"
	CategoryPolicy      Category = "policy"
	CategoryUnsupported Category = "unsupported"
	CategoryConflict    Category = "conflict"
	CategoryTransient   Category = "transient"
	CategoryInternal    Category = "internal"
)

func categoryFor(code Code) Category {
	switch code {
	case CodeNotFound:
		return CategoryNotFound
	case CodeUnauthorized, CodeForbidden:
		return CategoryAuth
	case CodePolicyDenied:
		return CategoryPolicy
	case CodeUnsupported:
		return CategoryUnsupported
	case CodeConflict:
		return CategoryConflict
	case CodeTransient:
		return CategoryTransient
	default:
		return CategoryInternal
	}
}

func httpStatusFor(code Code) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeUnauthorized:
		return 401
	case CodeForbidden, CodePolicyDenied:
		return 403
	case CodeUnsupported:
		return 501
	case CodeConflict:
		return 409
	case CodeTransient:
		return 503
	default:
		return 500
	}
}

func retryableByDefault(code Code) bool {
	return code == CodeTransient
}

// GatewayError is the structured error every component returns.
type GatewayError struct {
	Code      Code                   `json:"code"`
	Category  Category               `json:"category"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Context    map[string]string      `json:"context,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"http_status,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

// New creates a GatewayError with category/retryable/status filled from code.
func New(code Code, message string) *GatewayError {
	return &GatewayError{
		Code:       code,
		Category:   categoryFor(code),
		Message:    message,
		Retryable:  retryableByDefault(code),
		HTTPStatus: httpStatusFor(code),
		Timestamp:  time.Now(),
	}
}

func (e *GatewayError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *GatewayError) Unwrap() error { return e.Cause }

// Is compares by code, matching errors.Is semantics.
func (e *GatewayError) Is(target error) bool {
	if other, ok := target.(*GatewayError); ok {
		return e.Code == other.Code
	}
	return false
}

// WithComponent sets the originating component.
func (e *GatewayError) WithComponent(c string) *GatewayError { e.Component = c; return e }

// WithOperation sets the operation name.
func (e *GatewayError) WithOperation(op string) *GatewayError { e.Operation = op; return e }

// WithCause attaches an underlying error.
func (e *GatewayError) WithCause(err error) *GatewayError { e.Cause = err; return e }

// WithContext attaches a contextual key/value pair.
func (e *GatewayError) WithContext(key, value string) *GatewayError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail attaches a structured detail value.
func (e *GatewayError) WithDetail(key string, value interface{}) *GatewayError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// JSON renders the error as a JSON document for logging.
func (e *GatewayError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

// IsCode reports whether err is a *GatewayError with the given code.
func IsCode(err error, code Code) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Code == code
	}
	return false
}

// NotFound, Unauthorized, Forbidden, PolicyDenied, Unsupported, Conflict,
// Transient and Fatal are convenience constructors, one per Code.
func NotFound(component, msg string) *GatewayError {
	return New(CodeNotFound, msg).WithComponent(component)
}

func Unauthorized(component, msg string) *GatewayError {
	return New(CodeUnauthorized, msg).WithComponent(component)
}

func Forbidden(component, msg string) *GatewayError {
	return New(CodeForbidden, msg).WithComponent(component)
}

func PolicyDenied(component, msg string) *GatewayError {
	return New(CodePolicyDenied, msg).WithComponent(component)
}

func Unsupported(component, msg string) *GatewayError {
	return New(CodeUnsupported, msg).WithComponent(component)
}

func Conflict(component, msg string) *GatewayError {
	return New(CodeConflict, msg).WithComponent(component)
}

func Transient(component, msg string, cause error) *GatewayError {
	return New(CodeTransient, msg).WithComponent(component).WithCause(cause)
}

func Fatal(component, msg string, cause error) *GatewayError {
	return New(CodeFatal, msg).WithComponent(component).WithCause(cause)
}

// AsSessionExpiry converts a driver's session-expiry signal into Transient on
// the first attempt (so the caller retries after a token refresh) and into
// Unauthorized if a retry already happened.
func AsSessionExpiry(component string, cause error, alreadyRetried bool) *GatewayError {
	if alreadyRetried {
		return Unauthorized(component, "session expired after token refresh").WithCause(cause)
	}
	return Transient(component, "session expired, refreshing token", cause)
}
