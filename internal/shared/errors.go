package shared

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller-facing taxonomy.
type Kind string

const (
	// KindConflict marks duplicate identity on create.
	KindConflict Kind = "conflict"
	// KindNotFound marks a missing referenced record.
	KindNotFound Kind = "not_found"
	// KindPolicyViolation marks a structurally valid but forbidden operation.
	KindPolicyViolation Kind = "policy_violation"
	// KindValidation marks malformed input.
	KindValidation Kind = "validation"
)

// Stable error codes surfaced to callers.
const (
	CodePermissionExists       = "PERMISSION_EXISTS"
	CodeRoleExists             = "ROLE_EXISTS"
	CodePermissionNotFound     = "PERMISSION_NOT_FOUND"
	CodeRoleNotFound           = "ROLE_NOT_FOUND"
	CodeParentRoleNotFound     = "PARENT_ROLE_NOT_FOUND"
	CodeNotFound               = "NOT_FOUND"
	CodePermissionIncompatible = "PERMISSION_INCOMPATIBLE"
	CodeSystemRoleProtected    = "SYSTEM_ROLE_PROTECTED"
	CodeAssignmentNotAllowed   = "ASSIGNMENT_NOT_ALLOWED"
	CodeValidation             = "VALIDATION_ERROR"
)

// Error carries a kind, a stable code and structured detail for the caller.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail attaches a structured detail entry and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Conflict builds a duplicate-identity error.
func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// NotFound builds a missing-record error.
func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// PolicyViolation builds a business-rule error.
func PolicyViolation(code, message string) *Error {
	return &Error{Kind: KindPolicyViolation, Code: code, Message: message}
}

// Validation builds a malformed-input error.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: message}
}

// KindOf extracts the kind from err, or empty when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf extracts the stable code from err, or empty when err is not an *Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsPolicyViolation reports whether err is a policy-violation error.
func IsPolicyViolation(err error) bool { return KindOf(err) == KindPolicyViolation }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
