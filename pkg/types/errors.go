package types

import "errors"

// Error taxonomy shared by every component. Callers wrap these with context
// and test with errors.Is.
var (
	ErrUnknownProperty     = errors.New("unknown property")
	ErrUnknownStatus       = errors.New("unknown status")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrReadOnlyViolation   = errors.New("read-only property changed")
	ErrValidationFailed    = errors.New("validation failed")
	ErrInvalidInterval     = errors.New("finish must be after start")
	ErrNotEditable         = errors.New("task not editable")
	ErrPolicyViolation     = errors.New("task edited out of order")
	ErrNotFound            = errors.New("not found")
	ErrStorageFailure      = errors.New("storage failure")
	ErrAuthorizationDenied = errors.New("authorization denied")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnknownProperty, "UnknownProperty"},
	{ErrUnknownStatus, "UnknownStatus"},
	{ErrInvalidTransition, "InvalidTransition"},
	{ErrReadOnlyViolation, "ReadOnlyViolation"},
	{ErrValidationFailed, "ValidationFailed"},
	{ErrInvalidInterval, "InvalidInterval"},
	{ErrNotEditable, "NotEditable"},
	{ErrPolicyViolation, "PolicyViolation"},
	{ErrNotFound, "NotFound"},
	{ErrStorageFailure, "StorageFailure"},
	{ErrAuthorizationDenied, "AuthorizationDenied"},
}

// Code maps an error onto its taxonomy name for client responses.
// Errors outside the taxonomy map to "Internal".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}
