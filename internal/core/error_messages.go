package core

// # Error Codes Reference
//
// User-facing messages carry a code operators can quote to support.
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - State conflict: the import is not in the state the operation needs
//	         Action: Refresh the import to see its current status
//	         Matches: ErrStateConflict
//
//	IMP002 - Not found: the import, project or unit does not exist
//	         Action: Check the id and try again
//	         Matches: ErrNotFound
//
//	IMP003 - Invalid input: the request is missing or has malformed values
//	         Action: Correct the request and try again
//	         Matches: ErrInvalidInput (after the file patterns below)
//
// # Diff Service Errors (DIFF001-DIFF099)
//
//	DIFF001 - Busy: too many imports are being diffed
//	          Matches: ErrTooManyDiffs
//
//	DIFF002 - Unavailable: the diff service could not be reached or failed
//	          Matches: ErrDiffUnavailable
//
// # Database Errors (DB001-DB007)
//
//	DB001 duplicate key, DB002 unique constraint, DB003 foreign key,
//	DB004 connection refused, DB005 connection reset, DB006 timeout,
//	DB007 deadlock
//
// # Validation Errors (VAL001-VAL006)
//
//	VAL001 invalid date, VAL002 invalid number, VAL006 invalid enum
//
// # File Errors (FILE001-FILE005)
//
//	FILE001 file too large, FILE004 no file provided, FILE005 empty file
//
// # Request Errors (REQ001-REQ002)
//
//	REQ001 context canceled, REQ002 context deadline exceeded
//
// # Rate Limiting (RATE001)
//
// # Default Error (ERR000)
//
// Typed errors are matched first with errors.Is. Everything else is matched
// case-insensitively with strings.Contains against the pattern table; the
// first match wins, so specific patterns come before general ones.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgStateConflict = UserMessage{
		Message: "Import is not in the required state",
		Action:  "Refresh the import to see its current status",
		Code:    "IMP001",
	}
	msgNotFound = UserMessage{
		Message: "The requested record was not found",
		Action:  "Check the id and try again",
		Code:    "IMP002",
	}
	msgInvalidInput = UserMessage{
		Message: "The request is invalid",
		Action:  "Correct the request and try again",
		Code:    "IMP003",
	}
	msgDiffBusy = UserMessage{
		Message: "System is busy comparing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "DIFF001",
	}
	msgDiffUnavailable = UserMessage{
		Message: "The spreadsheet comparison service is unavailable",
		Action:  "Please try again later",
		Code:    "DIFF002",
	}
)

// sentinelMessages are checked with errors.Is before any pattern.
var sentinelMessages = []struct {
	target error
	msg    UserMessage
}{
	{ErrStateConflict, msgStateConflict},
	{ErrNotFound, msgNotFound},
	{ErrTooManyDiffs, msgDiffBusy},
	{ErrDiffUnavailable, msgDiffUnavailable},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Database Errors (DB001-DB007)
	// =========================================================================
	{"duplicate key", UserMessage{"A record with this ID already exists", "Check the import for duplicate unit codes", "DB001"}},
	{"unique constraint", UserMessage{"This value must be unique but already exists", "Check for duplicate entries in your spreadsheet", "DB002"}},
	{"violates unique", UserMessage{"A duplicate value was found", "Review your data for duplicate key values", "DB002"}},
	{"foreign key constraint", UserMessage{"Referenced record does not exist", "Ensure the project and organization exist", "DB003"}},
	{"violates foreign key", UserMessage{"Referenced record does not exist", "Ensure the project and organization exist", "DB003"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"timeout", UserMessage{"Operation timed out", "Please try again later", "DB006"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},

	// =========================================================================
	// Validation Errors (VAL001-VAL006)
	// =========================================================================
	{"invalid date", UserMessage{"Invalid date format detected", "Use YYYY-MM-DD", "VAL001"}},
	{"invalid number", UserMessage{"Invalid number format detected", "Use a plain decimal amount", "VAL002"}},
	{"invalid enum", UserMessage{"Value is not in the allowed list", "Check the allowed values for this field", "VAL006"}},

	// =========================================================================
	// File Errors (FILE001-FILE005)
	// =========================================================================
	{"file too large", UserMessage{"File exceeds maximum size limit", "Split the spreadsheet into smaller files", "FILE001"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a spreadsheet to upload", "FILE004"}},
	{"empty file", UserMessage{"The uploaded file is empty", "Please upload a spreadsheet with data rows", "FILE005"}},

	// =========================================================================
	// Request Errors (REQ001-REQ002)
	// =========================================================================
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "REQ001"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or try again later", "REQ002"}},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when nothing matches (ERR000). Support staff
// should check the logs for the original error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(fmt.Errorf("commit: %w", &StateConflictError{...}))
//	// msg.Code == "IMP001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.target) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	if errors.Is(err, ErrInvalidInput) {
		return msgInvalidInput
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than
// ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
