package apperror

// # Error Codes Reference
//
// Codes are quoted by API clients when reporting problems. They are grouped
// by category:
//
//	DB001   Unique constraint       "duplicate key", "violates unique"
//	DB002   Connection refused      "connection refused"
//	DB003   Connection reset        "connection reset"
//	DB004   Deadlock                "deadlock"
//	DB005   Timeout                 "timeout"
//	MAP001  Hash mismatch           "hash mismatch"
//	MAP002  Mapping not found       "mapping not found"
//	MAP003  Invalid rules           "invalid rules"
//	MAP004  Unsupported algorithm   "unsupported hash algorithm"
//	CON001  Contact not found       "contact not found"
//	CON002  Contact not in trash    "not in trash"
//	CON003  Contact in trash        "is in the trash"
//	VAL001  Required field          "required"
//	VAL002  Invalid value           "invalid"
//	FILE001 File too large          "file too large"
//	FILE002 Invalid CSV             "invalid csv"
//	FILE003 No file                 "no file provided"
//	FILE004 Empty file              "empty file"
//	FILE005 Header mismatch         "header mismatch"
//	IMP001  Busy                    "too many imports"
//	IMP002  Cancelled               "context canceled"
//	IMP003  Deadline                "context deadline exceeded"
//	AUTH001 Unauthorized            "token"
//	RATE001 Rate limited            "rate limit"
//	ERR000  Fallback
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so specific patterns precede general ones.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Mapping
	{"hash mismatch", UserMessage{"Header hash does not match the normalized headers", "Recompute the hash from the normalized header list", "MAP001"}},
	{"mapping not found", UserMessage{"No mapping exists for this header layout", "Resolve the headers with find-or-create first", "MAP002"}},
	{"invalid rules", UserMessage{"Mapping rules are invalid", "Map only known columns to supported contact fields", "MAP003"}},
	{"unsupported hash algorithm", UserMessage{"Header hash algorithm is not supported", "Use sha256/v1", "MAP004"}},

	// Contacts
	{"contact not found", UserMessage{"Contact not found", "Verify the contact ID and tenant", "CON001"}},
	{"not in trash", UserMessage{"Contact is not deleted", "Only deleted contacts can be restored", "CON002"}},
	{"is in the trash", UserMessage{"Contact is deleted", "Restore the contact before editing it", "CON003"}},

	// Files
	{"file too large", UserMessage{"File exceeds maximum size limit (10MB)", "Split the file into smaller chunks", "FILE001"}},
	{"invalid csv", UserMessage{"File is not a valid CSV", "Ensure file is comma-separated with consistent columns", "FILE002"}},
	{"no file provided", UserMessage{"No file was provided", "Attach a CSV file in the file field", "FILE003"}},
	{"empty file", UserMessage{"The uploaded file is empty", "Upload a CSV file with a header row", "FILE004"}},
	{"header mismatch", UserMessage{"File headers do not match the mapping", "Upload the file the mapping was created for", "FILE005"}},

	// Imports
	{"too many imports", UserMessage{"Too many imports in progress", "Please wait a moment and try again", "IMP001"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "IMP002"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or try again later", "IMP003"}},

	// Database
	{"duplicate key", UserMessage{"This value must be unique but already exists", "Check for duplicate entries", "DB001"}},
	{"violates unique", UserMessage{"This value must be unique but already exists", "Check for duplicate entries", "DB001"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB002"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB003"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB004"}},
	{"timeout", UserMessage{"Operation timed out", "Please try again later", "DB005"}},

	// Validation
	{"required", UserMessage{"Required field is empty", "Provide a value for every required field", "VAL001"}},
	{"invalid", UserMessage{"Invalid value", "Check the request body against the API documentation", "VAL002"}},

	// Access
	{"token", UserMessage{"Authentication failed", "Send a valid bearer token", "AUTH001"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. An *Error
// carrying an explicit Code takes precedence over pattern matching.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ae *Error
	if errors.As(err, &ae) && ae.Code != "" {
		for _, ep := range errorPatterns {
			if ep.msg.Code == ae.Code {
				return ep.msg
			}
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
