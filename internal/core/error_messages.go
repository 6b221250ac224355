package core

import (
	"context"
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

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// They are consulted only when the error carries no recognised type.
// The first matching pattern wins, so specific patterns come first.
var errorPatterns = []errorPattern{
	// =========================================================================
	// File Errors (FILE001-FILE004)
	// =========================================================================
	{pattern: "file not found", msg: msgFileNotFound},
	{pattern: "invalid utf-8", msg: msgEncoding},
	{pattern: "file format", msg: msgInvalidFormat},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "The file exceeds the maximum upload size",
			Action:  "Split the file or raise UPLOAD_MAX_FILE_SIZE",
			Code:    "FILE004",
		},
	},

	// =========================================================================
	// Validation Errors (VAL001-VAL004)
	// =========================================================================
	{
		pattern: "missing required columns",
		msg: UserMessage{
			Message: "The CSV is missing required columns",
			Action:  "Compare the header row with the expected format",
			Code:    "VAL001",
		},
	},
	{
		pattern: "missing required field",
		msg: UserMessage{
			Message: "A required field is empty",
			Action:  "Fill in the field on the reported row",
			Code:    "VAL002",
		},
	},
	{
		pattern: "must be between",
		msg: UserMessage{
			Message: "A coordinate is out of range",
			Action:  "Latitude must be within [-90, 90] and longitude within [-180, 180]",
			Code:    "VAL003",
		},
	},
	{
		pattern: "malformed",
		msg: UserMessage{
			Message: "The CSV could not be parsed",
			Action:  "Check quoting on the reported line",
			Code:    "VAL004",
		},
	},

	// =========================================================================
	// Network / Rate Errors
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Could not connect to the Upstream API",
			Action:  "Check UPSTREAM_BASE_URL and your network connection",
			Code:    "NET001",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "The request timed out",
			Action:  "Try a smaller chunk size or raise UPSTREAM_TIMEOUT",
			Code:    "NET002",
		},
	},
	{pattern: "rate limit", msg: msgRateLimited},
}

var (
	msgFileNotFound = UserMessage{
		Message: "The file could not be found",
		Action:  "Check the path and try again",
		Code:    "FILE001",
	}
	msgEncoding = UserMessage{
		Message: "The file is not valid UTF-8 text",
		Action:  "Re-save the CSV with UTF-8 encoding",
		Code:    "FILE002",
	}
	msgInvalidFormat = UserMessage{
		Message: "The file input is not in a supported form",
		Action:  "Provide a file path or file contents",
		Code:    "FILE003",
	}
	msgRateLimited = UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}
)

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Run again with --log-level debug for details",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Typed errors from this package are classified first; otherwise the error
// text is searched for known patterns. If nothing matches, a generic
// fallback with code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if msg, ok := mapTyped(err); ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

func mapTyped(err error) (UserMessage, bool) {
	var (
		notFound *FileNotFoundError
		encoding *EncodingError
		format   *InvalidFormatError
		authErr  *AuthenticationError
		netErr   *NetworkError
		apiErr   *APIError
	)

	switch {
	case errors.As(err, &notFound):
		return msgFileNotFound, true
	case errors.As(err, &encoding):
		return msgEncoding, true
	case errors.As(err, &format):
		return msgInvalidFormat, true
	case errors.Is(err, ErrTooManyUploads):
		return UserMessage{
			Message: "Another upload is already running",
			Action:  "Wait for it to finish or raise UPLOAD_MAX_CONCURRENT",
			Code:    "UPL001",
		}, true
	case errors.Is(err, context.Canceled):
		return UserMessage{
			Message: "The upload was cancelled",
			Action:  "Chunks already accepted remain stored; check history before re-running",
			Code:    "UPL002",
		}, true
	case errors.As(err, &authErr):
		return UserMessage{
			Message: "Could not sign in to Upstream",
			Action:  "Check UPSTREAM_USERNAME and UPSTREAM_PASSWORD",
			Code:    "AUTH001",
		}, true
	case errors.As(err, &netErr):
		if msg, ok := matchPattern(err, "NET"); ok {
			return msg, true
		}
		return UserMessage{
			Message: "The Upstream API could not be reached",
			Action:  "Check your network connection and try again",
			Code:    "NET000",
		}, true
	}

	// Local validation is reported by pattern so the code names the problem.
	if errors.Is(err, ErrValidation) {
		if msg, ok := matchPattern(err, ""); ok {
			return msg, true
		}
		if errors.As(err, &apiErr) {
			return UserMessage{
				Message: "The Upstream API rejected the data",
				Action:  "Review the server message and fix the CSV",
				Code:    "VAL005",
			}, true
		}
		return UserMessage{
			Message: "The input is invalid",
			Action:  "Review the reported problem and try again",
			Code:    "VAL000",
		}, true
	}

	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return UserMessage{
				Message: "The Upstream API refused access",
				Action:  "Check that your account can write to this campaign",
				Code:    "AUTH002",
			}, true
		case apiErr.StatusCode == 404:
			return UserMessage{
				Message: "The campaign or station does not exist",
				Action:  "Check the campaign and station IDs",
				Code:    "API404",
			}, true
		case apiErr.StatusCode == 429:
			return msgRateLimited, true
		case apiErr.StatusCode >= 500:
			return UserMessage{
				Message: "The Upstream API failed to process the request",
				Action:  "Try again later; chunks already accepted remain stored",
				Code:    "API500",
			}, true
		default:
			return UserMessage{
				Message: "The Upstream API rejected the request",
				Action:  "Review the server message and try again",
				Code:    "API000",
			}, true
		}
	}

	return UserMessage{}, false
}

// matchPattern searches patterns whose code starts with prefix.
func matchPattern(err error, prefix string) (UserMessage, bool) {
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.HasPrefix(ep.msg.Code, prefix) && strings.Contains(errStr, ep.pattern) {
			return ep.msg, true
		}
	}
	return UserMessage{}, false
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging while providing a clean message for users.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError by mapping a technical error to a user-friendly message.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
