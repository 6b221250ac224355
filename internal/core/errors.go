package core

// errors.go defines the error taxonomy surfaced by the ingestion pipeline.
//
// Every locally detectable input problem matches ErrValidation, so callers
// can separate "fix your input" from remote or transport failures:
//
//	if errors.Is(err, core.ErrValidation) { ... }
//
// Remote rejections are *APIError, failures with no HTTP response at all are
// *NetworkError. Errors raised after dispatch began are wrapped in *StageError
// naming the chunk that failed.

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"
)

// ErrValidation is matched by every validation-class error.
var ErrValidation = errors.New("validation error")

// ValidationError reports malformed caller input: missing identifiers,
// missing columns, empty required fields, out-of-range coordinates, or a
// remote 422.
type ValidationError struct {
	Field   string // Offending field, or the first one when several rows failed
	Row     int    // 1-based data row, 0 when not row specific
	Message string // Human-readable description
	Err     error  // Underlying cause (aggregated row errors, *APIError for 422)
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return ErrValidation.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// EncodingError reports a file whose bytes are not valid UTF-8.
type EncodingError struct {
	Role   Role
	Name   string
	Offset int // Byte offset of the first invalid sequence
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to decode %s file %q: invalid UTF-8 at byte %d", e.Role, e.Name, e.Offset)
}

func (e *EncodingError) Is(target error) bool { return target == ErrValidation }

// FileNotFoundError reports a path input that does not exist.
type FileNotFoundError struct {
	Role Role
	Path string
	Err  error
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("%s file not found: %s", e.Role, e.Path)
}

func (e *FileNotFoundError) Unwrap() error { return e.Err }

func (e *FileNotFoundError) Is(target error) bool {
	return target == ErrValidation || target == fs.ErrNotExist
}

// InvalidFormatError reports an input value of an unsupported shape.
type InvalidFormatError struct {
	Role   Role
	Reason string
}

func (e *InvalidFormatError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s file format", e.Role)
	}
	return fmt.Sprintf("invalid %s file format: %s", e.Role, e.Reason)
}

func (e *InvalidFormatError) Is(target error) bool { return target == ErrValidation }

// APIError is a non-2xx response from the Upstream API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
	RetryAfter time.Duration // Set on 429 when the server sent Retry-After
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("upstream API error (status %d): %s", e.StatusCode, msg)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

// IsRateLimited reports whether err is a 429 from the API.
func IsRateLimited(err error) bool {
	return hasStatus(err, http.StatusTooManyRequests)
}

func hasStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// NetworkError is a transport failure where no HTTP response was obtained.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthenticationError is a failed login or token refresh.
type AuthenticationError struct {
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Err)
	}
	return "authentication failed: " + e.Message
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Stage names the step of an upload that produced an error.
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageValidate Stage = "validate"
	StageChunk    Stage = "chunk"
	StageUpload   Stage = "upload"
)

// StageError attributes an error to a pipeline stage and file. For the
// upload stage Chunk and Total identify the failed request (1-based).
type StageError struct {
	Stage Stage
	File  string
	Chunk int
	Total int
	Err   error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Stage))
	if e.Chunk > 0 {
		fmt.Fprintf(&b, " chunk %d/%d", e.Chunk, e.Total)
	}
	if e.File != "" {
		fmt.Fprintf(&b, " (%s)", e.File)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Err }
