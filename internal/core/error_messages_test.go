package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:     "missing file",
			err:      &FileNotFoundError{Role: RoleMeasurements, Path: "/tmp/m.csv"},
			wantCode: "FILE001",
		},
		{
			name:     "bad encoding",
			err:      &EncodingError{Role: RoleMeasurements, Name: "m.csv"},
			wantCode: "FILE002",
		},
		{
			name:     "unsupported input",
			err:      &InvalidFormatError{Role: RoleSensors},
			wantCode: "FILE003",
		},
		{
			name:     "file too large",
			err:      &ValidationError{Field: "measurements", Message: "measurements file too large: 600 bytes exceeds limit of 500"},
			wantCode: "FILE004",
		},
		{
			name:     "missing column",
			err:      &ValidationError{Message: "missing required columns: Lat_deg"},
			wantCode: "VAL001",
		},
		{
			name:     "empty required field",
			err:      &ValidationError{Field: "alias", Row: 2, Message: "sensor data validation failed: Row 2: Missing required field 'alias'"},
			wantCode: "VAL002",
		},
		{
			name:     "remote 422",
			err:      &ValidationError{Message: "alias t9 is unknown", Err: &APIError{StatusCode: 422}},
			wantCode: "VAL005",
		},
		{
			name:     "station not found inside stage error",
			err:      &StageError{Stage: StageUpload, Chunk: 1, Total: 2, Err: &APIError{StatusCode: 404}},
			wantCode: "API404",
		},
		{
			name:     "server failure",
			err:      &APIError{StatusCode: 503},
			wantCode: "API500",
		},
		{
			name:     "remote rate limit",
			err:      &APIError{StatusCode: 429},
			wantCode: "RATE001",
		},
		{
			name:     "connection refused",
			err:      &NetworkError{Op: "upload", Err: errors.New("dial tcp 127.0.0.1:1: connect: connection refused")},
			wantCode: "NET001",
		},
		{
			name:     "other network failure",
			err:      &NetworkError{Op: "upload", Err: errors.New("EOF")},
			wantCode: "NET000",
		},
		{
			name:     "bad credentials",
			err:      &AuthenticationError{Message: "invalid username or password"},
			wantCode: "AUTH001",
		},
		{
			name:     "limiter full",
			err:      fmt.Errorf("acquire: %w", ErrTooManyUploads),
			wantCode: "UPL001",
		},
		{
			name:     "cancelled",
			err:      fmt.Errorf("upload: %w", context.Canceled),
			wantCode: "UPL002",
		},
		{
			name:     "untyped rate limit text",
			err:      errors.New("Rate limit exceeded"),
			wantCode: "RATE001",
		},
		{
			name:     "unknown error returns default",
			err:      errors.New("some random internal error"),
			wantCode: "ERR000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := &FileNotFoundError{Role: RoleSensors, Path: "s.csv"}
	result := FormatUserError(err)

	expected := "The file could not be found (Code: FILE001). Check the path and try again"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"typed error is user facing", &APIError{StatusCode: 404}, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := &AuthenticationError{Message: "invalid username or password"}
		userErr := NewUserError(techErr)

		if userErr.Error() != "Could not sign in to Upstream" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}

		if !errors.Is(userErr, techErr) {
			t.Error("Unwrap() should return original error")
		}
	})
}
