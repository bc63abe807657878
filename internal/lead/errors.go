package lead

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrParse marks a malformed request body.
	ErrParse = errors.New("invalid JSON in request body")
	// ErrBotCheckFailed marks a rejected attestation token.
	ErrBotCheckFailed = errors.New("reCAPTCHA verification failed")
)

// ThrottleError reports that a client exceeded its submission quota.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter)
}

// ValidationError names the field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return e.Field + " is required"
}

// Required builds the error for a missing field.
func Required(field string) *ValidationError {
	return &ValidationError{Field: field}
}

// PhoneInvalidError reports a phone that failed verification.
type PhoneInvalidError struct {
	Reason string
}

func (e *PhoneInvalidError) Error() string {
	if e.Reason == "" {
		return "Invalid phone number"
	}
	return e.Reason
}

// SinkError wraps a failure from one dispatch sink.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
