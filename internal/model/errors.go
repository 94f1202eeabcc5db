package model

import (
	"errors"
	"fmt"
	"time"
)

// HTTPError wraps an HTTP status code so retry logic can inspect it.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // from Retry-After header, zero if absent
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// SourceFetchError is a failure isolated to one source. A pass records it and
// moves on to the remaining sources.
type SourceFetchError struct {
	Source string
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error {
	return e.Err
}

// ValidationError rejects a malformed raw posting.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid posting: %s %s", e.Field, e.Reason)
}

// ErrDuplicateSkipped marks a posting that resolved to an existing Job.
// It is informational and never aborts a pass.
var ErrDuplicateSkipped = errors.New("duplicate posting skipped")

// AlertDeliveryError is a failed notifier call for a job.
type AlertDeliveryError struct {
	JobID   string
	Attempt int
	Err     error
}

func (e *AlertDeliveryError) Error() string {
	return fmt.Sprintf("alert delivery for job %s (attempt %d): %v", e.JobID, e.Attempt, e.Err)
}

func (e *AlertDeliveryError) Unwrap() error {
	return e.Err
}

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err (or anything it wraps) is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
