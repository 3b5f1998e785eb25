package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidCity   = errors.New("invalid city")
	ErrInvalidDevice = errors.New("invalid device id")
	ErrStorage       = errors.New("storage failure")
)

// RateLimitError is returned by admission control when a caller already has
// an active job. It carries the existing job id so the caller can switch to
// polling instead of retrying.
type RateLimitError struct {
	ExistingJobID string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("active job %s already in progress", e.ExistingJobID)
}

// GenerationError wraps a provider failure with a fatal flag. Fatal means a
// retry of the whole job can never succeed (content-policy rejection,
// unresolvable location); everything else is transient and retry-eligible by
// an outer scheduler, though the pipeline itself never retries.
type GenerationError struct {
	Message string
	Fatal   bool
	Err     error
}

func (e *GenerationError) Error() string {
	return e.Message
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// FatalGeneration builds a non-retryable generation error.
func FatalGeneration(format string, args ...any) *GenerationError {
	return &GenerationError{Message: fmt.Sprintf(format, args...), Fatal: true}
}

// TransientGeneration builds a retry-eligible generation error.
func TransientGeneration(err error, format string, args ...any) *GenerationError {
	return &GenerationError{Message: fmt.Sprintf(format, args...), Err: err}
}

// IsFatalGeneration reports whether err carries the fatal classification.
func IsFatalGeneration(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Fatal
}
