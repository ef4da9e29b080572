package worker

import (
	"errors"
	"fmt"
)

const (
	DefaultNumberOfWorkerThreads     = 10
	DefaultSubmissionWaitTimeSeconds = 10
)

// Config holds the worker pool parameters.
type Config struct {
	NumberOfWorkerThreads     int
	SubmissionWaitTimeSeconds int
}

// DefaultConfig returns the configuration used by New.
func DefaultConfig() Config {
	return Config{
		NumberOfWorkerThreads:     DefaultNumberOfWorkerThreads,
		SubmissionWaitTimeSeconds: DefaultSubmissionWaitTimeSeconds,
	}
}

// ValidationError is a single configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationContext collects configuration problems instead of failing on
// the first one.
type ValidationContext struct {
	errs []ValidationError
}

// AddError records a problem for field.
func (c *ValidationContext) AddError(field, message string) {
	c.errs = append(c.errs, ValidationError{Field: field, Message: message})
}

// Valid reports whether no problems were recorded.
func (c *ValidationContext) Valid() bool {
	return len(c.errs) == 0
}

// Errors returns the recorded problems.
func (c *ValidationContext) Errors() []ValidationError {
	return append([]ValidationError(nil), c.errs...)
}

// Err returns nil if valid, or an error listing every problem.
func (c *ValidationContext) Err() error {
	if c.Valid() {
		return nil
	}
	if len(c.errs) == 1 {
		return c.errs[0]
	}
	msg := fmt.Sprintf("%d validation errors:", len(c.errs))
	for _, e := range c.errs {
		msg += "\n  - " + e.Error()
	}
	return errors.New(msg)
}

func (c Config) validate(vctx *ValidationContext) {
	if c.NumberOfWorkerThreads <= 0 {
		vctx.AddError("numberOfWorkerThreads", fmt.Sprintf("must be positive, got %d", c.NumberOfWorkerThreads))
	}
	if c.SubmissionWaitTimeSeconds <= 0 {
		vctx.AddError("submissionWaitTimeSeconds", fmt.Sprintf("must be positive, got %d", c.SubmissionWaitTimeSeconds))
	}
}
