package scheduler

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for scheduler operations.
var (
	// ErrRejected indicates the scheduler refused a submission (quota,
	// malformed request, unknown account, ...).
	ErrRejected = errors.New("submission rejected")

	// ErrUnavailable indicates the scheduler could not be reached.
	ErrUnavailable = errors.New("scheduler unavailable")

	// ErrTimeout indicates a scheduler call exceeded its deadline.
	ErrTimeout = errors.New("scheduler call timed out")

	// ErrMalformedRecord indicates a record could not be decoded.
	ErrMalformedRecord = errors.New("malformed scheduler record")
)

// SubmissionError reports a job spec the scheduler did not accept.
type SubmissionError struct {
	// JobName is the name of the spec that was being submitted.
	JobName string

	// Reason is the scheduler's own explanation, if any.
	Reason string

	// Err is the underlying error, usually one of the sentinels above.
	Err error
}

// Error implements the error interface.
func (e *SubmissionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("submit %s: %v: %s", e.JobName, e.Err, e.Reason)
	}
	return fmt.Sprintf("submit %s: %v", e.JobName, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// QueryError reports a failed listing.
type QueryError struct {
	// Op is the listing that failed ("list_active", "list_history").
	Op string

	// User is the user the query was for.
	User string

	// Reason is the scheduler's own explanation, if any.
	Reason string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	msg := fmt.Sprintf("%s for user %s: %v", e.Op, e.User, e.Err)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// ParseError reports one record that could not be decoded into a JobRecord.
type ParseError struct {
	// Source names the command or feed the record came from.
	Source string

	// Line is the 1-based line number within that output, 0 if unknown.
	Line int

	// Raw is the undecoded record.
	Raw string

	// Err describes what was wrong.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s line %d: %v: %q", e.Source, e.Line, e.Err, e.Raw)
}

// Unwrap returns ErrMalformedRecord so all parse failures match errors.Is.
func (e *ParseError) Unwrap() []error {
	return []error{ErrMalformedRecord, e.Err}
}

// IsRejected returns true if the scheduler refused a submission.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsUnavailable returns true if the scheduler could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsTimeout returns true if a scheduler call ran out of time.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsSubmissionError returns true if err is or wraps a *SubmissionError.
func IsSubmissionError(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}

// IsQueryError returns true if err is or wraps a *QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

// ContextError classifies a context failure: deadline → ErrTimeout,
// cancellation passes through unchanged.
func ContextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
