// Package output provides JSONL output for submission and monitoring results.
//
// Output is structured as typed record envelopes containing per-period
// outcomes, errors, and summaries. Each line is a self-contained JSON
// object that can be parsed independently.
package output

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/hpbatch/pkg/batch"
	"github.com/3leaps/hpbatch/pkg/period"
	"github.com/3leaps/hpbatch/pkg/scheduler"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: hpbatch.<type>.v<version>
const (
	// TypeOutcome identifies per-period submission records.
	TypeOutcome = "hpbatch.outcome.v1"

	// TypeError identifies error records.
	TypeError = "hpbatch.error.v1"

	// TypeSummary identifies the final record of a submit run.
	TypeSummary = "hpbatch.summary.v1"

	// TypeStatus identifies monitor summaries.
	TypeStatus = "hpbatch.status.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "hpbatch.outcome.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID correlates the records of one invocation.
	RunID string `json:"run_id"`

	// User is the scheduler account the invocation acted for.
	User string `json:"user,omitempty"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// Outcome statuses.
const (
	StatusSubmitted = "submitted"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// OutcomeRecord is the data payload for one requested period.
type OutcomeRecord struct {
	Input   string `json:"input"`
	Period  string `json:"period,omitempty"`
	JobName string `json:"job_name,omitempty"`
	Mode    string `json:"mode,omitempty"`
	JobID   string `json:"job_id,omitempty"`

	// Status is one of StatusSubmitted, StatusSkipped, StatusFailed.
	Status string `json:"status"`

	// Error is set when Status is StatusFailed.
	Error *ErrorRecord `json:"error,omitempty"`
}

// NewOutcomeRecord converts a batch outcome into its wire form.
func NewOutcomeRecord(o batch.Outcome) OutcomeRecord {
	rec := OutcomeRecord{
		Input:   o.Input,
		JobName: o.JobName,
		Mode:    string(o.Mode),
		JobID:   o.JobID,
		Status:  StatusSubmitted,
	}
	if o.Period.Validate() == nil {
		rec.Period = o.Period.Key()
	}
	switch {
	case o.Err != nil:
		rec.Status = StatusFailed
		rec.Error = NewErrorRecord(o.Err)
	case o.Skipped:
		rec.Status = StatusSkipped
	}
	return rec
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire run,
// so one bad period does not hide the others.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Period is the period related to this error, if applicable.
	Period string `json:"period,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeInvalidPeriod indicates a period that failed validation.
	ErrCodeInvalidPeriod = "INVALID_PERIOD"

	// ErrCodeRejected indicates the scheduler refused a submission.
	ErrCodeRejected = "REJECTED"

	// ErrCodeUnavailable indicates the scheduler could not be reached.
	ErrCodeUnavailable = "UNAVAILABLE"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeMalformed indicates undecodable scheduler output.
	ErrCodeMalformed = "MALFORMED"

	// ErrCodeCancelled indicates the run was interrupted.
	ErrCodeCancelled = "CANCELLED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ErrorCode classifies err into one of the ErrCode constants.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case period.IsInvalid(err):
		return ErrCodeInvalidPeriod
	case scheduler.IsTimeout(err):
		return ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		return ErrCodeCancelled
	case scheduler.IsRejected(err):
		return ErrCodeRejected
	case scheduler.IsUnavailable(err):
		return ErrCodeUnavailable
	case errors.Is(err, scheduler.ErrMalformedRecord):
		return ErrCodeMalformed
	default:
		return ErrCodeInternal
	}
}

// NewErrorRecord builds an ErrorRecord from err. Scheduler-provided reasons
// are carried in Details.
func NewErrorRecord(err error) *ErrorRecord {
	if err == nil {
		return nil
	}
	rec := &ErrorRecord{Code: ErrorCode(err), Message: err.Error()}

	var se *scheduler.SubmissionError
	var qe *scheduler.QueryError
	switch {
	case errors.As(err, &se) && se.Reason != "":
		rec.Details = map[string]string{"job_name": se.JobName, "reason": se.Reason}
	case errors.As(err, &qe) && qe.Reason != "":
		rec.Details = map[string]string{"op": qe.Op, "reason": qe.Reason}
	}
	return rec
}

// SummaryRecord is the data payload for the end of a submit run.
type SummaryRecord struct {
	Requested int `json:"requested"`
	Submitted int `json:"submitted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// DryRun is set when nothing was handed to the scheduler.
	DryRun bool `json:"dry_run,omitempty"`
}

// NewSummaryRecord tallies outcomes.
func NewSummaryRecord(outcomes batch.Outcomes, elapsed time.Duration) *SummaryRecord {
	return &SummaryRecord{
		Requested:     len(outcomes),
		Submitted:     len(outcomes.Succeeded()),
		Skipped:       len(outcomes.Skipped()),
		Failed:        len(outcomes.Failed()),
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
	}
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
