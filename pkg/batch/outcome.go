package batch

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/3leaps/hpbatch/pkg/period"
)

// Outcome is the result of handling one requested period.
//
// Exactly one of these holds: Err != nil (failed), Skipped (already active),
// or JobID != "" (submitted).
type Outcome struct {
	// Input is the text the period came from ("202201", or a range member).
	Input string

	Period  period.Period
	JobName string
	Mode    period.Mode

	// JobID is the scheduler-assigned id when submission succeeded.
	JobID string

	// Skipped is set when a job with the same name was already pending or
	// running and SkipActive was requested.
	Skipped bool

	Err error
}

// Label names the outcome for messages: the period key when known, the raw
// input otherwise.
func (o Outcome) Label() string {
	if o.Period.Validate() == nil {
		return o.Period.Key()
	}
	return o.Input
}

// Outcomes are per-period results in input order.
type Outcomes []Outcome

// Failed returns the outcomes that carry an error.
func (oc Outcomes) Failed() []Outcome {
	var out []Outcome
	for _, o := range oc {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Succeeded returns the outcomes that produced a job id.
func (oc Outcomes) Succeeded() []Outcome {
	var out []Outcome
	for _, o := range oc {
		if o.Err == nil && !o.Skipped {
			out = append(out, o)
		}
	}
	return out
}

// Skipped returns the outcomes skipped because the job was already active.
func (oc Outcomes) Skipped() []Outcome {
	var out []Outcome
	for _, o := range oc {
		if o.Err == nil && o.Skipped {
			out = append(out, o)
		}
	}
	return out
}

// Err aggregates every per-period error, or returns nil when none failed.
func (oc Outcomes) Err() error {
	var result *multierror.Error
	for _, o := range oc {
		if o.Err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", o.Label(), o.Err))
		}
	}
	return result.ErrorOrNil()
}
