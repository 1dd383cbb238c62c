// Package ledger keeps an on-disk record of every submit run.
//
// The scheduler is the source of truth for job state; the ledger only
// remembers what was asked for, what came back, and when, so an operator
// can answer "which periods did I submit last Tuesday and which failed".
package ledger

import (
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/hpbatch/pkg/batch"
	"github.com/3leaps/hpbatch/pkg/output"
)

// RunState is the lifecycle state of a submit run.
//
// NOTE: These values are persisted in run.json and are part of the stable
// on-disk contract.
type RunState string

const (
	RunStateRunning     RunState = "running"
	RunStateSuccess     RunState = "success"
	RunStatePartial     RunState = "partial"
	RunStateFailed      RunState = "failed"
	RunStateInterrupted RunState = "interrupted"
)

// RunRecord is the persistent record written to run.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type RunRecord struct {
	RunID        string    `json:"run_id"`
	State        RunState  `json:"state"`
	User         string    `json:"user,omitempty"`
	ManifestPath string    `json:"manifest_path,omitempty"`
	Inputs       []string  `json:"inputs"`
	DryRun       bool      `json:"dry_run,omitempty"`
	PID          int       `json:"pid,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	EndedAt  *time.Time             `json:"ended_at,omitempty"`
	Outcomes []output.OutcomeRecord `json:"outcomes,omitempty"`
	Summary  *output.SummaryRecord  `json:"summary,omitempty"`
}

// NewRun starts a record for a run over inputs.
func NewRun(user, manifestPath string, inputs []string, now time.Time) *RunRecord {
	return &RunRecord{
		RunID:        uuid.New().String(),
		State:        RunStateRunning,
		User:         user,
		ManifestPath: manifestPath,
		Inputs:       append([]string{}, inputs...),
		PID:          os.Getpid(),
		CreatedAt:    now.UTC(),
	}
}

// Finish records outcomes and derives the final state: success when nothing
// failed, failed when nothing was submitted or skipped, partial otherwise.
func (r *RunRecord) Finish(outcomes batch.Outcomes, elapsed time.Duration, now time.Time) {
	ended := now.UTC()
	r.EndedAt = &ended
	r.Summary = output.NewSummaryRecord(outcomes, elapsed)
	r.Summary.DryRun = r.DryRun

	r.Outcomes = make([]output.OutcomeRecord, len(outcomes))
	for i, o := range outcomes {
		r.Outcomes[i] = output.NewOutcomeRecord(o)
	}

	failed := r.Summary.Failed
	switch {
	case failed == 0:
		r.State = RunStateSuccess
	case failed == r.Summary.Requested:
		r.State = RunStateFailed
	default:
		r.State = RunStatePartial
	}
}

// Succeeded reports whether the run finished without failures.
func (r *RunRecord) Succeeded() bool {
	return r.State == RunStateSuccess
}
