// Package scheduler defines the boundary between hpbatch and the cluster
// batch scheduler.
//
// Client is the seam: pkg/scheduler/slurm talks to a real Slurm cluster,
// pkg/scheduler/schedtest is an in-memory double for tests. Records are
// observed, never mutated; the scheduler owns them.
package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/3leaps/hpbatch/pkg/jobspec"
)

// Client submits job specs and reports job records for a user.
//
// Implementations must be safe for concurrent use when a caller submits in
// parallel. Every method honors ctx cancellation and deadlines.
type Client interface {
	// Submit hands spec to the scheduler and returns the assigned job id.
	// Failures are *SubmissionError; a submission is never silently dropped.
	Submit(ctx context.Context, spec *jobspec.JobSpec) (string, error)

	// ListActive returns the user's Pending and Running jobs.
	// Failures are *QueryError. No jobs is an empty, successful listing.
	ListActive(ctx context.Context, q Query) (*Listing, error)

	// ListHistory returns the user's job records in every state, ordered
	// most recent submission first. Failures are *QueryError.
	ListHistory(ctx context.Context, q Query) (*Listing, error)
}

// Query selects the records a listing returns.
type Query struct {
	// User is the job owner. Required.
	User string

	// NameContains keeps only records whose name contains it
	// (case-sensitive). Empty keeps everything.
	NameContains string
}

// JobRecord is a scheduler-reported snapshot of one job.
type JobRecord struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	State         JobState      `json:"state"`
	Elapsed       time.Duration `json:"elapsed"`
	MaxMemory     string        `json:"max_memory,omitempty"`
	AllocatedCPUs int           `json:"allocated_cpus"`

	// RawState is the scheduler's own spelling, kept for display when State
	// is Unknown.
	RawState string `json:"raw_state,omitempty"`
}

// Listing is the result of a query. Malformed holds records that could not
// be decoded; they are never merged into Records.
type Listing struct {
	Records   []JobRecord   `json:"records"`
	Malformed []*ParseError `json:"-"`
}

// FilterByName returns the records whose name contains substr.
// The input slice is not modified and order is preserved.
func FilterByName(records []JobRecord, substr string) []JobRecord {
	if substr == "" {
		out := make([]JobRecord, len(records))
		copy(out, records)
		return out
	}
	out := make([]JobRecord, 0, len(records))
	for _, r := range records {
		if strings.Contains(r.Name, substr) {
			out = append(out, r)
		}
	}
	return out
}
