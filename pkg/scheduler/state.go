package scheduler

import "strings"

// JobState is the lifecycle state of a job as observed from the scheduler.
//
//	Pending -> Running -> Completed | Failed | Cancelled | TimedOut
//
// The four right-hand states are terminal. Unknown is the fallback for
// anything the scheduler reports that is not in the mapping below.
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
	StateTimedOut  JobState = "timed_out"
	StateUnknown   JobState = "unknown"
)

// IsActive reports whether the job has not yet reached a terminal state.
func (s JobState) IsActive() bool {
	return s == StatePending || s == StateRunning
}

// IsTerminal reports whether no further transitions are expected.
func (s JobState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// IsFailedLike groups the unsuccessful terminal states.
func (s JobState) IsFailedLike() bool {
	return s == StateFailed || s == StateCancelled || s == StateTimedOut
}

// slurmStates maps every Slurm job state, long name and compact code, to a
// JobState. See squeue(1) "JOB STATE CODES".
var slurmStates = map[string]JobState{
	"PENDING":       StatePending,
	"PD":            StatePending,
	"CONFIGURING":   StatePending,
	"CF":            StatePending,
	"REQUEUED":      StatePending,
	"RQ":            StatePending,
	"REQUEUE_HOLD":  StatePending,
	"RH":            StatePending,
	"REQUEUE_FED":   StatePending,
	"RF":            StatePending,
	"RESV_DEL_HOLD": StatePending,
	"RD":            StatePending,

	"RUNNING":    StateRunning,
	"R":          StateRunning,
	"COMPLETING": StateRunning,
	"CG":         StateRunning,
	"SUSPENDED":  StateRunning,
	"S":          StateRunning,
	"STOPPED":    StateRunning,
	"ST":         StateRunning,
	"SIGNALING":  StateRunning,
	"SI":         StateRunning,
	"STAGE_OUT":  StateRunning,
	"SO":         StateRunning,
	"RESIZING":   StateRunning,
	"RS":         StateRunning,

	"COMPLETED": StateCompleted,
	"CD":        StateCompleted,

	"FAILED":        StateFailed,
	"F":             StateFailed,
	"NODE_FAIL":     StateFailed,
	"NF":            StateFailed,
	"BOOT_FAIL":     StateFailed,
	"BF":            StateFailed,
	"OUT_OF_MEMORY": StateFailed,
	"OOM":           StateFailed,
	"DEADLINE":      StateFailed,
	"DL":            StateFailed,
	"PREEMPTED":     StateFailed,
	"PR":            StateFailed,
	"SPECIAL_EXIT":  StateFailed,
	"SE":            StateFailed,
	"REVOKED":       StateFailed,
	"RV":            StateFailed,

	"CANCELLED": StateCancelled,
	"CA":        StateCancelled,

	"TIMEOUT": StateTimedOut,
	"TO":      StateTimedOut,
}

// KnownSlurmStates lists every scheduler spelling ParseState recognizes.
func KnownSlurmStates() []string {
	out := make([]string, 0, len(slurmStates))
	for k := range slurmStates {
		out = append(out, k)
	}
	return out
}

// ParseState decodes a Slurm state string.
//
// sacct decorates some states ("CANCELLED by 1234") and fixed-width output
// truncates with a trailing '+'; only the leading token is significant.
// Lookup is exact on that token, case-insensitive. Anything else is Unknown.
func ParseState(raw string) JobState {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return StateUnknown
	}
	token := strings.ToUpper(strings.TrimSuffix(fields[0], "+"))
	if s, ok := slurmStates[token]; ok {
		return s
	}
	return StateUnknown
}
