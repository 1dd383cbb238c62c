package monitor

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/3leaps/hpbatch/pkg/jobspec"
	"github.com/3leaps/hpbatch/pkg/scheduler"
)

// WriteReport renders s as a plain-text status report. A summary with no
// matching jobs still prints its counts followed by an explicit
// "No jobs found" line.
func WriteReport(w io.Writer, s *Summary) error {
	if s == nil {
		return fmt.Errorf("summary is nil")
	}

	ew := &errWriter{w: w}
	ew.printf("Jobs for user %s matching %q\n", s.User, s.Prefix)
	ew.printf("  total:       %d\n", s.Total)
	ew.printf("  active:      %d\n", s.Active)
	ew.printf("  completed:   %d\n", s.Completed)
	ew.printf("  failed-like: %d\n", s.FailedLike)
	if s.Unknown > 0 {
		ew.printf("  unknown:     %d\n", s.Unknown)
	}
	if s.Malformed > 0 {
		ew.printf("  malformed:   %d (skipped)\n", s.Malformed)
	}
	if ew.err != nil {
		return ew.err
	}

	if s.Empty() {
		ew.printf("\nNo jobs found\n")
		return ew.err
	}
	if len(s.Recent) == 0 {
		return nil
	}

	ew.printf("\nRecent jobs (newest first):\n")
	if ew.err != nil {
		return ew.err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "JOB ID\tNAME\tSTATE\tELAPSED\tMAX MEM\tCPUS")
	for _, r := range s.Recent {
		mem := r.MaxMemory
		if mem == "" {
			mem = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			r.ID,
			r.Name,
			displayState(r),
			jobspec.FormatWallTime(r.Elapsed),
			mem,
			r.AllocatedCPUs,
		)
	}
	return tw.Flush()
}

func displayState(r scheduler.JobRecord) string {
	if r.State == scheduler.StateUnknown && r.RawState != "" {
		return fmt.Sprintf("%s (%s)", r.State, r.RawState)
	}
	return string(r.State)
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
