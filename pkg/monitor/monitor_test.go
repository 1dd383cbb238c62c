package monitor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hpbatch/pkg/scheduler"
	"github.com/3leaps/hpbatch/pkg/scheduler/schedtest"
)

var fixedNow = time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)

func newAggregator(client scheduler.Client, opts ...Option) *Aggregator {
	return New(client, append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func TestSummarize_Scenario(t *testing.T) {
	client := schedtest.New()
	client.SetHistory(
		scheduler.JobRecord{ID: "2", Name: "hp_202201", State: scheduler.StateCompleted},
		scheduler.JobRecord{ID: "1", Name: "hp_202202", State: scheduler.StateFailed},
	)

	s, err := newAggregator(client).Summarize(context.Background(), "alice", "hp")
	require.NoError(t, err)

	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 0, s.Active)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.FailedLike)
	assert.Len(t, s.Recent, 2)
	assert.Equal(t, "alice", s.User)
	assert.Equal(t, "hp", s.Prefix)
	assert.Equal(t, fixedNow, s.ObservedAt)
}

func TestSummarize_ZeroMatches(t *testing.T) {
	client := schedtest.New()
	client.SetHistory(scheduler.JobRecord{ID: "9", Name: "unrelated", State: scheduler.StateCompleted})

	s, err := newAggregator(client).Summarize(context.Background(), "alice", "hp")
	require.NoError(t, err)

	assert.Equal(t, 0, s.Total)
	assert.Equal(t, 0, s.Active)
	assert.Equal(t, 0, s.Completed)
	assert.Equal(t, 0, s.FailedLike)
	assert.NotNil(t, s.Recent)
	assert.Empty(t, s.Recent)
	assert.True(t, s.Empty())
}

func TestSummarize_DeduplicatesActiveAndHistory(t *testing.T) {
	client := schedtest.New()
	client.SetActive(
		scheduler.JobRecord{ID: "12", Name: "hp_202203", State: scheduler.StateRunning},
		scheduler.JobRecord{ID: "13", Name: "hp_202204", State: scheduler.StatePending},
	)
	client.SetHistory(
		scheduler.JobRecord{ID: "12", Name: "hp_202203", State: scheduler.StateRunning},
		scheduler.JobRecord{ID: "11", Name: "hp_202202", State: scheduler.StateTimedOut},
		scheduler.JobRecord{ID: "10", Name: "hp_202201", State: scheduler.StateCancelled},
		scheduler.JobRecord{ID: "9", Name: "hp_202112", State: scheduler.StateUnknown, RawState: "WEIRD"},
		scheduler.JobRecord{ID: "8", Name: "hp_202111", State: scheduler.StateCompleted},
		scheduler.JobRecord{ID: "8", Name: "hp_202111", State: scheduler.StateCompleted},
	)

	s, err := newAggregator(client).Summarize(context.Background(), "alice", "hp_")
	require.NoError(t, err)

	// 13 only active, 12 in both, 8..11 history only.
	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 2, s.Active)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 2, s.FailedLike)
	assert.Equal(t, 1, s.Unknown)
	assert.LessOrEqual(t, s.Active, s.Total)
	assert.LessOrEqual(t, s.Completed+s.FailedLike+s.Unknown, s.Total)
}

func TestSummarize_UnknownActiveRecordIsNotActive(t *testing.T) {
	client := schedtest.New()
	client.SetActive(
		scheduler.JobRecord{ID: "101", Name: "hp_202201", State: scheduler.StateUnknown, RawState: "POWER_UP_NODE"},
		scheduler.JobRecord{ID: "102", Name: "hp_202202", State: scheduler.StateUnknown, RawState: "POWER_UP_NODE"},
		scheduler.JobRecord{ID: "103", Name: "hp_202203", State: scheduler.StateRunning},
	)
	client.SetHistory(
		scheduler.JobRecord{ID: "102", Name: "hp_202202", State: scheduler.StateUnknown, RawState: "POWER_UP_NODE"},
	)

	s, err := newAggregator(client).Summarize(context.Background(), "alice", "hp")
	require.NoError(t, err)

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Active)
	// 102 is in both listings and counted once.
	assert.Equal(t, 2, s.Unknown)
	assert.LessOrEqual(t, s.Active+s.Completed+s.FailedLike+s.Unknown, s.Total)
}

func TestSummarize_RecentSkipsRepeatedIDs(t *testing.T) {
	client := schedtest.New()
	client.SetHistory(
		scheduler.JobRecord{ID: "3", Name: "hp_202203", State: scheduler.StateFailed},
		scheduler.JobRecord{ID: "3", Name: "hp_202203", State: scheduler.StateFailed},
		scheduler.JobRecord{ID: "2", Name: "hp_202202", State: scheduler.StateCompleted},
		scheduler.JobRecord{ID: "1", Name: "hp_202201", State: scheduler.StateCompleted},
	)

	s, err := newAggregator(client, WithRecentLimit(2)).Summarize(context.Background(), "alice", "hp")
	require.NoError(t, err)

	require.Len(t, s.Recent, 2)
	assert.Equal(t, "3", s.Recent[0].ID)
	assert.Equal(t, "2", s.Recent[1].ID)
}

func TestWithRecentLimitNeverExceedsDefault(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{n: 1, want: 1},
		{n: 7, want: 7},
		{n: DefaultRecentLimit, want: DefaultRecentLimit},
		{n: DefaultRecentLimit + 1, want: DefaultRecentLimit},
		{n: 100, want: DefaultRecentLimit},
		{n: 0, want: DefaultRecentLimit},
		{n: -3, want: DefaultRecentLimit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, New(schedtest.New(), WithRecentLimit(tt.n)).RecentLimit(), "n=%d", tt.n)
	}
}

func TestSummarize_RecentBoundedAndOrdered(t *testing.T) {
	client := schedtest.New()
	var history []scheduler.JobRecord
	for i := 40; i > 0; i-- {
		history = append(history, scheduler.JobRecord{
			ID:    fmt.Sprint(i),
			Name:  fmt.Sprintf("hp_job%02d", i),
			State: scheduler.StateCompleted,
		})
	}
	history = append(history, scheduler.JobRecord{ID: "0", Name: "other", State: scheduler.StateCompleted})
	client.SetHistory(history...)

	s, err := newAggregator(client).Summarize(context.Background(), "alice", "hp")
	require.NoError(t, err)

	require.Len(t, s.Recent, DefaultRecentLimit)
	assert.Equal(t, "40", s.Recent[0].ID)
	assert.Equal(t, "26", s.Recent[14].ID)
	for _, r := range s.Recent {
		assert.True(t, strings.Contains(r.Name, "hp"))
	}
	assert.Equal(t, 40, s.Total)

	s, err = newAggregator(client, WithRecentLimit(3)).Summarize(context.Background(), "alice", "hp")
	require.NoError(t, err)
	assert.Len(t, s.Recent, 3)
}

func TestSummarize_PrefixIsCaseSensitiveSubstring(t *testing.T) {
	client := schedtest.New()
	client.SetHistory(
		scheduler.JobRecord{ID: "3", Name: "HP_202201", State: scheduler.StateCompleted},
		scheduler.JobRecord{ID: "2", Name: "xhp_202201", State: scheduler.StateCompleted},
		scheduler.JobRecord{ID: "1", Name: "hp_202201", State: scheduler.StateCompleted},
	)

	s, err := newAggregator(client).Summarize(context.Background(), "alice", "hp")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Total)
}

func TestSummarize_CountsMalformed(t *testing.T) {
	client := schedtest.New()
	client.SetHistory(scheduler.JobRecord{ID: "1", Name: "hp_202201", State: scheduler.StateCompleted})
	client.SetMalformed(
		&scheduler.ParseError{Source: "sacct", Line: 2, Raw: "x"},
		&scheduler.ParseError{Source: "sacct", Line: 3, Raw: "y"},
	)

	s, err := newAggregator(client).Summarize(context.Background(), "alice", "hp")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Malformed)
	assert.Equal(t, 1, s.Total)
}

func TestSummarize_QueryErrorIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *schedtest.Client)
		op    string
	}{
		{
			name: "active",
			setup: func(c *schedtest.Client) {
				c.ActiveErr = &scheduler.QueryError{Op: "list_active", User: "alice", Err: scheduler.ErrUnavailable}
			},
			op: "list_active",
		},
		{
			name: "history",
			setup: func(c *schedtest.Client) {
				c.HistoryErr = &scheduler.QueryError{Op: "list_history", User: "alice", Err: scheduler.ErrTimeout}
			},
			op: "list_history",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := schedtest.New()
			client.SetHistory(scheduler.JobRecord{ID: "1", Name: "hp_202201", State: scheduler.StateCompleted})
			tt.setup(client)

			s, err := newAggregator(client).Summarize(context.Background(), "alice", "hp")
			assert.Nil(t, s)

			var qe *scheduler.QueryError
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, tt.op, qe.Op)
		})
	}
}

func TestSummarize_RequiresUser(t *testing.T) {
	_, err := newAggregator(schedtest.New()).Summarize(context.Background(), "", "hp")
	assert.True(t, scheduler.IsQueryError(err))
}

func TestWriteReport(t *testing.T) {
	s := &Summary{
		User:       "alice",
		Prefix:     "hp",
		Total:      2,
		Completed:  1,
		FailedLike: 1,
		Recent: []scheduler.JobRecord{
			{ID: "2", Name: "hp_202202", State: scheduler.StateFailed, Elapsed: 90 * time.Second, AllocatedCPUs: 16},
			{ID: "1", Name: "hp_202201", State: scheduler.StateCompleted, Elapsed: 2 * time.Hour, MaxMemory: "35G", AllocatedCPUs: 16},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, s))
	out := buf.String()

	assert.Contains(t, out, `Jobs for user alice matching "hp"`)
	assert.Contains(t, out, "total:       2")
	assert.Contains(t, out, "failed-like: 1")
	assert.NotContains(t, out, "No jobs found")
	assert.Contains(t, out, "Recent jobs (newest first):")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := lines[len(lines)-1]
	assert.Contains(t, last, "hp_202201")
	assert.Contains(t, last, "02:00:00")
	assert.Contains(t, last, "35G")
	assert.Contains(t, lines[len(lines)-2], "00:01:30")
}

func TestWriteReport_NoJobs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, &Summary{User: "bob", Prefix: "hp", Recent: []scheduler.JobRecord{}}))

	out := buf.String()
	assert.Contains(t, out, "total:       0")
	assert.Contains(t, out, "No jobs found")
	assert.NotContains(t, out, "JOB ID")
}

func TestWriteReport_UnknownShowsRawState(t *testing.T) {
	var buf bytes.Buffer
	s := &Summary{
		User: "bob", Prefix: "hp", Total: 1, Unknown: 1, Malformed: 2,
		Recent: []scheduler.JobRecord{{ID: "5", Name: "hp_202201", State: scheduler.StateUnknown, RawState: "LAUNCH_FAILED"}},
	}
	require.NoError(t, WriteReport(&buf, s))
	assert.Contains(t, buf.String(), "unknown (LAUNCH_FAILED)")
	assert.Contains(t, buf.String(), "malformed:   2 (skipped)")
}
