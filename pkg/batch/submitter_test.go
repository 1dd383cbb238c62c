package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hpbatch/pkg/jobspec"
	"github.com/3leaps/hpbatch/pkg/period"
	"github.com/3leaps/hpbatch/pkg/scheduler"
	"github.com/3leaps/hpbatch/pkg/scheduler/schedtest"
)

func newBuilder(t *testing.T) *jobspec.Builder {
	t.Helper()
	b, err := jobspec.NewBuilder(jobspec.Config{
		InputRoot:   "/data/radar",
		OutputRoot:  "/data/hp",
		DODTemplate: "/data/dod.nc",
		Command:     []string{"python", "run_hp_dask.py"},
		Params:      jobspec.DefaultParams(),
	})
	require.NoError(t, err)
	return b
}

func periods(keys ...string) []period.Period {
	out := make([]period.Period, len(keys))
	for i, k := range keys {
		out[i] = period.MustParse(k)
	}
	return out
}

func TestSubmitAll_FailureDoesNotStopLaterPeriods(t *testing.T) {
	client := schedtest.New()
	client.SubmitErrs["hp_202201"] = &scheduler.SubmissionError{
		JobName: "hp_202201",
		Reason:  "QOSMaxSubmitJobPerUserLimit",
		Err:     scheduler.ErrRejected,
	}

	var announce bytes.Buffer
	s, err := New(client, newBuilder(t), Config{}, WithAnnounce(&announce))
	require.NoError(t, err)

	outcomes := s.SubmitAll(context.Background(), periods("202201", "202207"))
	require.Len(t, outcomes, 2)

	assert.Equal(t, "hp_202201", outcomes[0].JobName)
	assert.Equal(t, period.Winter, outcomes[0].Mode)
	assert.True(t, scheduler.IsRejected(outcomes[0].Err))
	assert.Empty(t, outcomes[0].JobID)

	assert.Equal(t, "hp_202207", outcomes[1].JobName)
	assert.Equal(t, period.Summer, outcomes[1].Mode)
	assert.NoError(t, outcomes[1].Err)
	assert.Equal(t, "1000", outcomes[1].JobID)

	submitted := client.Submitted()
	require.Len(t, submitted, 1)
	assert.Equal(t, "hp_202207", submitted[0].Name)

	assert.Len(t, outcomes.Failed(), 1)
	assert.Len(t, outcomes.Succeeded(), 1)
	require.Error(t, outcomes.Err())
	assert.Contains(t, outcomes.Err().Error(), "202201")
	assert.True(t, errors.Is(outcomes.Err(), scheduler.ErrRejected))

	assert.Equal(t, "202201 winter hp_202201\n202207 summer hp_202207\n", announce.String())
}

func TestSubmitAll_AllSucceed(t *testing.T) {
	client := schedtest.New()
	s, err := New(client, newBuilder(t), Config{})
	require.NoError(t, err)

	outcomes := s.SubmitAll(context.Background(), periods("202112", "202201", "202202", "202203"))

	assert.NoError(t, outcomes.Err())
	modes := make([]period.Mode, 0, len(outcomes))
	for _, o := range outcomes {
		modes = append(modes, o.Mode)
	}
	assert.Equal(t, []period.Mode{period.Winter, period.Winter, period.Winter, period.Summer}, modes)
	assert.Len(t, client.Submitted(), 4)
}

func TestSubmitAll_Empty(t *testing.T) {
	client := schedtest.New()
	s, err := New(client, newBuilder(t), Config{})
	require.NoError(t, err)

	outcomes := s.SubmitAll(context.Background(), nil)
	assert.Empty(t, outcomes)
	assert.NoError(t, outcomes.Err())
	assert.Empty(t, client.Submitted())
}

func TestSubmitAll_InvalidPeriodValue(t *testing.T) {
	client := schedtest.New()
	s, err := New(client, newBuilder(t), Config{})
	require.NoError(t, err)

	outcomes := s.SubmitAll(context.Background(), []period.Period{{Year: 2022, Month: 13}, period.MustParse("202203")})
	require.Len(t, outcomes, 2)
	assert.True(t, period.IsInvalid(outcomes[0].Err))
	assert.NoError(t, outcomes[1].Err)
	assert.Len(t, client.Submitted(), 1)
}

func TestSubmitInputs_ExpandsRangesAndKeepsInvalidInPlace(t *testing.T) {
	client := schedtest.New()
	s, err := New(client, newBuilder(t), Config{})
	require.NoError(t, err)

	outcomes := s.SubmitInputs(context.Background(), []string{"202111..202201", "2022-02", "202203"})

	labels := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		labels = append(labels, o.Label())
	}
	assert.Equal(t, []string{"202111", "202112", "202201", "2022-02", "202203"}, labels)

	require.Error(t, outcomes[3].Err)
	assert.True(t, period.IsInvalid(outcomes[3].Err))
	assert.Len(t, outcomes.Failed(), 1)
	assert.Len(t, client.Submitted(), 4)
}

func TestSubmitAll_SkipActive(t *testing.T) {
	client := schedtest.New()
	client.SetActive(
		scheduler.JobRecord{ID: "1", Name: "hp_202201", State: scheduler.StateRunning},
		scheduler.JobRecord{ID: "2", Name: "hp_202202", State: scheduler.StateCompleted},
	)

	var announce bytes.Buffer
	s, err := New(client, newBuilder(t), Config{SkipActive: true, User: "alice"}, WithAnnounce(&announce))
	require.NoError(t, err)

	outcomes := s.SubmitAll(context.Background(), periods("202201", "202202"))

	assert.True(t, outcomes[0].Skipped)
	assert.NoError(t, outcomes[0].Err)
	assert.False(t, outcomes[1].Skipped)
	assert.NotEmpty(t, outcomes[1].JobID)

	assert.Len(t, outcomes.Skipped(), 1)
	assert.Len(t, outcomes.Succeeded(), 1)
	assert.Contains(t, announce.String(), "hp_202201 (already active, skipped)")
}

func TestSubmitAll_SkipActiveCheckFailureSubmitsNothing(t *testing.T) {
	client := schedtest.New()
	client.ActiveErr = &scheduler.QueryError{Op: "list_active", User: "alice", Err: scheduler.ErrUnavailable}

	s, err := New(client, newBuilder(t), Config{SkipActive: true, User: "alice"})
	require.NoError(t, err)

	outcomes := s.SubmitAll(context.Background(), periods("202201", "202202"))
	assert.Len(t, outcomes.Failed(), 2)
	assert.True(t, scheduler.IsQueryError(outcomes[0].Err))
	assert.Empty(t, client.Submitted())
}

func TestSubmitAll_BoundedConcurrency(t *testing.T) {
	client := schedtest.New()
	var inFlight, peak atomic.Int32
	client.OnSubmit = func(ctx context.Context, spec *jobspec.JobSpec) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
	}

	s, err := New(client, newBuilder(t), Config{Concurrency: 3})
	require.NoError(t, err)

	in, err := period.ParseRange("202101..202112")
	require.NoError(t, err)
	outcomes := s.SubmitAll(context.Background(), in)

	assert.NoError(t, outcomes.Err())
	assert.Len(t, client.Submitted(), 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))

	// Outcomes stay in input order regardless of completion order.
	for i, o := range outcomes {
		assert.Equal(t, in[i], o.Period)
	}
}

func TestSubmitAll_WritesScripts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scripts")
	client := schedtest.New()
	s, err := New(client, newBuilder(t), Config{ScriptDir: dir})
	require.NoError(t, err)

	outcomes := s.SubmitAll(context.Background(), periods("202206"))
	require.NoError(t, outcomes.Err())

	b, err := os.ReadFile(ScriptPath(dir, "hp_202206"))
	require.NoError(t, err)
	assert.Equal(t, client.Submitted()[0].Script(), string(b))
}

func TestSubmitAll_CancelledContext(t *testing.T) {
	client := schedtest.New()
	s, err := New(client, newBuilder(t), Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := s.SubmitAll(ctx, periods("202201", "202202"))
	assert.Len(t, outcomes.Failed(), 2)
	assert.True(t, errors.Is(outcomes.Err(), context.Canceled))
	assert.Empty(t, client.Submitted())
}

func TestNew_Validation(t *testing.T) {
	b := newBuilder(t)
	client := schedtest.New()

	tests := []struct {
		name   string
		client scheduler.Client
		cfg    Config
	}{
		{name: "nil client", client: nil},
		{name: "negative concurrency", client: client, cfg: Config{Concurrency: -1}},
		{name: "too much concurrency", client: client, cfg: Config{Concurrency: MaxConcurrency + 1}},
		{name: "negative rate", client: client, cfg: Config{RateLimit: -1}},
		{name: "skip active without user", client: client, cfg: Config{SkipActive: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.client, b, tt.cfg)
			assert.Error(t, err)
		})
	}
}
