package slurm

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hpbatch/pkg/scheduler"
)

func TestParseElapsed(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "0:00", want: 0},
		{in: "05:07", want: 5*time.Minute + 7*time.Second},
		{in: "01:02:03", want: time.Hour + 2*time.Minute + 3*time.Second},
		{in: "12:00:00", want: 12 * time.Hour},
		{in: "2-03:04:05", want: 51*time.Hour + 4*time.Minute + 5*time.Second},
		{in: " 00:00:01 ", want: time.Second},
		{in: "", wantErr: true},
		{in: "INVALID", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
		{in: "00:61", wantErr: true},
		{in: "x-01:00:00", wantErr: true},
		{in: "-1:00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseElapsed(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSqueue(t *testing.T) {
	out := []byte(`1002|hp_202202|RUNNING|1:02:03|16
1001|hp_202201|PENDING|0:00|16

1003_4|hp_array|RUNNING|5:00|2
garbage line
1004|odd|name|RUNNING|0:10|1
abc|hp_x|RUNNING|0:10|1
1005|hp_202203|RUNNING|0:10|many
`)

	listing := parseSqueue(out)

	require.Len(t, listing.Records, 4)
	assert.Equal(t, []string{"1004", "1003_4", "1002", "1001"}, recordIDs(listing.Records))

	byID := map[string]scheduler.JobRecord{}
	for _, r := range listing.Records {
		byID[r.ID] = r
	}
	assert.Equal(t, "odd|name", byID["1004"].Name)
	assert.Equal(t, scheduler.StateRunning, byID["1002"].State)
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second, byID["1002"].Elapsed)
	assert.Equal(t, 16, byID["1002"].AllocatedCPUs)
	assert.Equal(t, scheduler.StatePending, byID["1001"].State)
	assert.Empty(t, byID["1001"].MaxMemory)

	require.Len(t, listing.Malformed, 3)
	for _, pe := range listing.Malformed {
		assert.True(t, errors.Is(pe, scheduler.ErrMalformedRecord))
		assert.Equal(t, "squeue", pe.Source)
	}
	assert.Equal(t, 5, listing.Malformed[0].Line)
}

func TestParseSacct_FoldsSteps(t *testing.T) {
	out := []byte(`2001|hp_202201|COMPLETED|02:00:00||16
2001.batch|batch|COMPLETED|02:00:00|3500M|16
2001.extern|extern|COMPLETED|02:00:01|1200K|16
2002|hp_202202|CANCELLED by 4242|00:10:00||16
2002.batch|batch|CANCELLED|00:10:00|5.5G|16
2003|hp_202203|OUT_OF_MEMORY|00:03:00||16
2003.batch|batch|OUT_OF_MEMORY|00:03:00|39G|16
2003.0|python|OUT_OF_MEMORY|00:02:59|41G|16
1999.batch|batch|COMPLETED|00:00:10|1K|1
2004|hp_202204|PENDING|00:00:00||16
2005|hp_202205|WEIRD_NEW_STATE|00:00:00||16
`)

	listing := parseSacct(out)
	require.Empty(t, listing.Malformed)
	assert.Equal(t, []string{"2005", "2004", "2003", "2002", "2001"}, recordIDs(listing.Records))

	byID := map[string]scheduler.JobRecord{}
	for _, r := range listing.Records {
		byID[r.ID] = r
	}
	assert.Equal(t, "3500M", byID["2001"].MaxMemory)
	assert.Equal(t, scheduler.StateCompleted, byID["2001"].State)
	assert.Equal(t, "5.5G", byID["2002"].MaxMemory)
	assert.Equal(t, scheduler.StateCancelled, byID["2002"].State)
	assert.Equal(t, "41G", byID["2003"].MaxMemory)
	assert.Equal(t, scheduler.StateFailed, byID["2003"].State)
	assert.Empty(t, byID["2004"].MaxMemory)
	assert.Equal(t, scheduler.StateUnknown, byID["2005"].State)
	assert.Equal(t, "WEIRD_NEW_STATE", byID["2005"].RawState)
}

func TestParseSacct_RequeuedJobKeepsLatestRow(t *testing.T) {
	out := []byte(`3001|hp_202201|NODE_FAIL|00:05:00||16
3001.batch|batch|NODE_FAIL|00:05:00|2G|16
3001|hp_202201|RUNNING|00:01:00||16
`)

	listing := parseSacct(out)
	require.Len(t, listing.Records, 1)
	assert.Equal(t, scheduler.StateRunning, listing.Records[0].State)
	assert.Equal(t, "2G", listing.Records[0].MaxMemory)
}

func TestParseSacct_Malformed(t *testing.T) {
	out := []byte(`4001|hp_202201|COMPLETED|00:01:00||16
4002|hp_202202|COMPLETED
4003|hp_202203|COMPLETED|soon||16
`)

	listing := parseSacct(out)
	assert.Len(t, listing.Records, 1)
	require.Len(t, listing.Malformed, 2)
	assert.Equal(t, 2, listing.Malformed[0].Line)
	assert.Equal(t, 3, listing.Malformed[1].Line)
}

func TestParseSacct_OversizedRowDoesNotHideLaterRows(t *testing.T) {
	out := "5|hp_202201|COMPLETED|00:01:00||16\n" +
		"6|" + strings.Repeat("x", 2*maxLineBytes) + "|FAILED|00:01:00||16\n" +
		"3|hp_202202|FAILED|00:02:00||16\n"

	listing := parseSacct([]byte(out))
	assert.Equal(t, []string{"5", "3"}, recordIDs(listing.Records))
	require.Len(t, listing.Malformed, 1)
	assert.Equal(t, 2, listing.Malformed[0].Line)
	assert.True(t, errors.Is(listing.Malformed[0], errLineTooLong))
	assert.Less(t, len(listing.Malformed[0].Raw), 256)
}

func TestParseSqueue_LastRowWithoutNewline(t *testing.T) {
	listing := parseSqueue([]byte("11|hp_202201|RUNNING|10:00|16\r\n12|hp_202202|PENDING|0:00|16"))
	assert.Equal(t, []string{"12", "11"}, recordIDs(listing.Records))
	assert.Empty(t, listing.Malformed)
}

func TestParseSubmitOutput(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    string
		wantErr bool
	}{
		{name: "plain", out: "12345\n", want: "12345"},
		{name: "cluster", out: "12345;cluster-a\n", want: "12345"},
		{name: "warning first", out: "sbatch: warning: something\n777\n", want: "777"},
		{name: "empty", out: "", wantErr: true},
		{name: "not numeric", out: "Submitted batch job 1\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSubmitOutput([]byte(tt.out))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, scheduler.ErrMalformedRecord))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLargerMemory(t *testing.T) {
	assert.Equal(t, "2G", largerMemory("1500M", "2G"))
	assert.Equal(t, "1500M", largerMemory("1500M", "1G"))
	assert.Equal(t, "1K", largerMemory("", "1K"))
	assert.Equal(t, "1K", largerMemory("1K", ""))
	assert.Equal(t, "", largerMemory("", ""))
	assert.Equal(t, "1K", largerMemory("bogus", "1K"))
}

func TestJobKeyOrdering(t *testing.T) {
	records := []scheduler.JobRecord{
		{ID: "10_2"}, {ID: "9"}, {ID: "10_10"}, {ID: "11"}, {ID: "10_[3-5]"},
	}
	sortNewestFirst(records)
	assert.Equal(t, []string{"11", "10_10", "10_2", "10_[3-5]", "9"}, recordIDs(records))
}

func recordIDs(records []scheduler.JobRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
