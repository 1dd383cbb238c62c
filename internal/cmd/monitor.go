package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/hpbatch/internal/config"
	"github.com/3leaps/hpbatch/internal/observability"
	"github.com/3leaps/hpbatch/pkg/monitor"
	"github.com/3leaps/hpbatch/pkg/output"
	"github.com/3leaps/hpbatch/pkg/scheduler"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Summarize the state of pipeline jobs",
	Long: `Summarize the user's pipeline jobs: totals, per-state counts, and the most
recent records.

Only jobs whose name contains --prefix are counted (default "hp"); pass
--prefix "" to count every job. No matching jobs is not an error.

Examples:
  hpbatch monitor
  hpbatch monitor --user alice --prefix hp_2022
  hpbatch monitor --json
  hpbatch monitor --watch 1m`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var (
	monitorUser  string
	monitorJSON  bool
	monitorWatch time.Duration
)

func init() {
	rootCmd.AddCommand(monitorCmd)

	f := monitorCmd.Flags()
	f.StringVarP(&monitorUser, "user", "u", "", "Job owner (default: monitor.user, then the invoking user)")
	f.String("prefix", monitor.DefaultPrefix, "Count only jobs whose name contains this")
	f.Int("recent", monitor.DefaultRecentLimit, fmt.Sprintf("Recent records to show (1-%d)", monitor.DefaultRecentLimit))
	f.BoolVar(&monitorJSON, "json", false, "Write a JSONL status record instead of a report")
	f.DurationVar(&monitorWatch, "watch", 0, "Repeat every interval until interrupted")

	_ = viper.BindPFlag("monitor.prefix", f.Lookup("prefix"))
	_ = viper.BindPFlag("monitor.recent", f.Lookup("recent"))
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	user, err := config.ResolveUser(monitorUser, cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot determine user", err)
	}

	client, err := newSchedulerClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid scheduler settings", err)
	}
	agg := monitor.New(client,
		monitor.WithRecentLimit(cfg.Monitor.Recent),
		monitor.WithLogger(observability.CLILogger))

	out := cmd.OutOrStdout()
	var jw *output.JSONLWriter
	if monitorJSON {
		jw = output.NewJSONLWriter(out, uuid.New().String(), user)
		defer func() { _ = jw.Close() }()
	}

	once := func() error {
		return summarizeOnce(ctx, agg, out, jw, user, cfg.Monitor.Prefix)
	}

	if monitorWatch <= 0 {
		return monitorExitError(once())
	}

	observability.CLILogger.Debug("Watching jobs",
		zap.String("user", user),
		zap.Duration("interval", monitorWatch))
	ticker := time.NewTicker(monitorWatch)
	defer ticker.Stop()
	for {
		if err := once(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			observability.CLILogger.Warn("Scheduler query failed; retrying next interval", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// monitorExitError maps a summarizeOnce failure to its exit code. Only
// scheduler query failures are reported as the scheduler being unavailable.
func monitorExitError(err error) error {
	switch {
	case err == nil:
		return nil
	case scheduler.IsQueryError(err):
		return exitError(foundry.ExitExternalServiceUnavailable, "Scheduler query failed", err)
	default:
		return exitError(foundry.ExitFileWriteError, "Failed to write report", err)
	}
}

func summarizeOnce(ctx context.Context, agg *monitor.Aggregator, out io.Writer, jw *output.JSONLWriter, user, prefix string) error {
	metrics := observability.DefaultMetrics()
	s, err := agg.Summarize(ctx, user, prefix)
	if err != nil {
		metrics.ObserveQueryError()
		if jw != nil {
			_ = jw.WriteError(ctx, output.NewErrorRecord(err))
		}
		return err
	}
	metrics.ObserveSummary(s)

	if jw != nil {
		return jw.WriteStatus(ctx, s)
	}
	if monitorWatch > 0 {
		_, _ = fmt.Fprintf(out, "--- %s ---\n", s.ObservedAt.Format(time.RFC3339))
	}
	return monitor.WriteReport(out, s)
}
