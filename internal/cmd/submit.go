package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/hpbatch/internal/config"
	"github.com/3leaps/hpbatch/internal/observability"
	"github.com/3leaps/hpbatch/pkg/batch"
	"github.com/3leaps/hpbatch/pkg/jobspec"
	"github.com/3leaps/hpbatch/pkg/ledger"
	"github.com/3leaps/hpbatch/pkg/manifest"
	"github.com/3leaps/hpbatch/pkg/output"
	"github.com/3leaps/hpbatch/pkg/period"
	"github.com/3leaps/hpbatch/pkg/scheduler"
)

var submitCmd = &cobra.Command{
	Use:   "submit [PERIOD|RANGE ...]",
	Short: "Submit one pipeline job per period",
	Long: `Submit one HydroPhase pipeline job per period to Slurm.

Periods are YYYYMM keys or inclusive YYYYMM..YYYYMM ranges. With no
arguments the periods come from the manifest (--manifest) or from
submit.periods in the config file.

Every period is attempted even when earlier ones fail. The exit code is
non-zero if any period failed.

Examples:
  hpbatch submit 202201 202202 --input-root /data/radar --output-root /data/hp --dod-template /data/dod.nc
  hpbatch submit 202201..202212 --skip-active --concurrency 4
  hpbatch submit --manifest campaign.yaml --dry-run --show-scripts
  hpbatch submit --manifest campaign.yaml --json > run.jsonl`,
	RunE: runSubmit,
}

var (
	submitManifest    string
	submitUser        string
	submitDryRun      bool
	submitShowScripts bool
	submitJSON        bool
	submitNoLedger    bool
)

// submitFlagKeys maps submit flags onto config keys. A flag given on the
// command line also overrides the manifest.
var submitFlagKeys = map[string]string{
	"input-root":   "submit.input_root",
	"output-root":  "submit.output_root",
	"dod-template": "submit.dod_template",
	"account":      "submit.account",
	"partition":    "submit.partition",
	"log-dir":      "submit.log_dir",
	"concurrency":  "submit.concurrency",
	"rate-limit":   "submit.rate_limit",
	"script-dir":   "submit.script_dir",
	"skip-active":  "submit.skip_active",
}

func init() {
	rootCmd.AddCommand(submitCmd)

	f := submitCmd.Flags()
	f.StringVarP(&submitManifest, "manifest", "m", "", "Batch manifest (YAML or JSON)")
	f.StringVarP(&submitUser, "user", "u", "", "Scheduler user for --skip-active and the ledger (default: invoking user)")
	f.BoolVar(&submitDryRun, "dry-run", false, "Build every job without submitting")
	f.BoolVar(&submitShowScripts, "show-scripts", false, "Print each rendered sbatch script (with --dry-run)")
	f.BoolVar(&submitJSON, "json", false, "Write JSONL records to stdout instead of a table")
	f.BoolVar(&submitNoLedger, "no-ledger", false, "Do not record this run in the ledger")

	f.String("input-root", "", "Input root; the period key is appended")
	f.String("output-root", "", "Output root; the period key is appended")
	f.String("dod-template", "", "DOD template file passed to the pipeline")
	f.String("account", "", "Slurm account")
	f.String("partition", "", "Slurm partition")
	f.String("log-dir", "", "Directory for job stdout/stderr files")
	f.Int("concurrency", 1, fmt.Sprintf("Submissions in flight (1-%d)", batch.MaxConcurrency))
	f.Float64("rate-limit", 0, "Maximum submissions per second (0 = unlimited)")
	f.String("script-dir", "", "Also write each sbatch script to this directory")
	f.Bool("skip-active", false, "Skip periods whose job is already pending or running")

	for flag, key := range submitFlagKeys {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}
}

// submitPlan is everything runSubmit resolved before touching the scheduler.
type submitPlan struct {
	inputs       []string
	builder      jobspec.Config
	batch        batch.Config
	manifestPath string
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := currentConfig()
	if err != nil {
		return err
	}

	plan, err := resolveSubmitPlan(cmd, cfg, args)
	if err != nil {
		return err
	}

	builder, err := jobspec.NewBuilder(plan.builder)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job settings", err)
	}

	client, err := newSchedulerClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid scheduler settings", err)
	}
	if submitDryRun {
		client = &dryRunClient{Client: client, scripts: scriptSink(cmd)}
	}

	return executeSubmit(ctx, cmd, cfg, client, builder, plan)
}

// resolveSubmitPlan layers config, manifest, flags and arguments.
func resolveSubmitPlan(cmd *cobra.Command, cfg *config.Config, args []string) (*submitPlan, error) {
	plan := &submitPlan{}

	if submitManifest != "" {
		m, err := manifest.Load(submitManifest)
		if err != nil {
			observability.CLILogger.Error("Failed to load manifest",
				zap.String("path", submitManifest),
				zap.Error(err))
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
		}
		observability.CLILogger.Debug("Loaded manifest",
			zap.String("path", submitManifest),
			zap.String("name", m.Name),
			zap.Strings("periods", m.Periods))

		plan.manifestPath = submitManifest
		plan.inputs = m.Periods
		plan.builder = m.BuilderConfig()
		plan.batch = m.BatchConfig("")
		applySubmitFlagOverrides(cmd, cfg, plan)
	} else {
		plan.inputs = cfg.Submit.Periods
		plan.builder = cfg.BuilderConfig()
		plan.batch = cfg.BatchConfig("")
	}

	if len(args) > 0 {
		plan.inputs = args
	}
	if len(plan.inputs) == 0 {
		return nil, exitError(foundry.ExitInvalidArgument, "No periods to submit",
			errors.New("pass periods as arguments, in --manifest, or as submit.periods in config"))
	}

	user, err := config.ResolveUser(submitUser, cfg)
	switch {
	case err == nil:
		plan.batch.User = user
	case plan.batch.SkipActive:
		return nil, exitError(foundry.ExitInvalidArgument, "--skip-active needs a user", err)
	default:
		observability.CLILogger.Debug("No user resolved; ledger entry will be anonymous", zap.Error(err))
	}
	return plan, nil
}

// applySubmitFlagOverrides lets explicit flags win over manifest values.
// Config-file values never override a manifest.
func applySubmitFlagOverrides(cmd *cobra.Command, cfg *config.Config, plan *submitPlan) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	s := cfg.Submit
	if changed("input-root") {
		plan.builder.InputRoot = s.InputRoot
	}
	if changed("output-root") {
		plan.builder.OutputRoot = s.OutputRoot
	}
	if changed("dod-template") {
		plan.builder.DODTemplate = s.DODTemplate
	}
	if changed("account") {
		plan.builder.Directives.Account = s.Account
	}
	if changed("partition") {
		plan.builder.Directives.Partition = s.Partition
	}
	if changed("log-dir") {
		plan.builder.Directives.LogDir = s.LogDir
	}
	if changed("concurrency") {
		plan.batch.Concurrency = s.Concurrency
	}
	if changed("rate-limit") {
		plan.batch.RateLimit = s.RateLimit
	}
	if changed("script-dir") {
		plan.batch.ScriptDir = s.ScriptDir
	}
	if changed("skip-active") {
		plan.batch.SkipActive = s.SkipActive
	}
}

func executeSubmit(ctx context.Context, cmd *cobra.Command, cfg *config.Config, client scheduler.Client, builder *jobspec.Builder, plan *submitPlan) error {
	stdout := cmd.OutOrStdout()

	announce := stdout
	if submitJSON {
		announce = cmd.ErrOrStderr()
	}
	submitter, err := batch.New(client, builder, plan.batch,
		batch.WithLogger(observability.CLILogger),
		batch.WithAnnounce(announce))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid submit settings", err)
	}

	run := ledger.NewRun(plan.batch.User, plan.manifestPath, plan.inputs, time.Now().UTC())
	run.DryRun = submitDryRun
	store := openLedger(cfg)
	recordRun(store, run)

	observability.CLILogger.Info("Submitting batch",
		zap.String("run_id", run.RunID),
		zap.Strings("inputs", plan.inputs),
		zap.Int("concurrency", plan.batch.Concurrency),
		zap.Bool("skip_active", plan.batch.SkipActive),
		zap.Bool("dry_run", submitDryRun))

	start := time.Now()
	outcomes := submitter.SubmitInputs(ctx, plan.inputs)
	elapsed := time.Since(start)

	run.Finish(outcomes, elapsed, time.Now().UTC())
	if ctx.Err() != nil {
		run.State = ledger.RunStateInterrupted
	}
	recordRun(store, run)

	summary := output.NewSummaryRecord(outcomes, elapsed)
	summary.DryRun = submitDryRun
	if submitJSON {
		// Report what happened even after an interrupt.
		if err := writeSubmitJSONL(context.WithoutCancel(ctx), stdout, run, outcomes, summary); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	} else if err := writeSubmitTable(stdout, outcomes, summary, run.RunID); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}

	return submitExitError(ctx, outcomes)
}

// submitExitError picks the exit code for a finished batch.
func submitExitError(ctx context.Context, outcomes batch.Outcomes) error {
	failed := outcomes.Failed()
	if len(failed) == 0 {
		return nil
	}
	err := outcomes.Err()
	if ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "Submit interrupted", err)
	}
	for _, o := range failed {
		if !period.IsInvalid(o.Err) {
			return exitError(foundry.ExitExternalServiceUnavailable,
				fmt.Sprintf("%d of %d periods failed", len(failed), len(outcomes)), err)
		}
	}
	return exitError(foundry.ExitInvalidArgument,
		fmt.Sprintf("%d of %d periods were invalid", len(failed), len(outcomes)), err)
}

func writeSubmitJSONL(ctx context.Context, w io.Writer, run *ledger.RunRecord, outcomes batch.Outcomes, summary *output.SummaryRecord) error {
	jw := output.NewJSONLWriter(w, run.RunID, run.User)
	for _, o := range outcomes {
		rec := output.NewOutcomeRecord(o)
		if err := jw.WriteOutcome(ctx, &rec); err != nil {
			return err
		}
	}
	if err := jw.WriteSummary(ctx, summary); err != nil {
		return err
	}
	return jw.Close()
}

func writeSubmitTable(w io.Writer, outcomes batch.Outcomes, summary *output.SummaryRecord, runID string) error {
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PERIOD\tNAME\tMODE\tSTATUS\tJOB ID\tERROR")
	for _, o := range outcomes {
		rec := output.NewOutcomeRecord(o)
		name, mode, jobID, reason := dash(rec.JobName), dash(rec.Mode), dash(rec.JobID), "-"
		if rec.Error != nil {
			reason = rec.Error.Message
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", o.Label(), name, mode, rec.Status, jobID, reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	verb := "Submitted"
	if summary.DryRun {
		verb = "Planned"
	}
	_, err := fmt.Fprintf(w, "\n%s %d, skipped %d, failed %d of %d periods in %s (run %s)\n",
		verb, summary.Submitted, summary.Skipped, summary.Failed, summary.Requested, summary.DurationHuman, shortRunID(runID))
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// openLedger returns nil when the ledger is disabled or unavailable. A
// broken ledger never blocks a submission.
func openLedger(cfg *config.Config) *ledger.Store {
	if submitNoLedger {
		return nil
	}
	store, err := ledgerStore(cfg)
	if err != nil {
		observability.CLILogger.Warn("Run ledger unavailable", zap.Error(err))
		return nil
	}
	return store
}

func recordRun(store *ledger.Store, run *ledger.RunRecord) {
	if store == nil {
		return
	}
	if err := store.Write(run); err != nil {
		observability.CLILogger.Warn("Failed to record run",
			zap.String("run_id", run.RunID),
			zap.Error(err))
	}
}

func scriptSink(cmd *cobra.Command) io.Writer {
	if !submitShowScripts {
		return nil
	}
	if submitJSON {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

// dryRunClient answers listings from the real scheduler but never submits.
type dryRunClient struct {
	scheduler.Client
	scripts io.Writer
}

func (c *dryRunClient) Submit(ctx context.Context, spec *jobspec.JobSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &scheduler.SubmissionError{JobName: spec.Name, Err: scheduler.ContextError(err)}
	}
	if c.scripts != nil {
		_, _ = fmt.Fprintf(c.scripts, "# --- %s ---\n%s\n", spec.Name, spec.Script())
	}
	return "", nil
}

var _ scheduler.Client = (*dryRunClient)(nil)
