package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/hpbatch/pkg/ledger"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded submit runs",
	Long: `Inspect the local ledger of submit runs.

Every submit (except with --no-ledger) records what was requested,
the job ids that came back, and which periods failed. The scheduler stays
the source of truth for job state; use 'hpbatch monitor' for that.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Show one run and its per-period outcomes",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsListCmd.Flags().Bool("json", false, "Output as JSON")
	runsShowCmd.Flags().Bool("json", false, "Output as JSON")
}

func openRunsStore() (*ledger.Store, error) {
	cfg, err := currentConfig()
	if err != nil {
		return nil, err
	}
	store, err := ledgerStore(cfg)
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Run ledger unavailable", err)
	}
	return store, nil
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	store, err := openRunsStore()
	if err != nil {
		return err
	}
	runs, err := store.List()
	if err != nil {
		return err
	}

	if jsonOutput {
		if runs == nil {
			runs = []ledger.RunRecord{}
		}
		return encodeJSON(out, runs)
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No runs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "RUN ID\tSTATE\tUSER\tCREATED\tINPUTS\tSUBMITTED\tSKIPPED\tFAILED\tMANIFEST")
	for _, r := range runs {
		submitted, skipped, failed := "-", "-", "-"
		if r.Summary != nil {
			submitted = fmt.Sprint(r.Summary.Submitted)
			skipped = fmt.Sprint(r.Summary.Skipped)
			failed = fmt.Sprint(r.Summary.Failed)
		}
		state := string(r.State)
		if r.DryRun {
			state += " (dry-run)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortRunID(r.RunID),
			state,
			dash(r.User),
			r.CreatedAt.UTC().Format(time.RFC3339),
			strings.Join(r.Inputs, ","),
			submitted,
			skipped,
			failed,
			dash(r.ManifestPath),
		)
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	runID := strings.TrimSpace(args[0])
	if runID == "" {
		return exitError(foundry.ExitInvalidArgument, "run_id is required", errors.New("empty run id"))
	}

	store, err := openRunsStore()
	if err != nil {
		return err
	}
	resolved, err := store.Resolve(runID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return exitError(foundry.ExitFileNotFound, "Unknown run", err)
		}
		return exitError(foundry.ExitInvalidArgument, "Cannot resolve run", err)
	}
	rec, err := store.Get(resolved)
	if err != nil {
		return err
	}

	if jsonOutput {
		return encodeJSON(out, rec)
	}
	return writeRunDetail(out, rec)
}

func writeRunDetail(out io.Writer, rec *ledger.RunRecord) error {
	_, _ = fmt.Fprintf(out, "run_id=%s\n", rec.RunID)
	_, _ = fmt.Fprintf(out, "state=%s\n", rec.State)
	if rec.User != "" {
		_, _ = fmt.Fprintf(out, "user=%s\n", rec.User)
	}
	if rec.ManifestPath != "" {
		_, _ = fmt.Fprintf(out, "manifest_path=%s\n", rec.ManifestPath)
	}
	if rec.DryRun {
		_, _ = fmt.Fprintln(out, "dry_run=true")
	}
	_, _ = fmt.Fprintf(out, "inputs=%s\n", strings.Join(rec.Inputs, ","))
	_, _ = fmt.Fprintf(out, "created_at=%s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(out, "ended_at=%s\n", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	if rec.Summary != nil {
		_, _ = fmt.Fprintf(out, "summary=requested:%d submitted:%d skipped:%d failed:%d duration:%s\n",
			rec.Summary.Requested, rec.Summary.Submitted, rec.Summary.Skipped, rec.Summary.Failed, rec.Summary.DurationHuman)
	}
	if len(rec.Outcomes) == 0 {
		return nil
	}

	_, _ = fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "INPUT\tNAME\tMODE\tSTATUS\tJOB ID\tERROR")
	for _, o := range rec.Outcomes {
		reason := "-"
		if o.Error != nil {
			reason = o.Error.Code + ": " + o.Error.Message
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.Input, dash(o.JobName), dash(o.Mode), o.Status, dash(o.JobID), reason)
	}
	return w.Flush()
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// shortRunID keeps the first uuid group, which is enough for Resolve.
func shortRunID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
