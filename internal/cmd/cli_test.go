package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hpbatch/internal/config"
	"github.com/3leaps/hpbatch/pkg/scheduler"
	"github.com/3leaps/hpbatch/pkg/scheduler/schedtest"
)

// cliEnv runs hpbatch commands in-process against an in-memory scheduler.
type cliEnv struct {
	client    *schedtest.Client
	ledgerDir string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("USER", "tester")

	env := &cliEnv{client: schedtest.New(), ledgerDir: t.TempDir()}
	t.Setenv("HPBATCH_LEDGER_DIR", env.ledgerDir)

	origClient := newSchedulerClient
	newSchedulerClient = func(*config.Config) (scheduler.Client, error) { return env.client, nil }
	t.Cleanup(func() {
		newSchedulerClient = origClient
		appConfig = nil
		resetFlags(rootCmd)
	})
	return env
}

// run executes args and returns stdout, stderr and the command error.
func (e *cliEnv) run(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	resetContexts(rootCmd)
	appConfig = nil

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	if ctx == nil {
		ctx = context.Background()
	}
	_, err := rootCmd.ExecuteContextC(ctx)
	return stdout.String(), stderr.String(), err
}

// resetContexts clears contexts left on subcommands by earlier runs; cobra
// only propagates the root context to a child whose context is nil.
func resetContexts(c *cobra.Command) {
	for _, child := range c.Commands() {
		child.SetContext(nil) //nolint:staticcheck // nil clears the stale context
		resetContexts(child)
	}
}

// resetFlags restores every flag of c and its children to its default so
// package-level flag variables do not leak between tests.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, child := range c.Commands() {
		resetFlags(child)
	}
}

func requireExitCode(t *testing.T, err error, want int) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, exitCode(err), "error: %v", err)
}
