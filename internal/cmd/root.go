// Package cmd implements the hpbatch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/hpbatch/internal/config"
	"github.com/3leaps/hpbatch/internal/observability"
	"github.com/3leaps/hpbatch/internal/server/handlers"
	"github.com/3leaps/hpbatch/pkg/ledger"
	"github.com/3leaps/hpbatch/pkg/scheduler"
	"github.com/3leaps/hpbatch/pkg/scheduler/slurm"
)

// AppIdentity names the binary, its env prefix and its config namespace.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile  string
	verbose  bool
	logLevel string

	appIdentity *AppIdentity
	appConfig   *config.Config
)

// newSchedulerClient is replaced in tests.
var newSchedulerClient = func(cfg *config.Config) (scheduler.Client, error) {
	return slurm.New(cfg.SlurmConfig(), slurm.WithLogger(observability.CLILogger))
}

var rootCmd = &cobra.Command{
	Use:   "hpbatch",
	Short: "Submit and monitor HydroPhase batch jobs on Slurm",
	Long: `hpbatch submits one HydroPhase pipeline job per monthly period to a Slurm
cluster and summarizes the state of those jobs.

Periods are YYYYMM keys or inclusive YYYYMM..YYYYMM ranges. Each period is
classified into its processing mode, rendered into an sbatch script, and
submitted independently: one failed submission never stops the rest.

Examples:
  hpbatch submit 202201..202212 --input-root /data/radar --output-root /data/hp --dod-template /data/dod.nc
  hpbatch submit --manifest campaign.yaml --skip-active
  hpbatch monitor
  hpbatch monitor --prefix hp_2022 --watch 1m`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Assigned here rather than in the literal: initConfig refers to rootCmd.
	rootCmd.PersistentPreRunE = initConfig
	setDefaults()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: <user config dir>/hpbatch/hpbatch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// SetVersionInfo records build metadata from the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity set by initConfig, or nil before it
// has run.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	// Flag parsing errors happen before initConfig builds the logger.
	if appIdentity == nil {
		observability.InitCLILogger(rootCmd.Name(), verbose)
	}
	observability.CLILogger.Error(err.Error())
	return exitCode(err)
}

// setDefaults registers defaults on the global viper so flags bound to it
// see them.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

func initConfig(cmd *cobra.Command, _ []string) error {
	appIdentity = &AppIdentity{
		BinaryName: rootCmd.Name(),
		EnvPrefix:  config.EnvPrefix,
		ConfigName: config.ConfigName,
	}
	observability.InitCLILogger(appIdentity.BinaryName, verbose)

	var opts []config.Option
	if cfgFile != "" {
		opts = append(opts, config.WithFile(cfgFile))
	}
	cfg, err := config.Load(viper.GetViper(), opts...)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg

	if !verbose && !observability.SetLevel(cfg.Logging.Level) {
		observability.CLILogger.Warn("Unknown log level, keeping info", zap.String("level", cfg.Logging.Level))
	}
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("config_file", viper.ConfigFileUsed()),
		zap.String("log_level", cfg.Logging.Level))
	return nil
}

// currentConfig returns the loaded config, loading defaults when a command
// runs without the root pre-run (as in tests).
func currentConfig() (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg
	return cfg, nil
}

// ledgerStore opens the submission ledger under ledger.dir, or under the
// user data dir when that is unset.
func ledgerStore(cfg *config.Config) (*ledger.Store, error) {
	if dir := strings.TrimSpace(cfg.Ledger.Dir); dir != "" {
		return ledger.NewStore(dir), nil
	}
	dataDir := gfconfig.GetAppDataDir(config.ConfigName)
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("cannot determine user data dir; set ledger.dir")
	}
	return ledger.NewStore(filepath.Join(dataDir, "runs")), nil
}

// codedError carries the process exit code for an error.
type codedError struct {
	code    int
	message string
	err     error
}

func (e *codedError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *codedError) Unwrap() error {
	return e.err
}

func exitError(code int, message string, err error) error {
	return &codedError{code: code, message: message, err: err}
}

// exitCode maps err to a process exit code; uncoded errors exit 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}
