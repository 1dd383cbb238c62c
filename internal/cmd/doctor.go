package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/hpbatch/internal/config"
	"github.com/3leaps/hpbatch/internal/observability"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Checks the toolchain, the config and ledger locations, and whether the
Slurm commands hpbatch runs are on PATH. Doctor never submits or queries
jobs.

Examples:
  hpbatch doctor`,
	Run: runDoctor,
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) {
	if !doctorChecks() {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

// doctorChecks logs each check and reports whether all of them passed.
func doctorChecks() bool {
	log := observability.CLILogger

	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log.Info("=== " + bannerName + " ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	allChecks := true
	checkNum := 1
	const totalChecks = 6

	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		log.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	version := crucible.GetVersion()
	if version.Gofulmen != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen... ✅ v%s (crucible v%s)", checkNum, totalChecks, version.Gofulmen, version.Crucible),
			zap.String("gofulmen_version", version.Gofulmen),
			zap.String("crucible_version", version.Crucible))
	} else {
		log.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen... ❌ Cannot read library versions", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	if path := config.UserConfigPath(); path == "" {
		log.Error(fmt.Sprintf("[%d/%d] Checking config file... ❌ Cannot find config directory", checkNum, totalChecks))
		allChecks = false
	} else if _, err := os.Stat(path); err != nil {
		log.Info(fmt.Sprintf("[%d/%d] Checking config file... ✅ none (optional: %s)", checkNum, totalChecks, path),
			zap.String("config_path", path))
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking config file... ✅ %s", checkNum, totalChecks, path),
			zap.String("config_path", path))
	}
	checkNum++

	cfg, err := currentConfig()
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ %v", checkNum, totalChecks, err))
		return false
	}

	missing := 0
	for _, bin := range []string{cfg.Scheduler.Sbatch, cfg.Scheduler.Squeue, cfg.Scheduler.Sacct} {
		if p, err := lookPath(bin); err != nil {
			missing++
			log.Debug("Scheduler command not found", zap.String("command", bin), zap.Error(err))
		} else {
			log.Debug("Scheduler command found", zap.String("command", bin), zap.String("path", p))
		}
	}
	if missing == 0 {
		log.Info(fmt.Sprintf("[%d/%d] Checking Slurm commands... ✅ sbatch, squeue, sacct on PATH", checkNum, totalChecks))
	} else {
		log.Warn(fmt.Sprintf("[%d/%d] Checking Slurm commands... ⚠️  %d of 3 not on PATH (are you on a login node?)", checkNum, totalChecks, missing))
		allChecks = false
	}
	checkNum++

	if store, err := ledgerStore(cfg); err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking run ledger... ❌ %v", checkNum, totalChecks, err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking run ledger... ✅ %s", checkNum, totalChecks, store.RootDir()),
			zap.String("ledger_dir", store.RootDir()))
	}
	checkNum++

	log.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))

	log.Info("")
	if allChecks {
		log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	}
	return allChecks
}
