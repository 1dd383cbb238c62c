package config

import (
	"github.com/spf13/viper"

	"github.com/3leaps/hpbatch/pkg/jobspec"
	"github.com/3leaps/hpbatch/pkg/monitor"
	"github.com/3leaps/hpbatch/pkg/scheduler/slurm"
)

// SetDefaults registers a default for every known key. Keys without a
// default are invisible to AutomaticEnv during Unmarshal, so even empty
// strings are listed.
func SetDefaults(v *viper.Viper) {
	params := jobspec.DefaultParams()

	v.SetDefault("logging.level", "info")

	v.SetDefault("scheduler.sbatch", slurm.DefaultSbatch)
	v.SetDefault("scheduler.squeue", slurm.DefaultSqueue)
	v.SetDefault("scheduler.sacct", slurm.DefaultSacct)
	v.SetDefault("scheduler.timeout", slurm.DefaultTimeout.String())
	v.SetDefault("scheduler.query_retries", slurm.DefaultQueryRetries)
	v.SetDefault("scheduler.retry_delay", slurm.DefaultRetryDelay.String())
	v.SetDefault("scheduler.history_window", slurm.DefaultHistoryWindow.String())

	v.SetDefault("submit.input_root", "")
	v.SetDefault("submit.output_root", "")
	v.SetDefault("submit.dod_template", "")
	v.SetDefault("submit.account", "")
	v.SetDefault("submit.partition", "")
	v.SetDefault("submit.log_dir", "")
	v.SetDefault("submit.periods", []string{})
	v.SetDefault("submit.concurrency", 1)
	v.SetDefault("submit.rate_limit", 0.0)
	v.SetDefault("submit.script_dir", "")
	v.SetDefault("submit.skip_active", false)

	v.SetDefault("pipeline.command", []string{"python", "run_hp_dask.py"})
	v.SetDefault("pipeline.setup", []string{})
	v.SetDefault("pipeline.n_workers", params.Workers)
	v.SetDefault("pipeline.memory_limit", params.MemoryLimit)
	v.SetDefault("pipeline.batch_size", params.BatchSize)
	v.SetDefault("pipeline.rerun", false)

	v.SetDefault("monitor.user", "")
	v.SetDefault("monitor.prefix", monitor.DefaultPrefix)
	v.SetDefault("monitor.recent", monitor.DefaultRecentLimit)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("ledger.dir", "")
}
