package config

import (
	"github.com/3leaps/hpbatch/pkg/batch"
	"github.com/3leaps/hpbatch/pkg/jobspec"
	"github.com/3leaps/hpbatch/pkg/scheduler/slurm"
)

// SlurmConfig maps the scheduler section onto the Slurm client.
func (c *Config) SlurmConfig() slurm.Config {
	return slurm.Config{
		Sbatch:        c.Scheduler.Sbatch,
		Squeue:        c.Scheduler.Squeue,
		Sacct:         c.Scheduler.Sacct,
		Timeout:       c.Scheduler.Timeout,
		QueryRetries:  c.Scheduler.QueryRetries,
		RetryDelay:    c.Scheduler.RetryDelay,
		HistoryWindow: c.Scheduler.HistoryWindow,
	}
}

// BuilderConfig maps the submit and pipeline sections onto a job spec
// builder configuration.
func (c *Config) BuilderConfig() jobspec.Config {
	return jobspec.Config{
		InputRoot:   c.Submit.InputRoot,
		OutputRoot:  c.Submit.OutputRoot,
		DODTemplate: c.Submit.DODTemplate,
		Command:     append([]string(nil), c.Pipeline.Command...),
		Setup:       append([]string(nil), c.Pipeline.Setup...),
		Params: jobspec.Params{
			Workers:     c.Pipeline.NWorkers,
			MemoryLimit: c.Pipeline.MemoryLimit,
			BatchSize:   c.Pipeline.BatchSize,
			Rerun:       c.Pipeline.Rerun,
		},
		Directives: jobspec.Directives{
			Account:   c.Submit.Account,
			Partition: c.Submit.Partition,
			LogDir:    c.Submit.LogDir,
		},
	}
}

// BatchConfig maps the submit section onto the submitter.
func (c *Config) BatchConfig(user string) batch.Config {
	return batch.Config{
		Concurrency: c.Submit.Concurrency,
		RateLimit:   c.Submit.RateLimit,
		SkipActive:  c.Submit.SkipActive,
		User:        user,
		ScriptDir:   c.Submit.ScriptDir,
	}
}
