// Package manifest provides loading and validation of hpbatch batch manifests.
//
// A batch manifest is a YAML or JSON file describing one processing
// campaign: which periods to submit, where the data lives, how the pipeline
// is invoked, and how the jobs are handed to the scheduler.
//
// Manifests are validated against a JSON Schema before use. The schema
// enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	name: hydrophase-2022
//	periods:
//	  - "202201..202212"
//	paths:
//	  input_root: /data/radar
//	  output_root: /data/hp
//	  dod_template: /data/dod_template.nc
//	pipeline:
//	  n_workers: 4
//	  memory_limit: 6GB
//	scheduler:
//	  account: hydro
//	  partition: compute
//	submit:
//	  skip_active: true
package manifest

import (
	"github.com/3leaps/hpbatch/pkg/batch"
	"github.com/3leaps/hpbatch/pkg/jobspec"
)

// Manifest represents a validated batch manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Name labels the campaign in logs and the ledger. Optional.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Periods are YYYYMM keys or inclusive YYYYMM..YYYYMM ranges.
	Periods []string `json:"periods" yaml:"periods"`

	Paths     PathsConfig     `json:"paths" yaml:"paths"`
	Pipeline  PipelineConfig  `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	Submit    SubmitConfig    `json:"submit,omitempty" yaml:"submit,omitempty"`
}

// PathsConfig locates the pipeline's inputs and outputs.
type PathsConfig struct {
	InputRoot   string `json:"input_root" yaml:"input_root"`
	OutputRoot  string `json:"output_root" yaml:"output_root"`
	DODTemplate string `json:"dod_template" yaml:"dod_template"`
}

// PipelineConfig configures the per-period pipeline invocation.
type PipelineConfig struct {
	Command     []string `json:"command,omitempty" yaml:"command,omitempty"`
	Setup       []string `json:"setup,omitempty" yaml:"setup,omitempty"`
	NWorkers    int      `json:"n_workers,omitempty" yaml:"n_workers,omitempty"`
	MemoryLimit string   `json:"memory_limit,omitempty" yaml:"memory_limit,omitempty"`
	BatchSize   int      `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	Rerun       bool     `json:"rerun,omitempty" yaml:"rerun,omitempty"`
}

// SchedulerConfig holds the descriptor directives that vary per site.
type SchedulerConfig struct {
	Account   string `json:"account,omitempty" yaml:"account,omitempty"`
	Partition string `json:"partition,omitempty" yaml:"partition,omitempty"`
	LogDir    string `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
}

// SubmitConfig configures how the batch is driven.
type SubmitConfig struct {
	// Concurrency is the number of in-flight submissions.
	// Range: 0-32. Default: 1.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// RateLimit is the maximum submissions per second (0 = unlimited).
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	SkipActive bool   `json:"skip_active,omitempty" yaml:"skip_active,omitempty"`
	ScriptDir  string `json:"script_dir,omitempty" yaml:"script_dir,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultConcurrency submits one period at a time.
	DefaultConcurrency = 1
)

// DefaultCommand is the pipeline entry point used when none is configured.
var DefaultCommand = []string{"python", "run_hp_dask.py"}

// ApplyDefaults fills in default values for optional fields.
func (m *Manifest) ApplyDefaults() {
	defaults := jobspec.DefaultParams()

	if len(m.Pipeline.Command) == 0 {
		m.Pipeline.Command = append([]string(nil), DefaultCommand...)
	}
	if m.Pipeline.NWorkers == 0 {
		m.Pipeline.NWorkers = defaults.Workers
	}
	if m.Pipeline.MemoryLimit == "" {
		m.Pipeline.MemoryLimit = defaults.MemoryLimit
	}
	if m.Pipeline.BatchSize == 0 {
		m.Pipeline.BatchSize = defaults.BatchSize
	}
	if m.Submit.Concurrency == 0 {
		m.Submit.Concurrency = DefaultConcurrency
	}
	// RateLimit: 0 is a valid value (unlimited), so no default needed
}

// BuilderConfig maps the manifest onto a job spec builder configuration.
func (m *Manifest) BuilderConfig() jobspec.Config {
	return jobspec.Config{
		InputRoot:   m.Paths.InputRoot,
		OutputRoot:  m.Paths.OutputRoot,
		DODTemplate: m.Paths.DODTemplate,
		Command:     append([]string(nil), m.Pipeline.Command...),
		Setup:       append([]string(nil), m.Pipeline.Setup...),
		Params: jobspec.Params{
			Workers:     m.Pipeline.NWorkers,
			MemoryLimit: m.Pipeline.MemoryLimit,
			BatchSize:   m.Pipeline.BatchSize,
			Rerun:       m.Pipeline.Rerun,
		},
		Directives: jobspec.Directives{
			Account:   m.Scheduler.Account,
			Partition: m.Scheduler.Partition,
			LogDir:    m.Scheduler.LogDir,
		},
	}
}

// BatchConfig maps the manifest onto a submitter configuration. The user is
// not part of the manifest; callers supply it.
func (m *Manifest) BatchConfig(user string) batch.Config {
	return batch.Config{
		Concurrency: m.Submit.Concurrency,
		RateLimit:   m.Submit.RateLimit,
		SkipActive:  m.Submit.SkipActive,
		User:        user,
		ScriptDir:   m.Submit.ScriptDir,
	}
}
