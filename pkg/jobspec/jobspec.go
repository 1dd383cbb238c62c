// Package jobspec builds the fully resolved, immutable job specification
// for one period and renders it as a Slurm batch script.
//
// Building performs no I/O: paths are joined, never checked. Whether the
// input directory exists is the pipeline's concern.
package jobspec

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/hpbatch/pkg/period"
)

// NamePrefix is prepended to the period key to form job names.
const NamePrefix = "hp_"

// ResourceRequest is what each job asks of the scheduler.
type ResourceRequest struct {
	CPUs     int           `json:"cpus"`
	Memory   string        `json:"memory"`
	WallTime time.Duration `json:"wall_time"`
	Nodes    int           `json:"nodes"`
	Tasks    int           `json:"tasks"`
}

// DefaultResources is the fixed per-job request. It does not vary by period.
var DefaultResources = ResourceRequest{
	CPUs:     16,
	Memory:   "40G",
	WallTime: 12 * time.Hour,
	Nodes:    1,
	Tasks:    1,
}

// Params are the pipeline tuning knobs passed through on every invocation.
type Params struct {
	Workers     int    `json:"n_workers"`
	MemoryLimit string `json:"memory_limit"`
	BatchSize   int    `json:"batch_size"`
	Rerun       bool   `json:"rerun,omitempty"`
}

// DefaultParams mirrors the pipeline's own defaults.
func DefaultParams() Params {
	return Params{
		Workers:     1,
		MemoryLimit: "6GB",
		BatchSize:   8,
	}
}

// Directives are scheduler settings that are neither per-period nor resources.
type Directives struct {
	Account   string `json:"account,omitempty"`
	Partition string `json:"partition,omitempty"`
	// LogDir holds the job's stdout/stderr files. Empty means the submit
	// directory.
	LogDir string `json:"log_dir,omitempty"`
}

// JobSpec is one fully resolved job. Treat it as immutable once built.
type JobSpec struct {
	Name       string          `json:"name"`
	Period     period.Period   `json:"period"`
	Mode       period.Mode     `json:"mode"`
	InputPath  string          `json:"input_path"`
	OutputPath string          `json:"output_path"`
	Resources  ResourceRequest `json:"resources"`
	Directives Directives      `json:"directives"`

	// Command is the pipeline entry point (e.g. python run_hp_dask.py).
	Command []string `json:"command"`

	// Args are the pipeline arguments in their fixed order.
	Args []string `json:"args"`

	// Setup lines run before the pipeline, e.g. environment activation.
	Setup []string `json:"setup,omitempty"`
}

// Name returns the job name for a period, e.g. hp_202201.
func Name(p period.Period) string {
	return NamePrefix + p.Key()
}

// Invocation returns the full command line: Command followed by Args.
func (s *JobSpec) Invocation() []string {
	out := make([]string, 0, len(s.Command)+len(s.Args))
	out = append(out, s.Command...)
	out = append(out, s.Args...)
	return out
}

// StdoutPath is the scheduler log path for stdout. %j expands to the job id.
func (s *JobSpec) StdoutPath() string {
	return logPath(s.Directives.LogDir, s.Name+".%j.out")
}

// StderrPath is the scheduler log path for stderr. %j expands to the job id.
func (s *JobSpec) StderrPath() string {
	return logPath(s.Directives.LogDir, s.Name+".%j.err")
}

func logPath(dir, file string) string {
	if strings.TrimSpace(dir) == "" {
		return file
	}
	return path.Join(dir, file)
}

// FormatWallTime renders a duration as Slurm's [D-]HH:MM:SS.
func FormatWallTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Round(time.Second) / time.Second)
	days := total / 86400
	total %= 86400
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
