package jobspec

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/3leaps/hpbatch/pkg/period"
)

// Config holds everything a Builder needs besides the period itself.
type Config struct {
	// InputRoot and OutputRoot are joined with the YYYYMM key.
	InputRoot  string
	OutputRoot string

	// DODTemplate is the output template handed to the pipeline.
	DODTemplate string

	// Command is the pipeline entry point, e.g. ["python", "run_hp_dask.py"].
	Command []string

	// Setup lines are emitted into the script before the invocation.
	Setup []string

	Params     Params
	Directives Directives
}

// Builder produces JobSpecs. It is safe for concurrent use.
type Builder struct {
	cfg Config
}

// NewBuilder validates cfg and returns a Builder.
func NewBuilder(cfg Config) (*Builder, error) {
	var problems []string
	if strings.TrimSpace(cfg.InputRoot) == "" {
		problems = append(problems, "input root is required")
	}
	if strings.TrimSpace(cfg.OutputRoot) == "" {
		problems = append(problems, "output root is required")
	}
	if strings.TrimSpace(cfg.DODTemplate) == "" {
		problems = append(problems, "dod template is required")
	}
	if len(cfg.Command) == 0 {
		problems = append(problems, "pipeline command is required")
	}
	if cfg.Params.Workers < 1 {
		problems = append(problems, "n_workers must be >= 1")
	}
	if cfg.Params.BatchSize < 1 {
		problems = append(problems, "batch_size must be >= 1")
	}
	if strings.TrimSpace(cfg.Params.MemoryLimit) == "" {
		problems = append(problems, "memory_limit is required")
	}
	if len(problems) > 0 {
		return nil, errors.New("invalid job spec config: " + strings.Join(problems, "; "))
	}

	// Own the slices so later caller mutation cannot leak into built specs.
	cfg.Command = append([]string(nil), cfg.Command...)
	cfg.Setup = append([]string(nil), cfg.Setup...)
	return &Builder{cfg: cfg}, nil
}

// Build returns the JobSpec for p. Identical inputs always yield identical
// specs. The only failure is an invalid period.
func (b *Builder) Build(p period.Period) (*JobSpec, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	key := p.Key()
	mode := period.Classify(p)
	in := path.Join(b.cfg.InputRoot, key)
	out := path.Join(b.cfg.OutputRoot, key)

	return &JobSpec{
		Name:       Name(p),
		Period:     p,
		Mode:       mode,
		InputPath:  in,
		OutputPath: out,
		Resources:  DefaultResources,
		Directives: b.cfg.Directives,
		Command:    append([]string(nil), b.cfg.Command...),
		Args:       pipelineArgs(p, mode, in, out, b.cfg.DODTemplate, b.cfg.Params),
		Setup:      append([]string(nil), b.cfg.Setup...),
	}, nil
}

// pipelineArgs follows the pipeline's command-line contract:
//
//	<year> <month> --season S --data_dir D --output_dir O --dod_template T
//	--n_workers N --memory_limit M --batch_size B [--rerun]
func pipelineArgs(p period.Period, mode period.Mode, in, out, tmpl string, params Params) []string {
	args := []string{
		fmt.Sprintf("%04d", p.Year),
		fmt.Sprintf("%02d", p.Month),
		"--season", mode.String(),
		"--data_dir", in,
		"--output_dir", out,
		"--dod_template", tmpl,
		"--n_workers", itoa(params.Workers),
		"--memory_limit", params.MemoryLimit,
		"--batch_size", itoa(params.BatchSize),
	}
	if params.Rerun {
		args = append(args, "--rerun")
	}
	return args
}
