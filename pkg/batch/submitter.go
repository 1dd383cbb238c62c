// Package batch submits one scheduler job per requested period.
//
// Every period is attempted independently: a failure to build or submit one
// period is recorded in its Outcome and never stops the others.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/3leaps/hpbatch/pkg/jobspec"
	"github.com/3leaps/hpbatch/pkg/period"
	"github.com/3leaps/hpbatch/pkg/scheduler"
)

// Config controls how a batch is submitted.
type Config struct {
	// Concurrency bounds in-flight submissions. Values below 2 submit
	// sequentially in input order.
	Concurrency int

	// RateLimit caps submissions per second. Zero means unlimited.
	RateLimit float64

	// SkipActive skips periods whose job is already pending or running for
	// User. Requires User.
	SkipActive bool
	User       string

	// ScriptDir, when set, receives a copy of every rendered descriptor as
	// <name>.sbatch before it is submitted.
	ScriptDir string
}

// MaxConcurrency caps Config.Concurrency.
const MaxConcurrency = 32

// Submitter drives builder and client over a list of periods.
type Submitter struct {
	client  scheduler.Client
	builder *jobspec.Builder
	cfg     Config

	logger   *zap.Logger
	limiter  *rate.Limiter
	announce io.Writer
	mu       sync.Mutex
}

// Option customizes a Submitter.
type Option func(*Submitter)

// WithLogger sets the diagnostics logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Submitter) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAnnounce sets where the per-period progress lines are written.
func WithAnnounce(w io.Writer) Option {
	return func(s *Submitter) {
		if w != nil {
			s.announce = w
		}
	}
}

// New creates a Submitter.
func New(client scheduler.Client, builder *jobspec.Builder, cfg Config, opts ...Option) (*Submitter, error) {
	if client == nil {
		return nil, errors.New("scheduler client is required")
	}
	if builder == nil {
		return nil, errors.New("job spec builder is required")
	}
	if cfg.Concurrency < 0 || cfg.Concurrency > MaxConcurrency {
		return nil, fmt.Errorf("concurrency must be between 0 and %d", MaxConcurrency)
	}
	if cfg.RateLimit < 0 {
		return nil, errors.New("rate limit must not be negative")
	}
	if cfg.SkipActive && strings.TrimSpace(cfg.User) == "" {
		return nil, errors.New("skip-active requires a user")
	}

	s := &Submitter{
		client:   client,
		builder:  builder,
		cfg:      cfg,
		logger:   zap.NewNop(),
		announce: io.Discard,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SubmitAll submits one job per period and returns outcomes in the same
// order as periods.
func (s *Submitter) SubmitAll(ctx context.Context, periods []period.Period) Outcomes {
	inputs := make([]period.Input, len(periods))
	for i, p := range periods {
		inputs[i] = period.Input{Raw: p.Key(), Period: p}
	}
	return s.run(ctx, inputs)
}

// SubmitInputs expands period keys and ranges and submits each resulting
// period. Invalid entries become failed outcomes at their position.
func (s *Submitter) SubmitInputs(ctx context.Context, raw []string) Outcomes {
	return s.run(ctx, period.Expand(raw))
}

func (s *Submitter) run(ctx context.Context, inputs []period.Input) Outcomes {
	outcomes := make(Outcomes, len(inputs))
	for i, in := range inputs {
		outcomes[i] = Outcome{Input: in.Raw, Period: in.Period, Err: in.Err}
	}

	active, activeErr := s.activeNames(ctx)

	limit := s.cfg.Concurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	for i := range outcomes {
		if outcomes[i].Err != nil {
			s.logger.Warn("Skipping invalid period",
				zap.String("input", outcomes[i].Input),
				zap.Error(outcomes[i].Err),
			)
			continue
		}
		if activeErr != nil {
			outcomes[i].Err = activeErr
			continue
		}
		o := &outcomes[i]
		g.Go(func() error {
			s.submitOne(ctx, o, active)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Batch complete",
		zap.Int("requested", len(outcomes)),
		zap.Int("submitted", len(outcomes.Succeeded())),
		zap.Int("skipped", len(outcomes.Skipped())),
		zap.Int("failed", len(outcomes.Failed())),
	)
	return outcomes
}

// activeNames returns the names of the user's active jobs when SkipActive
// is set. If the check itself fails no period may be submitted, otherwise a
// duplicate could be queued.
func (s *Submitter) activeNames(ctx context.Context) (map[string]bool, error) {
	if !s.cfg.SkipActive {
		return nil, nil
	}
	listing, err := s.client.ListActive(ctx, scheduler.Query{User: s.cfg.User, NameContains: jobspec.NamePrefix})
	if err != nil {
		s.logger.Error("Active job check failed", zap.String("user", s.cfg.User), zap.Error(err))
		return nil, fmt.Errorf("check active jobs: %w", err)
	}
	names := make(map[string]bool, len(listing.Records))
	for _, r := range listing.Records {
		if r.State.IsActive() {
			names[r.Name] = true
		}
	}
	return names, nil
}

func (s *Submitter) submitOne(ctx context.Context, o *Outcome, active map[string]bool) {
	if err := ctx.Err(); err != nil {
		o.Err = err
		return
	}

	spec, err := s.builder.Build(o.Period)
	if err != nil {
		o.Err = err
		s.logger.Warn("Job spec build failed", zap.String("period", o.Label()), zap.Error(err))
		return
	}
	o.JobName, o.Mode = spec.Name, spec.Mode

	if active[spec.Name] {
		o.Skipped = true
		s.announcef("%s %s %s (already active, skipped)\n", o.Period.Key(), spec.Mode, spec.Name)
		s.logger.Info("Skipping active job", zap.String("name", spec.Name))
		return
	}

	s.announcef("%s %s %s\n", o.Period.Key(), spec.Mode, spec.Name)

	if s.cfg.ScriptDir != "" {
		if err := writeScript(s.cfg.ScriptDir, spec); err != nil {
			o.Err = err
			s.logger.Error("Script write failed", zap.String("name", spec.Name), zap.Error(err))
			return
		}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			o.Err = err
			return
		}
	}

	id, err := s.client.Submit(ctx, spec)
	if err != nil {
		o.Err = err
		s.logger.Error("Submission failed",
			zap.String("period", o.Period.Key()),
			zap.String("name", spec.Name),
			zap.Error(err),
		)
		return
	}
	o.JobID = id
	s.logger.Debug("Submitted",
		zap.String("period", o.Period.Key()),
		zap.String("name", spec.Name),
		zap.String("job_id", id),
	)
}

func (s *Submitter) announcef(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.announce, format, args...)
}

// ScriptPath returns where a descriptor for name is written under dir.
func ScriptPath(dir, name string) string {
	return filepath.Join(dir, name+".sbatch")
}

func writeScript(dir string, spec *jobspec.JobSpec) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create script dir: %w", err)
	}
	if err := os.WriteFile(ScriptPath(dir, spec.Name), []byte(spec.Script()), 0644); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	return nil
}
