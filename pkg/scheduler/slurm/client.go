package slurm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"

	"github.com/3leaps/hpbatch/pkg/jobspec"
	"github.com/3leaps/hpbatch/pkg/scheduler"
)

// Client implements scheduler.Client by shelling out to the Slurm tools.
type Client struct {
	cfg    Config
	runner Runner
	logger *zap.Logger
	now    func() time.Time
}

// Ensure Client implements the interface.
var _ scheduler.Client = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithRunner replaces the command runner. Tests use this to fake Slurm.
func WithRunner(r Runner) Option {
	return func(c *Client) {
		if r != nil {
			c.runner = r
		}
	}
}

// WithLogger sets the logger used for retry and parse diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the time source used for the history window.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Slurm client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:    cfg.withDefaults(),
		runner: ExecRunner{},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit pipes the rendered descriptor to `sbatch --parsable`.
//
// Submissions are attempted exactly once.
func (c *Client) Submit(ctx context.Context, spec *jobspec.JobSpec) (string, error) {
	if spec == nil {
		return "", &scheduler.SubmissionError{Err: scheduler.ErrRejected, Reason: "nil job spec"}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	stdout, stderr, err := c.runner.Run(callCtx, c.cfg.Sbatch, []string{"--parsable"}, strings.NewReader(spec.Script()))
	if err != nil {
		return "", &scheduler.SubmissionError{
			JobName: spec.Name,
			Reason:  reason(stderr),
			Err:     classify(callCtx, err, stderr, scheduler.ErrRejected),
		}
	}

	id, err := parseSubmitOutput(stdout)
	if err != nil {
		return "", &scheduler.SubmissionError{JobName: spec.Name, Reason: reason(stderr), Err: err}
	}

	c.logger.Debug("Submitted job",
		zap.String("name", spec.Name),
		zap.String("job_id", id),
	)
	return id, nil
}

// ListActive lists the user's queued and running jobs via squeue.
func (c *Client) ListActive(ctx context.Context, q scheduler.Query) (*scheduler.Listing, error) {
	const op = "list_active"
	if q.User == "" {
		return nil, &scheduler.QueryError{Op: op, Err: errUserRequired}
	}

	args := []string{"--noheader", "--user", q.User, "--format", squeueFormat}
	out, err := c.query(ctx, op, q.User, c.cfg.Squeue, args)
	if err != nil {
		return nil, err
	}

	listing := parseSqueue(out)
	active := listing.Records[:0]
	for _, r := range listing.Records {
		if r.State.IsActive() {
			active = append(active, r)
		}
	}
	listing.Records = scheduler.FilterByName(active, q.NameContains)
	c.logMalformed(op, listing)
	return listing, nil
}

// ListHistory lists the user's jobs within the history window via sacct,
// newest first.
func (c *Client) ListHistory(ctx context.Context, q scheduler.Query) (*scheduler.Listing, error) {
	const op = "list_history"
	if q.User == "" {
		return nil, &scheduler.QueryError{Op: op, Err: errUserRequired}
	}

	start := c.now().Add(-c.cfg.HistoryWindow).Format("2006-01-02T15:04:05")
	args := []string{
		"--noheader", "--parsable2",
		"--user", q.User,
		"--starttime", start,
		"--format", sacctFormat,
	}
	out, err := c.query(ctx, op, q.User, c.cfg.Sacct, args)
	if err != nil {
		return nil, err
	}

	listing := parseSacct(out)
	listing.Records = scheduler.FilterByName(listing.Records, q.NameContains)
	c.logMalformed(op, listing)
	return listing, nil
}

var errUserRequired = errors.New("user is required")

// query runs a read-only command with a per-attempt timeout, retrying
// timeouts and unavailability up to QueryRetries times.
func (c *Client) query(ctx context.Context, op, user, name string, args []string) ([]byte, error) {
	var stdout []byte

	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		out, stderr, err := c.runner.Run(callCtx, name, args, nil)
		if err != nil {
			return &scheduler.QueryError{
				Op:     op,
				User:   user,
				Reason: reason(stderr),
				Err:    classify(callCtx, err, stderr, scheduler.ErrUnavailable),
			}
		}
		stdout = out
		return nil
	}

	err := retry.Do(attempt,
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.QueryRetries+1)),
		retry.Delay(c.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			return scheduler.IsTimeout(err) || scheduler.IsUnavailable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("Retrying scheduler query",
				zap.String("op", op),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		if scheduler.IsQueryError(err) {
			return nil, err
		}
		// Parent context ended between attempts.
		return nil, &scheduler.QueryError{Op: op, User: user, Err: scheduler.ContextError(err)}
	}
	return stdout, nil
}

func (c *Client) logMalformed(op string, listing *scheduler.Listing) {
	for _, pe := range listing.Malformed {
		c.logger.Warn("Skipping malformed scheduler record",
			zap.String("op", op),
			zap.String("source", pe.Source),
			zap.Int("line", pe.Line),
			zap.Error(pe.Err),
		)
	}
}

// unavailableMarkers are stderr fragments Slurm tools print when the
// controller or accounting daemon cannot be reached.
var unavailableMarkers = []string{
	"Unable to contact slurm controller",
	"Socket timed out",
	"Connection refused",
	"slurmdbd",
	"Slurm backup controller in standby mode",
}

// classify maps a command failure onto the scheduler sentinels.
// exitFallback is used when the tool ran and exited non-zero for a reason
// other than reachability.
func classify(callCtx context.Context, err error, stderr []byte, exitFallback error) error {
	if ctxErr := callCtx.Err(); ctxErr != nil {
		return scheduler.ContextError(ctxErr)
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", scheduler.ErrUnavailable, err)
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %w", scheduler.ErrUnavailable, err)
	}
	msg := string(stderr)
	for _, m := range unavailableMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", scheduler.ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %w", exitFallback, err)
}

// reason condenses tool stderr into a single line.
func reason(stderr []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stderr)), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "; ")
}
