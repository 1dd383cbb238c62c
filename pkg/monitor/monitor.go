// Package monitor summarizes a user's scheduler jobs for reporting.
package monitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/hpbatch/pkg/scheduler"
)

const (
	// DefaultRecentLimit bounds Summary.Recent. WithRecentLimit may only
	// lower it.
	DefaultRecentLimit = 15

	// DefaultPrefix selects this system's jobs among the user's others.
	DefaultPrefix = "hp"
)

// Summary is computed on every call and never persisted.
//
// Total counts distinct job ids across active and historical listings, so
// Active <= Total and Completed+FailedLike+Unknown <= Total always hold.
type Summary struct {
	User   string `json:"user"`
	Prefix string `json:"prefix"`

	Total      int `json:"total"`
	Active     int `json:"active"`
	Completed  int `json:"completed"`
	FailedLike int `json:"failed_like"`
	Unknown    int `json:"unknown"`

	// Malformed is the number of scheduler records that could not be
	// decoded and were left out of every count.
	Malformed int `json:"malformed"`

	// Recent is the newest history records, most recent first.
	Recent []scheduler.JobRecord `json:"recent"`

	ObservedAt time.Time `json:"observed_at"`
}

// Empty reports whether no job matched.
func (s *Summary) Empty() bool {
	return s.Total == 0
}

// Aggregator queries a scheduler and builds Summaries.
type Aggregator struct {
	client scheduler.Client
	recent int
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithRecentLimit sets the bound on Summary.Recent. Values outside
// [1, DefaultRecentLimit] are ignored.
func WithRecentLimit(n int) Option {
	return func(a *Aggregator) {
		if n >= 1 && n <= DefaultRecentLimit {
			a.recent = n
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock sets the time source for Summary.ObservedAt.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an Aggregator.
func New(client scheduler.Client, opts ...Option) *Aggregator {
	a := &Aggregator{
		client: client,
		recent: DefaultRecentLimit,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RecentLimit returns the effective bound on Summary.Recent.
func (a *Aggregator) RecentLimit() int {
	return a.recent
}

// Summarize fetches the user's active and historical jobs, keeps those whose
// name contains prefix, and counts them.
//
// Any query failure is returned as a *scheduler.QueryError and no partial
// summary is produced. Zero matches is a valid summary.
func (a *Aggregator) Summarize(ctx context.Context, user, prefix string) (*Summary, error) {
	if user == "" {
		return nil, &scheduler.QueryError{Op: "summarize", Err: errors.New("user is required")}
	}

	q := scheduler.Query{User: user, NameContains: prefix}
	var active, history *scheduler.Listing

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l, err := a.client.ListActive(gctx, q)
		if err != nil {
			return asQueryError("list_active", user, err)
		}
		active = l
		return nil
	})
	g.Go(func() error {
		l, err := a.client.ListHistory(gctx, q)
		if err != nil {
			return asQueryError("list_history", user, err)
		}
		history = l
		return nil
	})
	if err := g.Wait(); err != nil {
		a.logger.Error("Scheduler query failed", zap.String("user", user), zap.Error(err))
		return nil, err
	}

	s := summarize(
		scheduler.FilterByName(active.Records, prefix),
		scheduler.FilterByName(history.Records, prefix),
		a.recent,
	)
	s.User = user
	s.Prefix = prefix
	s.Malformed = len(active.Malformed) + len(history.Malformed)
	s.ObservedAt = a.now().UTC()

	a.logger.Debug("Summarized jobs",
		zap.String("user", user),
		zap.String("prefix", prefix),
		zap.Int("total", s.Total),
		zap.Int("active", s.Active),
		zap.Int("malformed", s.Malformed),
	)
	return s, nil
}

// summarize does the counting over already-filtered listings. Only pending
// and running records count as active; an active-listing record in an
// unrecognized state is counted as unknown unless history already has it.
func summarize(active, history []scheduler.JobRecord, recentLimit int) *Summary {
	s := &Summary{}
	ids := make(map[string]struct{}, len(active)+len(history))

	seen := make(map[string]struct{}, len(history))
	deduped := make([]scheduler.JobRecord, 0, len(history))
	for _, r := range history {
		ids[r.ID] = struct{}{}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		deduped = append(deduped, r)
		switch {
		case r.State == scheduler.StateCompleted:
			s.Completed++
		case r.State.IsFailedLike():
			s.FailedLike++
		case r.State == scheduler.StateUnknown:
			s.Unknown++
		}
	}

	activeIDs := make(map[string]struct{}, len(active))
	for _, r := range active {
		ids[r.ID] = struct{}{}
		switch {
		case r.State.IsActive():
			activeIDs[r.ID] = struct{}{}
		case r.State == scheduler.StateUnknown:
			if _, dup := seen[r.ID]; !dup {
				seen[r.ID] = struct{}{}
				s.Unknown++
			}
		}
	}
	s.Active = len(activeIDs)
	s.Total = len(ids)

	n := min(recentLimit, len(deduped))
	s.Recent = make([]scheduler.JobRecord, n)
	copy(s.Recent, deduped[:n])
	return s
}

func asQueryError(op, user string, err error) error {
	if scheduler.IsQueryError(err) {
		return err
	}
	return &scheduler.QueryError{Op: op, User: user, Err: scheduler.ContextError(err)}
}
