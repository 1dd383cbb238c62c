// Package schedtest provides an in-memory scheduler.Client for tests.
//
// Submissions are recorded and assigned increasing numeric ids. Listings
// are served from records seeded by the test, optionally with injected
// failures per operation or per job name.
package schedtest

import (
	"context"
	"strconv"
	"sync"

	"github.com/3leaps/hpbatch/pkg/jobspec"
	"github.com/3leaps/hpbatch/pkg/scheduler"
)

// Client is a concurrency-safe in-memory scheduler.
type Client struct {
	mu sync.Mutex

	nextID    int
	submitted []*jobspec.JobSpec

	active    []scheduler.JobRecord
	history   []scheduler.JobRecord
	malformed []*scheduler.ParseError

	// SubmitErrs maps a job name to the error Submit returns for it.
	SubmitErrs map[string]error

	// ActiveErr and HistoryErr, when set, are returned by the listings.
	ActiveErr  error
	HistoryErr error

	// OnSubmit, when set, runs before each submission with the lock released.
	OnSubmit func(ctx context.Context, spec *jobspec.JobSpec)
}

// New returns an empty Client whose first job id is 1000.
func New() *Client {
	return &Client{nextID: 1000, SubmitErrs: make(map[string]error)}
}

// SetActive replaces the active listing.
func (c *Client) SetActive(records ...scheduler.JobRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = append([]scheduler.JobRecord(nil), records...)
}

// SetHistory replaces the history listing. Records must be supplied most
// recent first, as a real scheduler would return them.
func (c *Client) SetHistory(records ...scheduler.JobRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append([]scheduler.JobRecord(nil), records...)
}

// SetMalformed sets the undecodable records reported with the history.
func (c *Client) SetMalformed(errs ...*scheduler.ParseError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.malformed = append([]*scheduler.ParseError(nil), errs...)
}

// Submitted returns the specs accepted so far, in submission order.
func (c *Client) Submitted() []*jobspec.JobSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*jobspec.JobSpec(nil), c.submitted...)
}

// Submit implements scheduler.Client.
func (c *Client) Submit(ctx context.Context, spec *jobspec.JobSpec) (string, error) {
	if c.OnSubmit != nil {
		c.OnSubmit(ctx, spec)
	}
	if err := ctx.Err(); err != nil {
		return "", &scheduler.SubmissionError{JobName: spec.Name, Err: scheduler.ContextError(err)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.SubmitErrs[spec.Name]; ok {
		return "", err
	}

	id := strconv.Itoa(c.nextID)
	c.nextID++
	c.submitted = append(c.submitted, spec)
	c.active = append(c.active, scheduler.JobRecord{
		ID:    id,
		Name:  spec.Name,
		State: scheduler.StatePending,
	})
	return id, nil
}

// ListActive implements scheduler.Client.
func (c *Client) ListActive(ctx context.Context, q scheduler.Query) (*scheduler.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, &scheduler.QueryError{Op: "list_active", User: q.User, Err: scheduler.ContextError(err)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ActiveErr != nil {
		return nil, c.ActiveErr
	}
	return &scheduler.Listing{Records: scheduler.FilterByName(c.active, q.NameContains)}, nil
}

// ListHistory implements scheduler.Client.
func (c *Client) ListHistory(ctx context.Context, q scheduler.Query) (*scheduler.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, &scheduler.QueryError{Op: "list_history", User: q.User, Err: scheduler.ContextError(err)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.HistoryErr != nil {
		return nil, c.HistoryErr
	}
	return &scheduler.Listing{
		Records:   scheduler.FilterByName(c.history, q.NameContains),
		Malformed: append([]*scheduler.ParseError(nil), c.malformed...),
	}, nil
}

var _ scheduler.Client = (*Client)(nil)
