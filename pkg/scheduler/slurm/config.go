// Package slurm implements scheduler.Client on top of the Slurm command-line
// tools (sbatch, squeue, sacct).
package slurm

import "time"

// Config configures a Slurm client.
//
// Zero values fall back to the defaults below, so Config{} talks to the
// Slurm binaries on PATH with conservative timeouts.
type Config struct {
	// Sbatch, Squeue and Sacct are the command names or absolute paths of
	// the Slurm tools.
	Sbatch string
	Squeue string
	Sacct  string

	// Timeout bounds every individual command invocation.
	Timeout time.Duration

	// QueryRetries is the number of additional attempts for listings after
	// a timeout or an unavailable scheduler. Submissions are never retried:
	// a timed-out sbatch may already have queued the job.
	QueryRetries int

	// RetryDelay is the fixed pause between listing attempts.
	RetryDelay time.Duration

	// HistoryWindow is how far back ListHistory asks the accounting
	// database to look.
	HistoryWindow time.Duration
}

// Defaults.
const (
	DefaultSbatch        = "sbatch"
	DefaultSqueue        = "squeue"
	DefaultSacct         = "sacct"
	DefaultTimeout       = 30 * time.Second
	DefaultQueryRetries  = 2
	DefaultRetryDelay    = 2 * time.Second
	DefaultHistoryWindow = 30 * 24 * time.Hour
)

// MaxQueryRetries caps QueryRetries.
const MaxQueryRetries = 10

// withDefaults returns a copy of c with zero fields filled in.
func (c Config) withDefaults() Config {
	if c.Sbatch == "" {
		c.Sbatch = DefaultSbatch
	}
	if c.Squeue == "" {
		c.Squeue = DefaultSqueue
	}
	if c.Sacct == "" {
		c.Sacct = DefaultSacct
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	return c
}

// Validate checks the configuration for values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.QueryRetries < 0 {
		return &ConfigError{Field: "QueryRetries", Message: "must not be negative"}
	}
	if c.QueryRetries > MaxQueryRetries {
		return &ConfigError{Field: "QueryRetries", Message: "must be at most 10"}
	}
	if c.Timeout < 0 {
		return &ConfigError{Field: "Timeout", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "slurm config: " + e.Field + ": " + e.Message
}
