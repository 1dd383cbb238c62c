package config

import (
	"errors"
	"os"
	"os/user"
	"strings"
)

// ErrNoUser means no source produced a user name.
var ErrNoUser = errors.New("cannot determine user: pass --user or set monitor.user")

// Lookups are package variables so tests can replace them.
var (
	currentUser = user.Current
	getenv      = os.Getenv
)

// ResolveUser returns the scheduler user. Sources, first non-empty wins:
// the --user flag, monitor.user from config or HPBATCH_MONITOR_USER, the
// OS account, then $USER. Nothing else in hpbatch looks the user up.
func ResolveUser(flag string, cfg *Config) (string, error) {
	if u := strings.TrimSpace(flag); u != "" {
		return u, nil
	}
	if cfg != nil {
		if u := strings.TrimSpace(cfg.Monitor.User); u != "" {
			return u, nil
		}
	}
	if acct, err := currentUser(); err == nil && acct != nil {
		if u := strings.TrimSpace(acct.Username); u != "" {
			return u, nil
		}
	}
	if u := strings.TrimSpace(getenv("USER")); u != "" {
		return u, nil
	}
	return "", ErrNoUser
}
