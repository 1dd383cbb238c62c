package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// ErrNotFound is returned when no run matches an id or id prefix.
var ErrNotFound = errors.New("run not found")

// Store persists and loads RunRecords from an on-disk directory.
//
// Directory layout:
//
//	<root>/<run_id>/run.json
//
// Root is expected to be under the user data dir.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, runID)
}

func (s *Store) RunPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "run.json")
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("ledger root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

// Write stores record atomically (temp file + rename).
func (s *Store) Write(record *RunRecord) error {
	if record == nil {
		return fmt.Errorf("run record is nil")
	}
	runID := strings.TrimSpace(record.RunID)
	if runID == "" {
		return fmt.Errorf("run_id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	runDir := s.RunDir(runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(runDir, "run.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp run file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp run file: %w", err)
	}

	if err := os.Rename(tmpName, s.RunPath(runID)); err != nil {
		return fmt.Errorf("rename run file: %w", err)
	}
	return nil
}

// Get loads one run by exact id.
//
// A run still marked running whose process is gone was interrupted; Get
// records that before returning.
func (s *Store) Get(runID string) (*RunRecord, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	b, err := os.ReadFile(s.RunPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("run.json is empty")
	}

	var record RunRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse run.json: %w", err)
	}

	if record.State == RunStateRunning && record.PID > 0 && record.PID != os.Getpid() {
		if !isProcessAlive(record.PID) {
			record.State = RunStateInterrupted
			now := time.Now().UTC()
			record.EndedAt = &now
			_ = s.Write(&record)
		}
	}

	return &record, nil
}

// List returns every readable run, newest first. Unreadable entries are
// skipped.
func (s *Store) List() ([]RunRecord, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger root: %w", err)
	}

	out := make([]RunRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out, nil
}

// Resolve maps a full run id or an unambiguous prefix of one to the full id.
func (s *Store) Resolve(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("run_id is required")
	}

	if _, err := os.Stat(s.RunPath(input)); err == nil {
		return input, nil
	}

	runs, err := s.List()
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, r := range runs {
		if strings.HasPrefix(r.RunID, input) {
			matches = append(matches, r.RunID)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, input)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("run id prefix is ambiguous (%d matches); use the full run_id", len(matches))
	}
	return matches[0], nil
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 checks for existence without sending a signal.
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	return true
}
