package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	apperrors "github.com/3leaps/hpbatch/internal/errors"
)

// Health check results.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

// DefaultCheckTimeout bounds each checker.
const DefaultCheckTimeout = 2 * time.Second

// HealthChecker reports whether one dependency is usable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the body of a successful health probe.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// HealthManager runs registered checkers for the health endpoints.
type HealthManager struct {
	version string
	timeout time.Duration

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		timeout:  DefaultCheckTimeout,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds or replaces the checker called name.
func (m *HealthManager) RegisterChecker(name string, c HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

// HealthHandler runs every checker. Unhealthy answers 503 with the
// per-check results in the error details.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	status := m.determineOverallStatus(checks)

	if status == StatusUnhealthy {
		respondWithError(w, r, apperrors.NewServiceUnavailable("one or more health checks failed",
			map[string]any{"checks": checks}))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   m.version,
		Checks:    checks,
		Timestamp: time.Now().UTC(),
	})
}

// LivenessHandler answers as long as the process can serve HTTP.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	})
}

// ReadinessHandler is HealthHandler: ready means every dependency answers.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

// StartupHandler answers once the manager exists, which happens after
// configuration has loaded.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	m.LivenessHandler(w, r)
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]HealthChecker, len(m.checkers))
	for k, v := range m.checkers {
		checkers[k] = v
	}
	m.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string, c HealthChecker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			status := StatusHealthy
			if err := c.CheckHealth(cctx); err != nil {
				status = StatusUnhealthy
				if errors.Is(err, context.DeadlineExceeded) {
					status = StatusTimeout
				}
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, checkers[name])
	}
	wg.Wait()
	return results
}

func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	status := StatusHealthy
	for _, s := range checks {
		switch s {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusTimeout:
			status = StatusDegraded
		}
	}
	return status
}

var (
	globalMu            sync.RWMutex
	globalHealthManager *HealthManager
)

// InitHealthManager installs the process-wide manager used by the
// package-level handlers.
func InitHealthManager(version string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide manager, or nil.
func GetHealthManager() *HealthManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalHealthManager
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	withManager(w, r, (*HealthManager).HealthHandler)
}

func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	withManager(w, r, (*HealthManager).LivenessHandler)
}

func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	withManager(w, r, (*HealthManager).ReadinessHandler)
}

func StartupHandler(w http.ResponseWriter, r *http.Request) {
	withManager(w, r, (*HealthManager).StartupHandler)
}

func withManager(w http.ResponseWriter, r *http.Request, fn func(*HealthManager, http.ResponseWriter, *http.Request)) {
	m := GetHealthManager()
	if m == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailable("health manager not initialized", nil))
		return
	}
	fn(m, w, r)
}
