package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus is the overall or per-check health.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Checker reports the health of one dependency.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// DBChecker pings a database handle.
type DBChecker struct {
	DB *sql.DB
}

func (c DBChecker) CheckHealth(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

type registration struct {
	checker  Checker
	critical bool
}

// CheckResult is one entry of HealthResponse.Checks.
type CheckResult struct {
	Status HealthStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// HealthManager runs registered checks. A failing critical check makes the
// service unhealthy; a failing non-critical one only degrades it.
type HealthManager struct {
	mu       sync.RWMutex
	version  string
	started  time.Time
	checkers map[string]registration
	timeout  time.Duration
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		started:  time.Now(),
		checkers: make(map[string]registration),
		timeout:  5 * time.Second,
	}
}

// RegisterChecker adds a critical check.
func (m *HealthManager) RegisterChecker(name string, c Checker) {
	m.register(name, c, true)
}

// RegisterOptionalChecker adds a check that only degrades health.
func (m *HealthManager) RegisterOptionalChecker(name string, c Checker) {
	m.register(name, c, false)
}

func (m *HealthManager) register(name string, c Checker, critical bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = registration{checker: c, critical: critical}
}

// Check runs every check under a shared timeout.
func (m *HealthManager) Check(ctx context.Context) HealthResponse {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	regs := make(map[string]registration, len(m.checkers))
	for k, v := range m.checkers {
		regs[k] = v
	}
	m.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Uptime:    time.Since(m.started).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult, len(names)),
		Timestamp: time.Now().UTC(),
	}
	for _, name := range names {
		reg := regs[name]
		if err := reg.checker.CheckHealth(ctx); err != nil {
			resp.Checks[name] = CheckResult{Status: StatusUnhealthy, Error: err.Error()}
			switch {
			case reg.critical:
				resp.Status = StatusUnhealthy
			case resp.Status == StatusHealthy:
				resp.Status = StatusDegraded
			}
			continue
		}
		resp.Checks[name] = CheckResult{Status: StatusHealthy}
	}
	return resp
}

// HealthHandler serves GET /health. Unhealthy answers 503.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := m.Check(r.Context())
	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// LivenessHandler serves GET /health/live without running checks.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": StatusHealthy})
}

// VersionHandler serves GET /version.
func (m *HealthManager) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": m.version})
}
