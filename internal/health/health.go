// Package health tracks the last known state of the scan tooling and the
// inventory file so callers can tell "nothing new was found" apart from
// "the tools are not there".
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/breeze-rmm/swtrack/internal/logging"
)

var log = logging.L("health")

// Status is the health of one component.
type Status string

const (
	Healthy   Status = "healthy"
	Unknown   Status = "unknown"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// IsValid reports whether s is one of the defined statuses.
func (s Status) IsValid() bool {
	switch s {
	case Healthy, Unknown, Degraded, Unhealthy:
		return true
	}
	return false
}

// Check is the latest result for a named component.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Report is a consistent snapshot of every component.
type Report struct {
	Status     Status  `json:"status"`
	Components []Check `json:"components"`
}

// Monitor holds checks for a set of components.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
	now    func() time.Time
}

// NewMonitor returns a monitor with each named component registered as
// Unknown.
func NewMonitor(components ...string) *Monitor {
	m := &Monitor{checks: make(map[string]Check), now: time.Now}
	for _, name := range components {
		m.checks[name] = Check{Name: name, Status: Unknown, UpdatedAt: m.now()}
	}
	return m
}

// Update records the status of a component. An invalid status is stored as
// Unknown.
func (m *Monitor) Update(name string, status Status, message string) {
	if !status.IsValid() {
		log.Warn("invalid health status, recording unknown", logging.KeyComponent, name, "status", string(status))
		status = Unknown
	}

	m.mu.Lock()
	prev, had := m.checks[name]
	m.checks[name] = Check{Name: name, Status: status, Message: message, UpdatedAt: m.now()}
	m.mu.Unlock()

	if had && prev.Status == status {
		return
	}
	switch status {
	case Degraded, Unhealthy:
		log.Warn("component health changed", logging.KeyComponent, name, "status", string(status), "message", message)
	default:
		log.Debug("component health changed", logging.KeyComponent, name, "status", string(status))
	}
}

// Get returns the check for a component.
func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst status across components, or Unknown when
// nothing is registered.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

// Report returns the overall status and all checks sorted by name, taken
// under one lock.
func (m *Monitor) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checks := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		checks = append(checks, c)
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return Report{Status: m.overallLocked(), Components: checks}
}

func (m *Monitor) overallLocked() Status {
	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if rank(c.Status) > rank(worst) {
			worst = c.Status
		}
	}
	return worst
}

// rank orders statuses so that a component that has not reported yet never
// hides one that is failing.
func rank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Unknown:
		return 1
	case Degraded:
		return 2
	case Unhealthy:
		return 3
	default:
		return 1
	}
}
