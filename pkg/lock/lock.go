// Package lock provides per-company mutual exclusion over the pool of
// pending orders an optimization run may consume.
//
// Without the lock, two concurrent runs for the same company could
// both assign the same not-yet-routed orders. The manager holds one
// in-memory lock record per company; a lock stays live while its
// holder is still running (up to a staleness threshold) and, after
// completion, through a confirmation grace window during which a
// human reviews the computed plan.
package lock

import (
	"sync"
	"time"

	"github.com/mkrausse/routeopt/pkg/clock"
)

// RunningSet is the view of in-process jobs the manager consults to
// decide whether a lock holder is still alive. Satisfied by
// registry.Registry.
type RunningSet interface {
	IsRunning(jobID string) bool
	// Remove purges a stale entry whose job is presumed hung.
	Remove(jobID string)
}

// CompanyLock records the job currently holding a company's lock.
type CompanyLock struct {
	JobID      string
	AcquiredAt time.Time
	// CompletedAt is set when the holding job finished but the lock
	// is retained pending external confirmation of the plan.
	CompletedAt *time.Time
}

// Manager is the tenant lock manager. All methods are safe for
// concurrent use.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*CompanyLock

	running       RunningSet
	clock         clock.Clock
	staleRunning  time.Duration
	confirmWindow time.Duration
}

// NewManager creates a Manager.
//
// staleRunning is how long a holder may stay running before it is
// presumed hung and its lock reassigned; confirmWindow is how long a
// completed holder retains the lock awaiting plan confirmation.
func NewManager(running RunningSet, c clock.Clock, staleRunning, confirmWindow time.Duration) *Manager {
	return &Manager{
		locks:         make(map[string]*CompanyLock),
		running:       running,
		clock:         c,
		staleRunning:  staleRunning,
		confirmWindow: confirmWindow,
	}
}

// Acquire attempts to take the company's lock for jobID. It reports
// false when a live lock is held by a different job.
//
// A prior lock is live in exactly two situations: its holder is still
// running and within the staleness threshold, or its holder completed
// less than the confirmation window ago. A holder that has been
// running past the threshold is treated as orphaned; its registry
// entry is purged and the lock reassigned.
func (m *Manager) Acquire(companyID, jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	existing := m.locks[companyID]

	if existing != nil && existing.JobID != jobID {
		if m.running.IsRunning(existing.JobID) {
			if now.Sub(existing.AcquiredAt) < m.staleRunning {
				return false
			}
			// Holder exceeded the stale-running threshold:
			// presumed hung, purge it and take over.
			m.running.Remove(existing.JobID)
		} else if existing.CompletedAt != nil && now.Sub(*existing.CompletedAt) < m.confirmWindow {
			return false
		}
	}

	m.locks[companyID] = &CompanyLock{JobID: jobID, AcquiredAt: now}
	return true
}

// Release clears the lock if it is still held by jobID. A late
// release from a superseded holder is a no-op so it cannot clobber a
// newer holder's lock.
func (m *Manager) Release(companyID, jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l := m.locks[companyID]; l != nil && l.JobID == jobID {
		delete(m.locks, companyID)
	}
}

// MarkCompleted stamps the completion time on the lock if still held
// by jobID, starting the confirmation grace window without releasing.
func (m *Manager) MarkCompleted(companyID, jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l := m.locks[companyID]; l != nil && l.JobID == jobID {
		now := m.clock.Now()
		l.CompletedAt = &now
	}
}

// Holder returns a copy of the company's lock record, or nil when no
// lock is held.
func (m *Manager) Holder(companyID string) *CompanyLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.locks[companyID]
	if l == nil {
		return nil
	}
	cp := *l
	return &cp
}

// SweepExpired drops locks that are no longer live: completed holders
// whose confirmation window has elapsed, and non-running holders that
// never completed. Returns the number of locks released.
func (m *Manager) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	released := 0
	for companyID, l := range m.locks {
		if m.running.IsRunning(l.JobID) {
			continue
		}
		if l.CompletedAt != nil && now.Sub(*l.CompletedAt) < m.confirmWindow {
			continue
		}
		delete(m.locks, companyID)
		released++
	}
	return released
}
