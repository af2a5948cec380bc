// Package registry tracks the optimization jobs currently running in
// this process.
//
// Each entry holds the job's cancellation context and its timeout
// timer. An entry exists exactly while the job is believed running
// here; it is removed the moment the job reaches a terminal state.
// Entries are lost on crash, which is why durable status plus the
// startup recovery sweep is the source of truth.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/mkrausse/routeopt/pkg/clock"
	"github.com/mkrausse/routeopt/pkg/core"
)

type entry struct {
	companyID string
	ctx       context.Context
	cancel    context.CancelFunc
	timer     clock.Timer
}

// Registry is the in-memory table of in-flight jobs. All methods are
// safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	jobs  map[string]*entry
	max   int
	clock clock.Clock
}

// New creates a Registry with the given global concurrency ceiling.
func New(maxConcurrent int, c clock.Clock) *Registry {
	return &Registry{
		jobs:  make(map[string]*entry),
		max:   maxConcurrent,
		clock: c,
	}
}

// CanStart reports whether the running-job count is below the global
// concurrency ceiling. Advisory only; Register enforces the ceiling
// atomically.
func (r *Registry) CanStart() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs) < r.max
}

// Register inserts a running entry for the job and returns the
// context its solver invocation must honor. Returns ErrTooManyJobs
// when the ceiling is reached.
func (r *Registry) Register(parent context.Context, jobID, companyID string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.jobs) >= r.max {
		return nil, core.ErrTooManyJobs
	}

	ctx, cancel := context.WithCancel(parent)
	r.jobs[jobID] = &entry{companyID: companyID, ctx: ctx, cancel: cancel}
	return ctx, nil
}

// SetTimeout (re)arms the job's timeout timer, replacing any existing
// one. onTimeout runs once the duration elapses, unless the job is
// unregistered first.
func (r *Registry) SetTimeout(jobID string, d time.Duration, onTimeout func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobID]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = r.clock.AfterFunc(d, onTimeout)
}

// Cancel signals the job's cancellation context and stops its timer
// without removing the entry. Reports whether the job was registered.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobID]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.cancel()
	return true
}

// Unregister stops the job's timer, signals its cancellation context,
// and removes the entry. The cancel signal is redundant for jobs that
// finished normally but guarantees no orphaned solver work keeps a
// live context after the job is finalized. Reports whether an entry
// was removed; the finalize paths use this to decide which of two
// racing finishers persists the terminal state.
func (r *Registry) Unregister(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobID]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.cancel()
	delete(r.jobs, jobID)
	return true
}

// IsAborting reports whether the job's cancellation context has been
// signaled. Solver checkpoints poll this to stop early.
func (r *Registry) IsAborting(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobID]
	if !ok {
		return false
	}
	return e.ctx.Err() != nil
}

// IsRunning reports whether the job has a live entry in this process.
func (r *Registry) IsRunning(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[jobID]
	return ok
}

// Remove drops an entry presumed orphaned, cancelling its context.
// Used by the lock manager when it purges a stale holder.
func (r *Registry) Remove(jobID string) {
	r.Unregister(jobID)
}

// CompanyID returns the company that owns a registered job, or ""
// when the job is not registered.
func (r *Registry) CompanyID(jobID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.jobs[jobID]; ok {
		return e.companyID
	}
	return ""
}

// RunningCount returns the number of registered jobs.
func (r *Registry) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// CancelAll signals every registered job's context. Used on process
// shutdown; entries are left for the finalize paths to unregister.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.jobs {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.cancel()
	}
}
