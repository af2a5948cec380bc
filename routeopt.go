// Package routeopt provides the optimization job orchestrator for a
// multi-tenant last-mile logistics platform: it serializes
// route-optimization runs per company, bounds global solver
// concurrency, deduplicates identical requests through
// content-addressed caching, supports cooperative cancellation and
// timeouts, and reconciles durable job state after a crash.
//
// This is the main package users should import. It re-exports all
// public types from the internal pkg/ packages for a clean API
// surface.
//
// Basic usage:
//
//	// Create storage and orchestrator
//	db, _ := gorm.Open(sqlite.Open("routeopt.db"), &gorm.Config{})
//	store := routeopt.NewGormStorage(db)
//	store.Migrate(context.Background())
//	orch := routeopt.New(store, mySolver)
//
//	// Recover interrupted jobs, then accept submissions
//	orch.Start(context.Background())
//
//	sub, err := orch.CreateAndExecuteJob(ctx, &routeopt.Request{
//	    CompanyID:       "acme",
//	    ConfigurationID: "default",
//	    VehicleIDs:      vehicleIDs,
//	    DriverIDs:       driverIDs,
//	    PendingOrderIDs: orderIDs,
//	    Timeout:         2 * time.Minute,
//	    Input:           solveInput,
//	})
package routeopt

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/mkrausse/routeopt/pkg/clock"
	"github.com/mkrausse/routeopt/pkg/core"
	"github.com/mkrausse/routeopt/pkg/fingerprint"
	"github.com/mkrausse/routeopt/pkg/jobctx"
	"github.com/mkrausse/routeopt/pkg/orchestrator"
	"github.com/mkrausse/routeopt/pkg/security"
	"github.com/mkrausse/routeopt/pkg/storage"
)

// Type aliases for the public API surface
type (
	// OptimizationJob is the durable record of one optimization run.
	OptimizationJob = core.OptimizationJob

	// JobStatus represents the current state of a job.
	JobStatus = core.JobStatus

	// Storage defines the persistence layer for jobs.
	Storage = core.Storage

	// Solver is the pluggable vehicle-routing engine.
	Solver = core.Solver

	// SolverFunc adapts a function to the Solver interface.
	SolverFunc = core.SolverFunc

	// SolveInput is the opaque payload handed to the solver.
	SolveInput = core.SolveInput

	// SolveResult is the solver's output payload.
	SolveResult = core.SolveResult

	// Order is one delivery to be routed.
	Order = core.Order

	// Vehicle is one vehicle available for routing.
	Vehicle = core.Vehicle

	// Depot is the start and end location of every route.
	Depot = core.Depot

	// SolverConfig carries per-run solver tuning.
	SolverConfig = core.SolverConfig

	// Route is one vehicle's ordered stop sequence.
	Route = core.Route

	// Stop is one visit on a route.
	Stop = core.Stop

	// UnassignedOrder is an order the solver could not place.
	UnassignedOrder = core.UnassignedOrder

	// Metrics summarizes a solve result.
	Metrics = core.Metrics

	// Event is the interface for all orchestrator events.
	Event = core.Event

	// JobStarted is emitted when a job is admitted.
	JobStarted = core.JobStarted

	// JobCompleted is emitted when a job completes successfully.
	JobCompleted = core.JobCompleted

	// JobFailed is emitted when the solver fails.
	JobFailed = core.JobFailed

	// JobCancelled is emitted on cancellation or timeout.
	JobCancelled = core.JobCancelled

	// Orchestrator is the job lifecycle controller.
	Orchestrator = orchestrator.Orchestrator

	// Request is a route-optimization submission.
	Request = orchestrator.Request

	// Submission is the immediate answer to CreateAndExecuteJob.
	Submission = orchestrator.Submission

	// Option configures the orchestrator.
	Option = orchestrator.Option

	// Config holds orchestrator configuration.
	Config = orchestrator.Config

	// Clock abstracts time for deterministic tests.
	Clock = clock.Clock

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage
)

// Status constants
const (
	StatusPending   = core.StatusPending
	StatusRunning   = core.StatusRunning
	StatusCompleted = core.StatusCompleted
	StatusFailed    = core.StatusFailed
	StatusCancelled = core.StatusCancelled
)

// Error variables
var (
	ErrTooManyJobs   = core.ErrTooManyJobs
	ErrCompanyLocked = core.ErrCompanyLocked
	ErrJobNotFound   = core.ErrJobNotFound
	ErrJobNotRunning = core.ErrJobNotRunning
	ErrNotStarted    = core.ErrNotStarted
)

// New creates an orchestrator over the given storage and solver.
func New(s Storage, solver Solver, opts ...Option) *Orchestrator {
	return orchestrator.New(s, solver, opts...)
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// Fingerprint computes the content-addressed cache key for an
// optimization request.
func Fingerprint(configurationID string, vehicleIDs, driverIDs, pendingOrderIDs []string) string {
	return fingerprint.Compute(configurationID, vehicleIDs, driverIDs, pendingOrderIDs)
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage.
func SanitizeErrorMessage(msg string) string {
	return security.SanitizeErrorMessage(msg)
}

// JobFromContext returns the current job from inside a solver
// invocation, or nil. Use this for logging or correlation.
func JobFromContext(ctx context.Context) *OptimizationJob {
	return jobctx.JobFromContext(ctx)
}

// ReportProgress records intermediate solver progress (0-100) from
// inside a solver invocation.
func ReportProgress(ctx context.Context, progress int) {
	jobctx.ReportProgress(ctx, progress)
}

// Orchestrator option functions

// MaxConcurrent sets the global concurrency ceiling.
func MaxConcurrent(n int) Option {
	return orchestrator.MaxConcurrent(n)
}

// StaleRunningThreshold sets how long a lock holder may stay running
// before it is presumed hung.
func StaleRunningThreshold(d time.Duration) Option {
	return orchestrator.StaleRunningThreshold(d)
}

// ConfirmationWindow sets the post-completion lock retention window.
func ConfirmationWindow(d time.Duration) Option {
	return orchestrator.ConfirmationWindow(d)
}

// DefaultTimeout sets the fallback solver budget.
func DefaultTimeout(d time.Duration) Option {
	return orchestrator.DefaultTimeout(d)
}

// MaintenanceSchedule sets the cron spec for the expired-lock sweep.
func MaintenanceSchedule(spec string) Option {
	return orchestrator.MaintenanceSchedule(spec)
}

// WithClock injects a clock, letting tests simulate time.
func WithClock(c Clock) Option {
	return orchestrator.WithClock(c)
}

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return orchestrator.WithLogger(l)
}
