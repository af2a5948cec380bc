package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/mkrausse/routeopt/pkg/core"
	"github.com/mkrausse/routeopt/pkg/fingerprint"
	"github.com/mkrausse/routeopt/pkg/jobctx"
	"github.com/mkrausse/routeopt/pkg/lock"
	"github.com/mkrausse/routeopt/pkg/registry"
	"github.com/mkrausse/routeopt/pkg/security"
)

// interruptedMessage is written to every running row the recovery
// sweep finds at boot.
const interruptedMessage = "optimization interrupted by restart"

// Request is a route-optimization submission.
//
// The ID lists feed the input fingerprint and the tenant lock; Input
// is the opaque payload handed to the solver untouched.
type Request struct {
	CompanyID       string
	ConfigurationID string
	VehicleIDs      []string
	DriverIDs       []string
	PendingOrderIDs []string

	// Timeout is the wall-clock budget for the run. Zero means the
	// configured default; out-of-range values are clamped.
	Timeout time.Duration

	Input *core.SolveInput
}

// Submission is the immediate answer to CreateAndExecuteJob. Cached
// submissions carry the prior result; otherwise the caller polls
// GetJobStatus with JobID.
type Submission struct {
	JobID  string
	Cached bool
	Result *core.SolveResult
}

// Orchestrator serializes optimization runs per company, bounds
// global solver concurrency, deduplicates identical requests through
// the fingerprint cache, and reconciles durable state after a crash.
//
// Construct one instance at process start and share it; the in-memory
// registry and lock manager do not coordinate across processes.
// Scaling out horizontally would require externalizing both into a
// shared coordination service.
type Orchestrator struct {
	storage  core.Storage
	solver   core.Solver
	registry *registry.Registry
	locks    *lock.Manager
	cfg      Config
	logger   *slog.Logger

	// admitMu makes the capacity check, lock acquisition, and
	// registration a single atomic step.
	admitMu sync.Mutex

	started atomic.Bool
	cron    *cron.Cron

	// events is a best-effort monitoring stream; sends never block
	// and drop when no consumer keeps up.
	events chan core.Event

	hookMu     sync.RWMutex
	onStart    []func(context.Context, *core.OptimizationJob)
	onComplete []func(context.Context, *core.OptimizationJob)
	onFail     []func(context.Context, *core.OptimizationJob, error)
	onCancel   []func(context.Context, *core.OptimizationJob)
}

// New creates an Orchestrator over the given storage and solver.
func New(storage core.Storage, solver core.Solver, opts ...Option) *Orchestrator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	reg := registry.New(cfg.MaxConcurrentJobs, cfg.Clock)
	return &Orchestrator{
		storage:  storage,
		solver:   solver,
		registry: reg,
		locks:    lock.NewManager(reg, cfg.Clock, cfg.StaleRunningThreshold, cfg.ConfirmationWindow),
		cfg:      cfg,
		logger:   cfg.Logger,
		events:   make(chan core.Event, 256),
	}
}

// Events returns the monitoring event stream. Delivery is
// best-effort: events are dropped when the channel is full.
func (o *Orchestrator) Events() <-chan core.Event {
	return o.events
}

func (o *Orchestrator) emit(ev core.Event) {
	select {
	case o.events <- ev:
	default:
	}
}

// Start runs the recovery sweep and begins the maintenance schedule.
// It must complete before the first submission; CreateAndExecuteJob
// refuses work until it has.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.started.Load() {
		return nil
	}

	if _, err := o.RecoverInterruptedJobs(ctx); err != nil {
		return fmt.Errorf("routeopt: recovery sweep: %w", err)
	}

	if o.cfg.MaintenanceSchedule != "" {
		c := cron.New()
		_, err := c.AddFunc(o.cfg.MaintenanceSchedule, o.maintain)
		if err != nil {
			return fmt.Errorf("routeopt: invalid maintenance schedule %q: %w", o.cfg.MaintenanceSchedule, err)
		}
		c.Start()
		o.cron = c
	}

	o.started.Store(true)
	return nil
}

// Stop halts the maintenance schedule and signals every in-flight
// job's cancellation context. In-flight runs finalize as cancelled
// through their normal paths.
func (o *Orchestrator) Stop() {
	o.started.Store(false)
	if o.cron != nil {
		o.cron.Stop()
	}
	o.registry.CancelAll()
}

// CreateAndExecuteJob admits and starts an optimization run.
//
// Identical resubmissions of a completed request are answered from
// the cache without creating a job, taking a lock, or invoking the
// solver. Otherwise the caller receives the new job's ID immediately
// and the solver runs asynchronously.
//
// Admission failures are expected outcomes: ErrTooManyJobs when the
// global ceiling is reached, ErrCompanyLocked when another run is
// active or pending confirmation for the company.
func (o *Orchestrator) CreateAndExecuteJob(ctx context.Context, req *Request) (*Submission, error) {
	if !o.started.Load() {
		return nil, core.ErrNotStarted
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	hash := fingerprint.Compute(req.ConfigurationID, req.VehicleIDs, req.DriverIDs, req.PendingOrderIDs)

	if cached, result, err := o.lookupCache(ctx, req.CompanyID, hash); err != nil {
		return nil, err
	} else if cached != nil {
		o.logger.Info("optimization served from cache",
			"company_id", req.CompanyID, "job_id", cached.ID, "input_hash", hash)
		return &Submission{JobID: cached.ID, Cached: true, Result: result}, nil
	}

	timeout := security.ClampTimeout(req.Timeout, o.cfg.DefaultTimeout)
	jobID := uuid.New().String()

	runCtx, err := o.admit(req.CompanyID, jobID)
	if err != nil {
		o.logger.Debug("optimization admission rejected",
			"company_id", req.CompanyID, "reason", err)
		return nil, err
	}

	job := &core.OptimizationJob{
		ID:              jobID,
		CompanyID:       req.CompanyID,
		ConfigurationID: req.ConfigurationID,
		Status:          core.StatusRunning,
		InputHash:       hash,
		TimeoutMs:       timeout.Milliseconds(),
	}
	if err := o.storage.CreateJob(ctx, job); err != nil {
		// Roll the in-memory admission back; nothing durable exists.
		o.registry.Unregister(jobID)
		o.locks.Release(req.CompanyID, jobID)
		return nil, fmt.Errorf("routeopt: create job: %w", err)
	}

	o.registry.SetTimeout(jobID, timeout, func() { o.handleTimeout(jobID) })

	o.logger.Info("optimization job started",
		"company_id", req.CompanyID, "job_id", jobID,
		"orders", len(req.PendingOrderIDs), "vehicles", len(req.VehicleIDs),
		"timeout", timeout)
	o.emit(&core.JobStarted{Job: job, Timestamp: o.cfg.Clock.Now()})
	o.fireStart(ctx, job)

	go o.runSolve(runCtx, job, req.Input)

	return &Submission{JobID: jobID, Cached: false}, nil
}

// admit performs capacity check, lock acquisition, and registration
// atomically, so two submissions racing through the same admission
// sequence cannot both pass.
func (o *Orchestrator) admit(companyID, jobID string) (context.Context, error) {
	o.admitMu.Lock()
	defer o.admitMu.Unlock()

	if !o.registry.CanStart() {
		return nil, core.ErrTooManyJobs
	}
	if !o.locks.Acquire(companyID, jobID) {
		return nil, core.ErrCompanyLocked
	}

	// The solver must outlive the submitting request's context.
	runCtx, err := o.registry.Register(context.Background(), jobID, companyID)
	if err != nil {
		o.locks.Release(companyID, jobID)
		return nil, err
	}
	return runCtx, nil
}

// runSolve invokes the solver and persists the terminal outcome. It
// owns the job's finalization unless a cancellation wins the
// unregister race first.
func (o *Orchestrator) runSolve(runCtx context.Context, job *core.OptimizationJob, input *core.SolveInput) {
	start := o.cfg.Clock.Now()

	solveCtx := jobctx.WithJob(runCtx, job, func(p int) { o.reportProgress(job.ID, p) })
	result, solveErr := o.invokeSolver(solveCtx, input)

	if !o.registry.Unregister(job.ID) {
		// A cancellation already finalized this job.
		return
	}

	// The submitting request is long gone; persistence gets its own
	// context so a caller hang-up cannot abort the terminal write.
	ctx := context.Background()

	switch {
	case runCtx.Err() != nil:
		o.finalizeCancelled(ctx, job, result)
	case solveErr != nil:
		o.finalizeFailed(ctx, job, solveErr)
	default:
		o.finalizeCompleted(ctx, job, result, o.cfg.Clock.Now().Sub(start))
	}
}

// invokeSolver shields the orchestrator from a panicking solver; a
// panic is terminal for the job like any other solver error.
func (o *Orchestrator) invokeSolver(ctx context.Context, input *core.SolveInput) (result *core.SolveResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("solver panic: %v", r)
		}
	}()
	return o.solver.Optimize(ctx, input)
}

func (o *Orchestrator) finalizeCompleted(ctx context.Context, job *core.OptimizationJob, result *core.SolveResult, took time.Duration) {
	payload, err := json.Marshal(result)
	if err != nil {
		o.finalizeFailed(ctx, job, fmt.Errorf("encode solver result: %w", err))
		return
	}

	if err := o.storage.Complete(ctx, job.ID, payload); err != nil {
		// Row stays running; the next boot's recovery sweep settles it.
		o.logger.Error("failed to persist completion",
			"job_id", job.ID, "company_id", job.CompanyID, "error", err)
		return
	}

	o.locks.MarkCompleted(job.CompanyID, job.ID)
	o.logger.Info("optimization job completed",
		"job_id", job.ID, "company_id", job.CompanyID, "took", took)
	o.emit(&core.JobCompleted{Job: job, Duration: took, Timestamp: o.cfg.Clock.Now()})
	o.fireComplete(ctx, job)
}

func (o *Orchestrator) finalizeFailed(ctx context.Context, job *core.OptimizationJob, solveErr error) {
	msg := security.SanitizeErrorMessage(solveErr.Error())
	if err := o.storage.Fail(ctx, job.ID, msg); err != nil {
		o.logger.Error("failed to persist failure",
			"job_id", job.ID, "company_id", job.CompanyID, "error", err)
	}

	o.locks.Release(job.CompanyID, job.ID)
	o.logger.Error("optimization job failed",
		"job_id", job.ID, "company_id", job.CompanyID, "error", solveErr)
	o.emit(&core.JobFailed{Job: job, Error: solveErr, Timestamp: o.cfg.Clock.Now()})
	o.fireFail(ctx, job, solveErr)
}

func (o *Orchestrator) finalizeCancelled(ctx context.Context, job *core.OptimizationJob, partial *core.SolveResult) {
	var payload []byte
	if partial != nil {
		payload, _ = json.Marshal(partial)
	}

	if err := o.storage.Cancel(ctx, job.ID, payload); err != nil {
		o.logger.Error("failed to persist cancellation",
			"job_id", job.ID, "company_id", job.CompanyID, "error", err)
	}

	// A cancelled run made no commitment to the orders it was
	// consuming, so the lock is released in all cancel paths rather
	// than held for confirmation.
	o.locks.Release(job.CompanyID, job.ID)
	o.logger.Info("optimization job cancelled",
		"job_id", job.ID, "company_id", job.CompanyID, "partial", partial != nil)
	o.emit(&core.JobCancelled{Job: job, Partial: partial != nil, Timestamp: o.cfg.Clock.Now()})
	o.fireCancel(ctx, job)
}

// CancelJob cooperatively cancels a running job, optionally recording
// partial results. Returns ErrJobNotRunning when the job is not
// registered in this process, which callers may treat as an
// idempotent no-op.
//
// The solver is only signaled, never preempted: an implementation
// that ignores its context keeps computing in the background even
// though the job is already finalized as cancelled.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string, partial *core.SolveResult) error {
	if !o.registry.Cancel(jobID) {
		return core.ErrJobNotRunning
	}

	companyID := o.registry.CompanyID(jobID)
	if !o.registry.Unregister(jobID) {
		// The solver's finalize path won the race; the job is (or is
		// about to be) terminal either way.
		return nil
	}

	var payload []byte
	if partial != nil {
		payload, _ = json.Marshal(partial)
	}
	persistErr := o.storage.Cancel(ctx, jobID, payload)

	o.locks.Release(companyID, jobID)
	o.logger.Info("optimization job cancelled",
		"job_id", jobID, "company_id", companyID, "partial", partial != nil)

	if job, err := o.storage.GetJob(ctx, companyID, jobID); err == nil && job != nil {
		o.emit(&core.JobCancelled{Job: job, Partial: partial != nil, Timestamp: o.cfg.Clock.Now()})
		o.fireCancel(ctx, job)
	}

	if persistErr != nil {
		return fmt.Errorf("routeopt: persist cancellation: %w", persistErr)
	}
	return nil
}

// handleTimeout fires when a job's wall-clock budget elapses. Timeout
// is implemented as a cancellation, not a failure.
func (o *Orchestrator) handleTimeout(jobID string) {
	o.logger.Info("optimization job timed out", "job_id", jobID)
	if err := o.CancelJob(context.Background(), jobID, nil); err != nil && !errors.Is(err, core.ErrJobNotRunning) {
		o.logger.Error("timeout cancellation failed", "job_id", jobID, "error", err)
	}
}

// reportProgress persists a clamped solver progress report. Progress
// on a job past running is silently dropped by the storage guard.
func (o *Orchestrator) reportProgress(jobID string, progress int) {
	p := security.ClampProgress(progress)
	if err := o.storage.UpdateProgress(context.Background(), jobID, p); err != nil {
		o.logger.Debug("failed to persist progress", "job_id", jobID, "error", err)
		return
	}
	o.emit(&core.JobProgress{JobID: jobID, Progress: p, Timestamp: o.cfg.Clock.Now()})
}

// GetJobStatus returns the durable job row, scoped to the company.
func (o *Orchestrator) GetJobStatus(ctx context.Context, companyID, jobID string) (*core.OptimizationJob, error) {
	job, err := o.storage.GetJob(ctx, companyID, jobID)
	if err != nil {
		return nil, fmt.Errorf("routeopt: get job: %w", err)
	}
	if job == nil {
		return nil, core.ErrJobNotFound
	}
	return job, nil
}

// GetCachedResult returns the most recent completed result for the
// fingerprint, or (nil, nil) when none exists. A stored result that
// fails to decode is a cache miss, not an error.
func (o *Orchestrator) GetCachedResult(ctx context.Context, companyID, inputHash string) (*core.SolveResult, error) {
	_, result, err := o.lookupCache(ctx, companyID, inputHash)
	return result, err
}

func (o *Orchestrator) lookupCache(ctx context.Context, companyID, inputHash string) (*core.OptimizationJob, *core.SolveResult, error) {
	job, err := o.storage.LatestCompletedByHash(ctx, companyID, inputHash)
	if err != nil {
		return nil, nil, fmt.Errorf("routeopt: cache lookup: %w", err)
	}
	if job == nil || len(job.Result) == 0 {
		return nil, nil, nil
	}

	var result core.SolveResult
	if err := json.Unmarshal(job.Result, &result); err != nil {
		o.logger.Warn("cached result failed to decode, treating as miss",
			"job_id", job.ID, "company_id", companyID, "error", err)
		return nil, nil, nil
	}
	return job, &result, nil
}

// RecoverInterruptedJobs resolves jobs left running by a prior crash,
// transitioning them to failed. Runs once per process start, before
// submissions are admitted.
func (o *Orchestrator) RecoverInterruptedJobs(ctx context.Context) ([]string, error) {
	ids, err := o.storage.FailInterrupted(ctx, interruptedMessage)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		o.logger.Info("recovered interrupted optimization jobs",
			"count", len(ids), "job_ids", ids)
		o.emit(&core.RecoveryCompleted{JobIDs: ids, Timestamp: o.cfg.Clock.Now()})
	}
	return ids, nil
}

// IsAborting reports whether a job's cancellation has been signaled.
// Solver checkpoints may poll this by ID instead of checking ctx.
func (o *Orchestrator) IsAborting(jobID string) bool {
	return o.registry.IsAborting(jobID)
}

// RunningCount returns the number of jobs running in this process.
func (o *Orchestrator) RunningCount() int {
	return o.registry.RunningCount()
}

// maintain is the periodic expired-lock sweep.
func (o *Orchestrator) maintain() {
	if released := o.locks.SweepExpired(); released > 0 {
		o.logger.Info("released expired company locks", "count", released)
	}
}

func validateRequest(req *Request) error {
	switch {
	case req == nil, req.CompanyID == "":
		return core.ErrMissingCompanyID
	case req.ConfigurationID == "":
		return core.ErrMissingConfigurationID
	case len(req.PendingOrderIDs) == 0:
		return core.ErrEmptyOrderList
	case len(req.VehicleIDs) == 0:
		return core.ErrEmptyVehicleList
	}

	if err := security.ValidateID(req.CompanyID); err != nil {
		return err
	}
	if err := security.ValidateID(req.ConfigurationID); err != nil {
		return err
	}
	for _, ids := range [][]string{req.VehicleIDs, req.DriverIDs, req.PendingOrderIDs} {
		if err := security.ValidateIDList(ids); err != nil {
			return err
		}
	}
	return nil
}

// Hook registration. Hooks run synchronously after the corresponding
// durable write.

// OnStart registers a hook invoked when a job is admitted.
func (o *Orchestrator) OnStart(fn func(context.Context, *core.OptimizationJob)) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.onStart = append(o.onStart, fn)
}

// OnComplete registers a hook invoked when a job completes.
func (o *Orchestrator) OnComplete(fn func(context.Context, *core.OptimizationJob)) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.onComplete = append(o.onComplete, fn)
}

// OnFail registers a hook invoked when a job fails.
func (o *Orchestrator) OnFail(fn func(context.Context, *core.OptimizationJob, error)) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.onFail = append(o.onFail, fn)
}

// OnCancel registers a hook invoked when a job is cancelled.
func (o *Orchestrator) OnCancel(fn func(context.Context, *core.OptimizationJob)) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.onCancel = append(o.onCancel, fn)
}

func (o *Orchestrator) fireStart(ctx context.Context, job *core.OptimizationJob) {
	o.hookMu.RLock()
	hooks := o.onStart
	o.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, job)
	}
}

func (o *Orchestrator) fireComplete(ctx context.Context, job *core.OptimizationJob) {
	o.hookMu.RLock()
	hooks := o.onComplete
	o.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, job)
	}
}

func (o *Orchestrator) fireFail(ctx context.Context, job *core.OptimizationJob, err error) {
	o.hookMu.RLock()
	hooks := o.onFail
	o.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, job, err)
	}
}

func (o *Orchestrator) fireCancel(ctx context.Context, job *core.OptimizationJob) {
	o.hookMu.RLock()
	hooks := o.onCancel
	o.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, job)
	}
}
