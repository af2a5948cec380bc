package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mkrausse/routeopt/pkg/clock"
	"github.com/mkrausse/routeopt/pkg/core"
	"github.com/mkrausse/routeopt/pkg/jobctx"
	"github.com/mkrausse/routeopt/pkg/storage"
)

const waitFor = 2 * time.Second

var resultFixture = &core.SolveResult{
	Routes: []core.Route{{
		VehicleID:         "v1",
		VehicleIdentifier: "VAN-1",
		Stops:             []core.Stop{{OrderID: "o1", Sequence: 1}},
		TotalDistance:     1200,
	}},
	Metrics: core.Metrics{TotalRoutes: 1, TotalStops: 1},
}

// stubSolver counts invocations and can be told to block, fail, or
// honor cancellation.
type stubSolver struct {
	mu      sync.Mutex
	calls   int
	release chan struct{} // nil means return immediately
	result  *core.SolveResult
	err     error
	waitCtx bool // block on ctx and return (result, ctx.Err())
}

func (s *stubSolver) Optimize(ctx context.Context, _ *core.SolveInput) (*core.SolveResult, error) {
	s.mu.Lock()
	s.calls++
	release := s.release
	s.mu.Unlock()

	if s.waitCtx {
		<-ctx.Done()
		return s.result, ctx.Err()
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

func (s *stubSolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestStorage(t *testing.T) *storage.GormStorage {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")

	s := storage.NewGormStorage(db)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

func newTestOrchestrator(t *testing.T, solver core.Solver, opts ...Option) (*Orchestrator, *storage.GormStorage, *clock.Manual) {
	t.Helper()
	store := newTestStorage(t)
	clk := clock.NewManual(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

	base := []Option{
		WithClock(clk),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		MaintenanceSchedule(""), // cron runs on wall time; keep tests deterministic
	}
	o := New(store, solver, append(base, opts...)...)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(o.Stop)
	return o, store, clk
}

func newRequest(companyID string) *Request {
	return &Request{
		CompanyID:       companyID,
		ConfigurationID: "cfg-1",
		VehicleIDs:      []string{"v1", "v2"},
		DriverIDs:       []string{"d1"},
		PendingOrderIDs: []string{"o1", "o2", "o3"},
		Timeout:         30 * time.Second,
		Input:           &core.SolveInput{},
	}
}

func waitForStatus(t *testing.T, o *Orchestrator, companyID, jobID string, want core.JobStatus) *core.OptimizationJob {
	t.Helper()
	var job *core.OptimizationJob
	require.Eventually(t, func() bool {
		var err error
		job, err = o.GetJobStatus(context.Background(), companyID, jobID)
		return err == nil && job.Status == want
	}, waitFor, 5*time.Millisecond, "job %s never reached %s", jobID, want)
	return job
}

// ---------------------------------------------------------------------------
// Admission and validation
// ---------------------------------------------------------------------------

func TestCreateAndExecuteJob_RefusedBeforeStart(t *testing.T) {
	store := newTestStorage(t)
	o := New(store, &stubSolver{result: resultFixture})

	_, err := o.CreateAndExecuteJob(context.Background(), newRequest("acme"))
	assert.ErrorIs(t, err, core.ErrNotStarted)
}

func TestCreateAndExecuteJob_Validation(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &stubSolver{result: resultFixture})
	ctx := context.Background()

	cases := []struct {
		name    string
		mutate  func(*Request)
		wantErr error
	}{
		{"missing company", func(r *Request) { r.CompanyID = "" }, core.ErrMissingCompanyID},
		{"missing configuration", func(r *Request) { r.ConfigurationID = "" }, core.ErrMissingConfigurationID},
		{"no orders", func(r *Request) { r.PendingOrderIDs = nil }, core.ErrEmptyOrderList},
		{"no vehicles", func(r *Request) { r.VehicleIDs = nil }, core.ErrEmptyVehicleList},
		{"bad order id", func(r *Request) { r.PendingOrderIDs = []string{"ok", "bad id"} }, core.ErrInvalidID},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := newRequest("acme")
			tc.mutate(req)
			_, err := o.CreateAndExecuteJob(ctx, req)
			assert.ErrorIs(t, err, tc.wantErr)

			// Precondition failures leave no durable rows.
			jobs, err := o.storage.ListByStatus(ctx, "acme", core.StatusRunning, 10)
			require.NoError(t, err)
			assert.Empty(t, jobs)
		})
	}
}

func TestCreateAndExecuteJob_ConcurrencyCeiling(t *testing.T) {
	solver := &stubSolver{release: make(chan struct{}), result: resultFixture}
	o, store, _ := newTestOrchestrator(t, solver, MaxConcurrent(2))
	ctx := context.Background()

	_, err := o.CreateAndExecuteJob(ctx, newRequest("c1"))
	require.NoError(t, err)
	_, err = o.CreateAndExecuteJob(ctx, newRequest("c2"))
	require.NoError(t, err)
	assert.Equal(t, 2, o.RunningCount())

	_, err = o.CreateAndExecuteJob(ctx, newRequest("c3"))
	assert.ErrorIs(t, err, core.ErrTooManyJobs)

	// The rejected submission must not have created a row.
	jobs, err := store.ListByStatus(ctx, "c3", core.StatusRunning, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	// A finished job frees a slot.
	close(solver.release)
	require.Eventually(t, func() bool { return o.RunningCount() == 0 }, waitFor, 5*time.Millisecond)

	_, err = o.CreateAndExecuteJob(ctx, newRequest("c3"))
	assert.NoError(t, err)
}

func TestCreateAndExecuteJob_CompanyLockConflict(t *testing.T) {
	solver := &stubSolver{release: make(chan struct{}), result: resultFixture}
	o, _, _ := newTestOrchestrator(t, solver)
	ctx := context.Background()

	first, err := o.CreateAndExecuteJob(ctx, newRequest("acme"))
	require.NoError(t, err)
	require.False(t, first.Cached)

	req := newRequest("acme")
	req.PendingOrderIDs = []string{"o9"} // different input, same company
	_, err = o.CreateAndExecuteJob(ctx, req)
	assert.ErrorIs(t, err, core.ErrCompanyLocked)

	// Another company is unaffected.
	_, err = o.CreateAndExecuteJob(ctx, newRequest("globex"))
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Completion and the confirmation window
// ---------------------------------------------------------------------------

func TestJobLifecycle_Completed(t *testing.T) {
	solver := &stubSolver{result: resultFixture}
	o, _, clk := newTestOrchestrator(t, solver)
	ctx := context.Background()

	sub, err := o.CreateAndExecuteJob(ctx, newRequest("acme"))
	require.NoError(t, err)
	require.False(t, sub.Cached)

	job := waitForStatus(t, o, "acme", sub.JobID, core.StatusCompleted)
	assert.Equal(t, 100, job.Progress)
	assert.NotNil(t, job.CompletedAt)
	assert.Nil(t, job.CancelledAt)
	assert.NotEmpty(t, job.Result)
	assert.Equal(t, 0, o.RunningCount(), "registry entry removed on completion")

	// The lock is retained through the confirmation window.
	req2 := newRequest("acme")
	req2.PendingOrderIDs = []string{"o9"}
	_, err = o.CreateAndExecuteJob(ctx, req2)
	assert.ErrorIs(t, err, core.ErrCompanyLocked)

	clk.Advance(DefaultConfirmationWindow + time.Second)
	_, err = o.CreateAndExecuteJob(ctx, req2)
	assert.NoError(t, err, "confirmation window elapsed")
}

func TestJobLifecycle_SolverFailure(t *testing.T) {
	solver := &stubSolver{err: errors.New("no feasible solution")}
	o, _, _ := newTestOrchestrator(t, solver)
	ctx := context.Background()

	sub, err := o.CreateAndExecuteJob(ctx, newRequest("acme"))
	require.NoError(t, err)

	job := waitForStatus(t, o, "acme", sub.JobID, core.StatusFailed)
	assert.Equal(t, "no feasible solution", job.Error)
	assert.NotNil(t, job.CompletedAt)
	assert.Nil(t, job.CancelledAt)

	// Failure releases the lock immediately, no confirmation window.
	_, err = o.CreateAndExecuteJob(ctx, newRequest("acme"))
	assert.NoError(t, err)
}

func TestJobLifecycle_SolverPanic(t *testing.T) {
	solver := core.SolverFunc(func(context.Context, *core.SolveInput) (*core.SolveResult, error) {
		panic("segfault in native solver")
	})
	o, _, _ := newTestOrchestrator(t, solver)

	sub, err := o.CreateAndExecuteJob(context.Background(), newRequest("acme"))
	require.NoError(t, err)

	job := waitForStatus(t, o, "acme", sub.JobID, core.StatusFailed)
	assert.Contains(t, job.Error, "solver panic")
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

func TestCacheIdempotence(t *testing.T) {
	solver := &stubSolver{result: resultFixture}
	o, _, _ := newTestOrchestrator(t, solver)
	ctx := context.Background()

	first, err := o.CreateAndExecuteJob(ctx, newRequest("acme"))
	require.NoError(t, err)
	waitForStatus(t, o, "acme", first.JobID, core.StatusCompleted)

	// Same membership, shuffled order: identical fingerprint.
	req := newRequest("acme")
	req.PendingOrderIDs = []string{"o3", "o1", "o2"}
	req.VehicleIDs = []string{"v2", "v1"}

	second, err := o.CreateAndExecuteJob(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.JobID, second.JobID)
	require.NotNil(t, second.Result)
	assert.Equal(t, resultFixture.Metrics.TotalRoutes, second.Result.Metrics.TotalRoutes)
	assert.Equal(t, 1, solver.callCount(), "cache hit must not invoke the solver")
}

func TestCache_MissOnDifferentInput(t *testing.T) {
	solver := &stubSolver{result: resultFixture}
	o, _, clk := newTestOrchestrator(t, solver)
	ctx := context.Background()

	first, err := o.CreateAndExecuteJob(ctx, newRequest("acme"))
	require.NoError(t, err)
	waitForStatus(t, o, "acme", first.JobID, core.StatusCompleted)
	clk.Advance(DefaultConfirmationWindow + time.Second)

	req := newRequest("acme")
	req.PendingOrderIDs = []string{"o1", "o2"} // membership changed
	second, err := o.CreateAndExecuteJob(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Cached)
}

func TestCache_CorruptStoredResultIsAMiss(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, &stubSolver{result: resultFixture})
	ctx := context.Background()

	bad := &core.OptimizationJob{
		CompanyID: "acme", ConfigurationID: "cfg-1",
		Status: core.StatusCompleted, InputHash: "h1",
		Result: []byte("{not json"),
	}
	require.NoError(t, store.CreateJob(ctx, bad))

	result, err := o.GetCachedResult(ctx, "acme", "h1")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestGetCachedResult_Hit(t *testing.T) {
	solver := &stubSolver{result: resultFixture}
	o, _, _ := newTestOrchestrator(t, solver)
	ctx := context.Background()

	sub, err := o.CreateAndExecuteJob(ctx, newRequest("acme"))
	require.NoError(t, err)
	job := waitForStatus(t, o, "acme", sub.JobID, core.StatusCompleted)

	result, err := o.GetCachedResult(ctx, "acme", job.InputHash)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Len(t, result.Routes, 1)

	// Other tenants cannot see it.
	result, err = o.GetCachedResult(ctx, "globex", job.InputHash)
	require.NoError(t, err)
	assert.Nil(t, result)
}

// ---------------------------------------------------------------------------
// Cancellation and timeout
// ---------------------------------------------------------------------------

func TestCancelJob_PersistsPartialAndReleasesLock(t *testing.T) {
	solver := &stubSolver{release: make(chan struct{}), result: resultFixture}
	o, _, _ := newTestOrchestrator(t, solver)
	ctx := context.Background()

	sub, err := o.CreateAndExecuteJob(ctx, newRequest("acme"))
	require.NoError(t, err)

	partial := &core.SolveResult{Metrics: core.Metrics{TotalRoutes: 1}}
	require.NoError(t, o.CancelJob(ctx, sub.JobID, partial))

	job := waitForStatus(t, o, "acme", sub.JobID, core.StatusCancelled)
	assert.NotNil(t, job.CancelledAt)
	assert.Nil(t, job.CompletedAt)
	assert.NotEmpty(t, job.Result, "partial result retained")
	assert.Equal(t, 0, o.RunningCount())

	// Cancelled runs release the company lock immediately.
	_, err = o.CreateAndExecuteJob(ctx, newRequest("acme"))
	assert.NoError(t, err)
}

func TestCancelJob_UnknownJob(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &stubSolver{result: resultFixture})
	err := o.CancelJob(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, core.ErrJobNotRunning)
}

func TestCancelJob_TerminalStateIsSticky(t *testing.T) {
	solver := &stubSolver{release: make(chan struct{}), result: resultFixture}
	o, _, _ := newTestOrchestrator(t, solver)
	ctx := context.Background()

	sub, err := o.CreateAndExecuteJob(ctx, newRequest("acme"))
	require.NoError(t, err)
	require.NoError(t, o.CancelJob(ctx, sub.JobID, nil))
	waitForStatus(t, o, "acme", sub.JobID, core.StatusCancelled)

	// The solver was blocked on release; let it finish now. Its late
	// completion must not overwrite the cancelled row.
	close(solver.release)
	time.Sleep(20 * time.Millisecond)

	job, err := o.GetJobStatus(ctx, "acme", sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, job.Status)
	assert.Empty(t, job.Result)
}

func TestTimeout_CancelsJobAndSkipsCache(t *testing.T) {
	// 5s budget, solver never finishes on its
	// own; the run must end cancelled, free the lock, and a
	// resubmission must not be served from cache.
	solver := &stubSolver{waitCtx: true, result: resultFixture}
	o, _, clk := newTestOrchestrator(t, solver)
	ctx := context.Background()

	req := newRequest("acme")
	req.Timeout = 5 * time.Second
	sub, err := o.CreateAndExecuteJob(ctx, req)
	require.NoError(t, err)

	clk.Advance(4 * time.Second)
	job, err := o.GetJobStatus(ctx, "acme", sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, job.Status)

	clk.Advance(2 * time.Second)
	job = waitForStatus(t, o, "acme", sub.JobID, core.StatusCancelled)
	assert.NotNil(t, job.CancelledAt)
	assert.EqualValues(t, 5000, job.TimeoutMs)

	// No completed row exists, so the identical resubmission runs
	// the solver again instead of hitting the cache.
	resub, err := o.CreateAndExecuteJob(ctx, req)
	require.NoError(t, err)
	assert.False(t, resub.Cached)
	require.Eventually(t, func() bool { return solver.callCount() == 2 }, waitFor, 5*time.Millisecond)
}

func TestTimeout_IsClampedToSaneRange(t *testing.T) {
	solver := &stubSolver{waitCtx: true}
	o, _, _ := newTestOrchestrator(t, solver)

	req := newRequest("acme")
	req.Timeout = time.Millisecond
	sub, err := o.CreateAndExecuteJob(context.Background(), req)
	require.NoError(t, err)

	job, err := o.GetJobStatus(context.Background(), "acme", sub.JobID)
	require.NoError(t, err)
	assert.EqualValues(t, time.Second.Milliseconds(), job.TimeoutMs)
}

// ---------------------------------------------------------------------------
// Progress
// ---------------------------------------------------------------------------

func TestProgress_ReportedViaJobContext(t *testing.T) {
	progressed := make(chan struct{})
	release := make(chan struct{})
	solver := core.SolverFunc(func(ctx context.Context, _ *core.SolveInput) (*core.SolveResult, error) {
		jobctx.ReportProgress(ctx, 37)
		close(progressed)
		<-release
		return resultFixture, nil
	})
	o, _, _ := newTestOrchestrator(t, solver)
	ctx := context.Background()

	sub, err := o.CreateAndExecuteJob(ctx, newRequest("acme"))
	require.NoError(t, err)

	<-progressed
	require.Eventually(t, func() bool {
		job, err := o.GetJobStatus(ctx, "acme", sub.JobID)
		return err == nil && job.Progress == 37 && job.Status == core.StatusRunning
	}, waitFor, 5*time.Millisecond)

	close(release)
	waitForStatus(t, o, "acme", sub.JobID, core.StatusCompleted)
}

func TestProgress_OutOfRangeIsClamped(t *testing.T) {
	release := make(chan struct{})
	solver := core.SolverFunc(func(ctx context.Context, _ *core.SolveInput) (*core.SolveResult, error) {
		jobctx.ReportProgress(ctx, 250)
		<-release
		return resultFixture, nil
	})
	o, _, _ := newTestOrchestrator(t, solver)
	ctx := context.Background()

	sub, err := o.CreateAndExecuteJob(ctx, newRequest("acme"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := o.GetJobStatus(ctx, "acme", sub.JobID)
		return err == nil && job.Progress == 100
	}, waitFor, 5*time.Millisecond)
	close(release)
}

// ---------------------------------------------------------------------------
// Abort polling
// ---------------------------------------------------------------------------

func TestIsAborting(t *testing.T) {
	solver := &stubSolver{release: make(chan struct{}), result: resultFixture}
	o, _, _ := newTestOrchestrator(t, solver)
	ctx := context.Background()

	sub, err := o.CreateAndExecuteJob(ctx, newRequest("acme"))
	require.NoError(t, err)
	assert.False(t, o.IsAborting(sub.JobID))
	assert.False(t, o.IsAborting("ghost"))
}

// ---------------------------------------------------------------------------
// Hooks and events
// ---------------------------------------------------------------------------

func TestHooks_CompleteLifecycle(t *testing.T) {
	solver := &stubSolver{result: resultFixture}
	o, _, _ := newTestOrchestrator(t, solver)

	var mu sync.Mutex
	var seen []string
	o.OnStart(func(_ context.Context, j *core.OptimizationJob) {
		mu.Lock()
		seen = append(seen, "start:"+j.ID)
		mu.Unlock()
	})
	o.OnComplete(func(_ context.Context, j *core.OptimizationJob) {
		mu.Lock()
		seen = append(seen, "complete:"+j.ID)
		mu.Unlock()
	})

	sub, err := o.CreateAndExecuteJob(context.Background(), newRequest("acme"))
	require.NoError(t, err)
	waitForStatus(t, o, "acme", sub.JobID, core.StatusCompleted)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, waitFor, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start:" + sub.JobID, "complete:" + sub.JobID}, seen)
}

func TestHooks_FailAndCancel(t *testing.T) {
	solver := &stubSolver{err: errors.New("boom")}
	o, _, _ := newTestOrchestrator(t, solver)

	failed := make(chan error, 1)
	o.OnFail(func(_ context.Context, _ *core.OptimizationJob, err error) { failed <- err })

	sub, err := o.CreateAndExecuteJob(context.Background(), newRequest("acme"))
	require.NoError(t, err)
	waitForStatus(t, o, "acme", sub.JobID, core.StatusFailed)

	select {
	case err := <-failed:
		assert.EqualError(t, err, "boom")
	case <-time.After(waitFor):
		t.Fatal("OnFail hook never ran")
	}
}

func TestEvents_StartedAndCompleted(t *testing.T) {
	solver := &stubSolver{result: resultFixture}
	o, _, _ := newTestOrchestrator(t, solver)

	sub, err := o.CreateAndExecuteJob(context.Background(), newRequest("acme"))
	require.NoError(t, err)
	waitForStatus(t, o, "acme", sub.JobID, core.StatusCompleted)

	var kinds []string
	for len(kinds) < 2 {
		select {
		case ev := <-o.Events():
			switch ev.(type) {
			case *core.JobStarted:
				kinds = append(kinds, "started")
			case *core.JobCompleted:
				kinds = append(kinds, "completed")
			}
		case <-time.After(waitFor):
			t.Fatalf("expected started+completed events, got %v", kinds)
		}
	}
	assert.Equal(t, []string{"started", "completed"}, kinds)
}

// ---------------------------------------------------------------------------
// Status lookup
// ---------------------------------------------------------------------------

func TestGetJobStatus_NotFound(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &stubSolver{result: resultFixture})

	_, err := o.GetJobStatus(context.Background(), "acme", "ghost")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestGetJobStatus_OtherCompanyCannotRead(t *testing.T) {
	solver := &stubSolver{result: resultFixture}
	o, _, _ := newTestOrchestrator(t, solver)
	ctx := context.Background()

	sub, err := o.CreateAndExecuteJob(ctx, newRequest("acme"))
	require.NoError(t, err)
	waitForStatus(t, o, "acme", sub.JobID, core.StatusCompleted)

	_, err = o.GetJobStatus(ctx, "globex", sub.JobID)
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}
