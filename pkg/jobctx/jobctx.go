// Package jobctx provides solver code access to the job it is running
// under, via the context the orchestrator passes into Optimize.
package jobctx

import (
	"context"

	"github.com/mkrausse/routeopt/pkg/core"
)

type jobContextKey struct{}

type jobContext struct {
	job      *core.OptimizationJob
	progress func(int)
}

// WithJob attaches a job and its progress reporter to a context. Used
// by the orchestrator before invoking the solver.
func WithJob(ctx context.Context, job *core.OptimizationJob, progress func(int)) context.Context {
	return context.WithValue(ctx, jobContextKey{}, &jobContext{job: job, progress: progress})
}

// JobFromContext returns the current OptimizationJob, or nil when not
// inside a solver invocation. Use this for logging or correlation.
func JobFromContext(ctx context.Context) *core.OptimizationJob {
	if jc, ok := ctx.Value(jobContextKey{}).(*jobContext); ok {
		return jc.job
	}
	return nil
}

// JobIDFromContext returns the current job ID, or empty string when
// not inside a solver invocation.
func JobIDFromContext(ctx context.Context) string {
	if job := JobFromContext(ctx); job != nil {
		return job.ID
	}
	return ""
}

// ReportProgress records intermediate solver progress (0-100). Values
// outside the range are clamped and out-of-order reports are applied
// last-write-wins. A no-op outside a solver invocation.
func ReportProgress(ctx context.Context, progress int) {
	if jc, ok := ctx.Value(jobContextKey{}).(*jobContext); ok && jc.progress != nil {
		jc.progress(progress)
	}
}
