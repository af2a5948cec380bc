package core

import (
	"context"
)

// Storage defines the persistence layer for optimization jobs.
//
// Durable status is the source of truth for the whole subsystem; the
// in-memory registry and lock manager are coordination optimizations
// that can be rebuilt from it. Implementations must guarantee that a
// terminal row (completed, failed, cancelled) is never transitioned
// again.
type Storage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Job lifecycle
	CreateJob(ctx context.Context, job *OptimizationJob) error
	Complete(ctx context.Context, jobID string, result []byte) error
	Fail(ctx context.Context, jobID string, errMsg string) error
	Cancel(ctx context.Context, jobID string, partialResult []byte) error
	UpdateProgress(ctx context.Context, jobID string, progress int) error

	// Queries; all reads are scoped to a company.
	GetJob(ctx context.Context, companyID, jobID string) (*OptimizationJob, error)
	LatestCompletedByHash(ctx context.Context, companyID, inputHash string) (*OptimizationJob, error)
	ListByStatus(ctx context.Context, companyID string, status JobStatus, limit int) ([]*OptimizationJob, error)

	// FailInterrupted transitions every running row (across all
	// companies) to failed with the given message, returning the IDs
	// affected. Used only by the startup recovery sweep.
	FailInterrupted(ctx context.Context, errMsg string) ([]string, error)
}
