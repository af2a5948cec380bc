package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mkrausse/routeopt/pkg/core"
)

// GormStorage implements core.Storage using GORM.
//
// Every terminal transition is guarded with a `status = 'running'`
// predicate, so a row that has already reached completed, failed, or
// cancelled can never be transitioned again, regardless of how late a
// racing writer arrives.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB returns the underlying *gorm.DB.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.OptimizationJob{})
}

// CreateJob inserts a new job row. Missing ID and status are filled
// in; StartedAt is stamped for rows created directly in running.
func (s *GormStorage) CreateJob(ctx context.Context, job *core.OptimizationJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusPending
	}
	if job.Status == core.StatusRunning && job.StartedAt == nil {
		now := time.Now()
		job.StartedAt = &now
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// Complete marks a running job as successfully completed with its
// result payload and full progress.
func (s *GormStorage) Complete(ctx context.Context, jobID string, result []byte) error {
	now := time.Now()
	return s.db.WithContext(ctx).
		Model(&core.OptimizationJob{}).
		Where("id = ? AND status = ?", jobID, core.StatusRunning).
		Updates(map[string]any{
			"status":       core.StatusCompleted,
			"progress":     100,
			"result":       result,
			"completed_at": now,
		}).Error
}

// Fail marks a running job as failed with a human-readable message.
func (s *GormStorage) Fail(ctx context.Context, jobID string, errMsg string) error {
	now := time.Now()
	return s.db.WithContext(ctx).
		Model(&core.OptimizationJob{}).
		Where("id = ? AND status = ?", jobID, core.StatusRunning).
		Updates(map[string]any{
			"status":       core.StatusFailed,
			"error":        errMsg,
			"completed_at": now,
		}).Error
}

// Cancel marks a running job as cancelled, keeping whatever partial
// result the solver managed to produce.
func (s *GormStorage) Cancel(ctx context.Context, jobID string, partialResult []byte) error {
	now := time.Now()
	updates := map[string]any{
		"status":       core.StatusCancelled,
		"cancelled_at": now,
	}
	if partialResult != nil {
		updates["result"] = partialResult
	}
	return s.db.WithContext(ctx).
		Model(&core.OptimizationJob{}).
		Where("id = ? AND status = ?", jobID, core.StatusRunning).
		Updates(updates).Error
}

// UpdateProgress persists a progress report for a running job.
// Last write wins; rows past running are untouched.
func (s *GormStorage) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	return s.db.WithContext(ctx).
		Model(&core.OptimizationJob{}).
		Where("id = ? AND status = ?", jobID, core.StatusRunning).
		Update("progress", progress).Error
}

// GetJob retrieves a job by ID, scoped to its company. Returns
// (nil, nil) when no such row exists.
func (s *GormStorage) GetJob(ctx context.Context, companyID, jobID string) (*core.OptimizationJob, error) {
	var job core.OptimizationJob
	err := s.db.WithContext(ctx).
		First(&job, "id = ? AND company_id = ?", jobID, companyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// LatestCompletedByHash returns the most recently created completed
// job for the company and fingerprint, or (nil, nil) when none exists.
func (s *GormStorage) LatestCompletedByHash(ctx context.Context, companyID, inputHash string) (*core.OptimizationJob, error) {
	var job core.OptimizationJob
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND input_hash = ? AND status = ?", companyID, inputHash, core.StatusCompleted).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListByStatus retrieves a company's jobs by status, newest first.
func (s *GormStorage) ListByStatus(ctx context.Context, companyID string, status core.JobStatus, limit int) ([]*core.OptimizationJob, error) {
	var jobList []*core.OptimizationJob
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND status = ?", companyID, status).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobList).Error
	return jobList, err
}

// FailInterrupted bulk-transitions every running row to failed. Any
// running row at boot is necessarily orphaned by a prior crash, since
// the orchestrator runs single-process.
func (s *GormStorage) FailInterrupted(ctx context.Context, errMsg string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&core.OptimizationJob{}).
			Where("status = ?", core.StatusRunning).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		now := time.Now()
		return tx.Model(&core.OptimizationJob{}).
			Where("id IN ? AND status = ?", ids, core.StatusRunning).
			Updates(map[string]any{
				"status":       core.StatusFailed,
				"error":        errMsg,
				"completed_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
