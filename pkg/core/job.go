package core

import (
	"time"
)

// JobStatus represents the current state of an optimization job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a status permits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// OptimizationJob is the durable record of a single optimization run.
// Rows are created at submission, mutated in place as the run
// progresses, and never deleted (they are the audit trail).
type OptimizationJob struct {
	ID              string    `gorm:"primaryKey;size:36"`
	CompanyID       string    `gorm:"index:idx_company_hash;index;size:36;not null"`
	ConfigurationID string    `gorm:"size:36;not null"`
	Status          JobStatus `gorm:"index;size:20;default:'pending'"`

	// Progress is 0-100, non-decreasing while running.
	Progress int `gorm:"default:0"`

	// InputHash is the fingerprint of the normalized request, used
	// for cached-result lookup.
	InputHash string `gorm:"index:idx_company_hash;size:64"`

	// Result holds the serialized solver output once completed, or
	// partial output for a cancelled run.
	Result []byte `gorm:"type:bytes"`

	// Error holds the failure description for failed jobs.
	Error string `gorm:"type:text"`

	// TimeoutMs is the caller-supplied wall-clock budget.
	TimeoutMs int64 `gorm:"default:0"`

	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName keeps the table name aligned with the rest of the schema.
func (OptimizationJob) TableName() string {
	return "optimization_jobs"
}
