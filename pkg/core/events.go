package core

import "time"

// Event is the interface for all orchestrator events.
type Event interface {
	eventMarker()
}

// JobStarted is emitted when a job is admitted and the solver invoked.
type JobStarted struct {
	Job       *OptimizationJob
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// JobCompleted is emitted when a job completes successfully.
type JobCompleted struct {
	Job       *OptimizationJob
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when the solver fails; terminal, no retry.
type JobFailed struct {
	Job       *OptimizationJob
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobCancelled is emitted on explicit cancellation or timeout.
type JobCancelled struct {
	Job       *OptimizationJob
	Partial   bool // partial solver results were persisted
	Timestamp time.Time
}

func (*JobCancelled) eventMarker() {}

// JobProgress is emitted for each persisted progress update.
type JobProgress struct {
	JobID     string
	Progress  int
	Timestamp time.Time
}

func (*JobProgress) eventMarker() {}

// RecoveryCompleted is emitted after the startup recovery sweep.
type RecoveryCompleted struct {
	JobIDs    []string
	Timestamp time.Time
}

func (*RecoveryCompleted) eventMarker() {}
