package core

import (
	"errors"
)

// Admission rejections. These are expected outcomes the caller maps to
// rate-limit / conflict responses, never server errors.
var (
	// ErrTooManyJobs is returned when the global concurrency ceiling
	// is reached.
	ErrTooManyJobs = errors.New("routeopt: too many concurrent optimization jobs")

	// ErrCompanyLocked is returned when another optimization is
	// running or pending confirmation for the same company.
	ErrCompanyLocked = errors.New("routeopt: optimization already running or pending confirmation for this company")
)

// Lifecycle errors.
var (
	ErrJobNotFound   = errors.New("routeopt: job not found")
	ErrJobNotRunning = errors.New("routeopt: job not running in this process")
	ErrNotStarted    = errors.New("routeopt: orchestrator not started")
)

// Validation errors. Surfaced before any durable row is created.
var (
	ErrMissingCompanyID       = errors.New("routeopt: company id is required")
	ErrMissingConfigurationID = errors.New("routeopt: configuration id is required")
	ErrEmptyOrderList         = errors.New("routeopt: at least one pending order is required")
	ErrEmptyVehicleList       = errors.New("routeopt: at least one vehicle is required")
	ErrInvalidID              = errors.New("routeopt: invalid identifier")
	ErrIDListTooLarge         = errors.New("routeopt: identifier list exceeds size limit")
)
