// Package core provides the fundamental types and interfaces for the routeopt package.
//
// This package contains:
//   - OptimizationJob data model with GORM annotations
//   - Storage interface defining the persistence contract
//   - Solver interface and the solve input/result payload types
//   - Event types for orchestrator monitoring
//   - Error values for admission and lifecycle failures
//
// Most users should import the root package github.com/mkrausse/routeopt
// instead of this package directly.
package core
