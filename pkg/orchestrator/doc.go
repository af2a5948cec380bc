// Package orchestrator provides the optimization job lifecycle
// controller.
//
// This package includes:
//   - Orchestrator: admission control, cached-result lookup, tenant
//     locking, asynchronous solver invocation, cancellation and
//     timeout handling, and the startup recovery sweep
//   - Option: functional configuration (concurrency ceiling, lock
//     windows, timeout bounds, clock and logger injection)
//   - Hook registration for job lifecycle events
//
// Most users should import the root package github.com/mkrausse/routeopt
// which re-exports Orchestrator and all option functions.
package orchestrator
