// Package scheduler is the trigger engine and scheduler core.
//
// It owns the in-memory job table (job id → task + armed trigger), arms one
// trigger per persisted task on startup, and dispatches due firings to the
// execution pipeline on their own goroutines. Registration replaces any
// armed trigger with the same job id, so re-scheduling can never produce
// duplicate firings. All table mutations serialize on a single mutex.
package scheduler
