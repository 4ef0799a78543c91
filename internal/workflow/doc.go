// Package workflow runs the pipeline worker pool.
//
// The Manager starts a configurable number of worker goroutines. Each one claims
// the highest-priority pending task from the store, keeps its lease alive with a
// heartbeat while the registered stage handler runs, and finalizes the task from
// the handler's Outcome through the retry policy. A separate loop reclaims leases
// whose worker disappeared. Any number of processes may run managers against the
// same database; every hand-off between them goes through single-statement claims.
//
// Register a handler per task type before calling Start.
package workflow
