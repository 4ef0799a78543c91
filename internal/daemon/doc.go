// Package daemon coordinates the long-running radiodigest process.
//
// It wires configuration, the SQLite store, the block tracker, the digest
// engine, and the workflow manager into a single lifecycle. A process runs in
// one of three roles: worker (claims and executes tasks), scheduler (time
// trigger and orphan sweep), or all. Any number of worker processes may share
// one store. The scheduler role holds a flock-based lock so only one time
// trigger runs per data directory.
//
// Keep orchestration logic here: pipeline steps live in their own packages
// while the daemon focuses on startup, shutdown, and high level coordination.
package daemon
