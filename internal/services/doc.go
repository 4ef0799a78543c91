// Package services defines shared utilities consumed by the task handlers and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, block IDs, task types, worker
//     identities, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that let the worker decide
//     whether a failure is worth retrying.
//
// Subpackages hold the thin HTTP clients for speech-to-text and summarization.
package services
