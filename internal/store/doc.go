// Package store persists blocks, tasks, digests, and send locks in SQLite.
//
// Every ownership decision is a single conditional statement: ClaimNext picks
// and leases a task in one UPDATE, ClaimDigest relies on the unique
// (program, date) key, and ClaimSendLock is one conditional upsert. Status
// changes that spawn follow-on work insert the follow-on task in the same
// transaction, so a crash never leaves a transition without its task.
//
// Timestamps are stored as fixed-width UTC text so lease and orphan cutoffs
// compare correctly in SQL. Schema changes bump schemaVersion; the database is
// moved aside to adopt a new schema.
package store
