// Package notifications delivers operator alerts via ntfy.
//
// Alerts cover permanent task failures, orphaned digests, optional delivery
// confirmations, and a test message. Each category can be switched off in the
// [notifications] config section. Without a topic the service is a no-op, so
// pipeline code publishes unconditionally.
package notifications
