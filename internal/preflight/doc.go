// Package preflight provides readiness checks for the filesystem and external
// services that radiodigest depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failed check so an
//     operator sees a misconfigured SMTP relay or LLM key before the first
//     digest is due.
//   - The CLI "radiodigest status" command renders the same results.
//
// Checks never modify state; a failed check is reported, not fatal.
package preflight
