// Package scheduler runs the time-based digest trigger and the periodic orphan
// sweep.
//
// Each program declares a five-field cron expression. Once the expression has
// fired on or after the start of a reporting date, that date is due and the
// scheduler asks the completion detector to evaluate it. Dates inside the
// configured lookback window are re-evaluated on every tick, so a digest that
// could not be built at the scheduled time is picked up once its last block
// completes.
package scheduler
