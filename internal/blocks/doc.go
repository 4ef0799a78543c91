// Package blocks owns the lifecycle of recorded blocks.
//
// Tracker validates every status change against the forward order and writes it as
// a compare-and-swap, inserting the next pipeline task in the same transaction.
// When a block completes, the tracker runs the completion trigger for its reporting
// unit. The TRANSCRIBE and SUMMARIZE task handlers live here as well.
package blocks
