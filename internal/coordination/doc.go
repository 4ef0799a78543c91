// Package coordination holds the authority switch that decides whether the
// completion trigger, the time trigger, or both may enqueue digest creation.
//
// The switch is parsed once from configuration and injected into the block
// tracker, the scheduler, and the completion detector. Claims in the store
// remain the safety net when both triggers are enabled.
package coordination
