// Package orchestrator implements the execution core for process graphs.
//
// The orchestrator:
//   - Validates graphs and manages run lifecycle (start, monitor, cancel, timeout)
//   - Routes events to edges, evaluating condition lists in declaration order
//   - Tracks join windows per run and fires each group once per completed round
//   - Applies state updates, emits events and turns invocations into process messages
//   - Routes runtime errors through node hooks and graph-level handlers
//
// Events of one run are serialized by a per-run lock; runs are independent of each other.
// Process messages and bus publications are delivered after the lock is released, and
// step results re-enter through HandleStepResult / HandleStepFailure.
package orchestrator
