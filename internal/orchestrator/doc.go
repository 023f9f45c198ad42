// Package orchestrator drives the external worker over a dataset, one
// restaurant at a time, and runs the recovery pass when a run is interrupted.
//
// A Run owns its CollectedSet exclusively: the loop appends to it after each
// successful worker exit and the recovery pass reads it only after the loop
// has stopped, so no locking is involved.
package orchestrator
