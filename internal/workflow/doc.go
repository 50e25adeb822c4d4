// Package workflow runs controller ticks.
//
// A tick acquires the single-flight lock, resumes the pending snapshot or asks
// discovery for the next item, skips when a container of the stage image is
// already running, dispatches the stage worker and settles its output. The
// snapshot is cleared only after settlement, so a crash at any point resumes
// the same item on the next tick; a resumed item is settled first and only
// dispatched again when nothing settles.
//
// Every tick ends with one summary log line carrying its Outcome. Items that
// fail max_attempts dispatches without settling are held with a marker file
// that discovery honours until an operator releases it.
//
// Assemble wires the production components from configuration.
package workflow
