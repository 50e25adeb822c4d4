// Package stages holds the fixed pipeline stage table: for each stage, the
// artifact it consumes, the artifact that marks it done, the pattern the
// worker's output is matched with, and where that output is moved.
//
// The table is built once and passed to discovery, dispatch, and
// reconciliation so all three agree on the same definitions.
package stages
