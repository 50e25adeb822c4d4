// Package workitem defines the task descriptor handed from discovery to the
// dispatcher and reconciler, and its snapshot encoding.
//
// A WorkItem restored from a snapshot derives exactly the same paths as one
// constructed fresh from the same identity, so a resumed tick operates on the
// same directories the interrupted tick used.
package workitem
