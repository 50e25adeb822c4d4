// Package reconcile settles a dispatched stage by moving the worker's output
// into the item directory.
//
// A stage counts as complete only once its destination artifact exists, so
// settlement moves rather than copies. Matches are validated before the move;
// invalid ones are logged and left for an operator. Slices are gathered in a
// hidden staging directory and published with a single rename.
package reconcile
