// Package worker dispatches a work item to its stage's container image.
//
// The dispatcher binds the selected accelerator, mounts the host data root at
// the container root, and passes every path explicitly as an argument. Worker
// output is forwarded line by line to the log, tagged with the image, and the
// last lines are kept for failure reports. Before dispatch the controller asks
// Busy whether a container of the same image is already running.
//
// Executor is the seam tests use to replay worker behaviour without a
// container runtime.
package worker
