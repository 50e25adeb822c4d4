// Package devices picks the accelerator a worker runs on.
//
// Readings are taken fresh on every dispatch; the device with the most free
// memory wins, ties go to the higher compute capability and then the lower
// index. Devices at or above the configured capability run in half precision.
// When no accelerator can be read the selection falls back to CPU.
package devices
