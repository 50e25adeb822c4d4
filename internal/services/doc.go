// Package services defines shared utilities consumed by the pipeline
// components.
//
// Key responsibilities:
//   - Context helpers that stamp tick identifiers, stage names, and work item
//     keys for logging.
//   - Structured error markers plus the Wrap helper so the controller can tell
//     routine outcomes (worker failed, artifact missing) from failures that
//     should surface as a non-zero exit.
//
// Use these helpers when wiring new component logic so error handling and
// observability stay uniform across the pipeline.
package services
