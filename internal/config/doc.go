// Package config loads, normalizes, and validates voiceprep configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and derives the pipeline tree, log directory,
// lock sentinel and snapshot locations from the data root when they are not
// set explicitly. Validation aggregates every field problem into one error.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
