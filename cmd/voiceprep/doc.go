// Package main hosts the voiceprep CLI.
//
// Running the binary with no subcommand performs one controller tick, which
// is how cron or a systemd timer drives the pipeline. The remaining commands
// inspect state (status, history, devices, doctor) or repair it (release)
// without taking the tick lock.
package main
