// Package preflight provides readiness checks for the directories and
// container runtime voiceprep depends on.
//
// The "voiceprep doctor" command runs RunAll and CheckSystemDeps and exits
// non-zero when a required check fails. Ticks do not run these checks; a
// missing runtime surfaces there as a failed busy check instead.
package preflight
