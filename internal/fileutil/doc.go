// Package fileutil holds the filesystem primitives the pipeline relies on for
// crash safety: verified copies, atomic replace-by-rename writes, and moves
// that fall back to copy-then-rename across filesystems.
package fileutil
