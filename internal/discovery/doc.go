// Package discovery derives the next unit of work from the pipeline tree.
//
// Progress lives entirely in the filesystem: a stage is pending for an item
// when its input artifact validates and its output artifact does not. Stages
// are scanned in catalog order across every character before the next stage
// is considered, so earlier stages always drain first. Characters and
// candidates are visited in lexicographic order, which makes the result
// deterministic for an unchanged tree.
//
// Items that exhausted their dispatch attempts carry a hidden hold marker and
// are skipped until released.
package discovery
