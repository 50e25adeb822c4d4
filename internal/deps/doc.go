// Package deps checks that the external binaries voiceprep shells out to are
// installed: the container runtime, ffprobe and the accelerator query tool.
package deps
