// Package ffprobe wraps the ffprobe CLI to inspect audio files and decide
// whether a worker's output or an item's input is decodable audio.
package ffprobe
