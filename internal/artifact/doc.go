// Package artifact validates the files a stage consumes and produces: single
// audio files, directories of audio clips, and text transcripts.
package artifact
