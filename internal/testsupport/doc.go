// Package testsupport provides fixtures shared by package tests: temp-rooted
// configs, fake audio files and validators, and a scripted stand-in for the
// container runtime.
package testsupport
