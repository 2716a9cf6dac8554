// Package history keeps a SQLite log of capture cycles and their
// transcription outcomes.
package history
