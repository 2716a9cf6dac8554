// Package pipeline runs capture cycles: record a file, finalize it, gate it
// on voice activity and hand it to the transcription client, then archive
// and log the outcome.
package pipeline
