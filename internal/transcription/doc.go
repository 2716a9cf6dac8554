// Package transcription uploads finished recordings to a speech-to-text
// service and classifies the reply.
//
// The client speaks just enough HTTP/1.1 over a raw TLS stream to send one
// POST with a known Content-Length, stream the container in fixed-size
// chunks, and poll for the reply under a deadline measured from the end of
// the upload. Replies are classified into a tagged Result: transcript,
// server error, no speech, connect failure, timeout or upload failure.
package transcription
