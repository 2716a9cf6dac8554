// Package vad scores recordings for voice activity by RMS energy.
// The pipeline uses it to skip uploading recordings that contain only silence.
package vad
