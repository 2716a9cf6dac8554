// Package audio handles the on-disk recording container and PCM sample transforms.
// It encodes and validates the fixed 44-byte WAV header, applies saturating gain
// and 8-bit requantization to captured frames, and inspects finished recordings.
package audio
