package audio

import (
	"encoding/binary"
	"math"
)

const (
	// GainMin and GainMax bound the software gain multiplier.
	GainMin = 1
	GainMax = 64

	// SilenceProbeSamples is how many leading samples of the first frame are inspected.
	SilenceProbeSamples = 10
	// SilenceThreshold is the absolute amplitude at or below which a sample counts as near-silent.
	SilenceThreshold = 100

	// ProbeToneHz and ProbeToneAmplitude describe the diagnostic tone.
	ProbeToneHz        = 1000.0
	ProbeToneAmplitude = 8000.0
)

// ApplyGain multiplies every sample by gain in place, saturating at the
// int16 bounds instead of wrapping. A gain of 1 or less leaves samples unchanged.
func ApplyGain(samples []int16, gain int) {
	if gain <= 1 {
		return
	}
	g := int32(gain)
	for i, s := range samples {
		boosted := int32(s) * g
		if boosted > math.MaxInt16 {
			boosted = math.MaxInt16
		} else if boosted < math.MinInt16 {
			boosted = math.MinInt16
		}
		samples[i] = int16(boosted)
	}
}

// Quantize8 maps a signed 16-bit sample onto unsigned 8-bit PCM.
// -32768 -> 0, 0 (silence) -> 128, 32767 -> 255.
func Quantize8(s int16) uint8 {
	return uint8((int32(s) + 32768) >> 8)
}

// Dequantize8 is the approximate inverse of Quantize8.
func Dequantize8(b uint8) int16 {
	return int16(int32(b)<<8 - 32768)
}

// EncodeFrame appends the samples to dst in the container's on-disk layout:
// little-endian int16 for 16-bit output, Quantize8 bytes for 8-bit output.
func EncodeFrame(dst []byte, samples []int16, bitsPerSample int) []byte {
	if bitsPerSample == 8 {
		for _, s := range samples {
			dst = append(dst, Quantize8(s))
		}
		return dst
	}

	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// DecodeFrame converts container data bytes back into signed 16-bit samples.
func DecodeFrame(data []byte, bitsPerSample int) []int16 {
	if bitsPerSample == 8 {
		samples := make([]int16, len(data))
		for i, b := range data {
			samples[i] = Dequantize8(b)
		}
		return samples
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// IsNearSilent reports whether every one of the first SilenceProbeSamples
// samples is within SilenceThreshold of zero.
func IsNearSilent(samples []int16) bool {
	n := len(samples)
	if n > SilenceProbeSamples {
		n = SilenceProbeSamples
	}
	for _, s := range samples[:n] {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v > SilenceThreshold {
			return false
		}
	}
	return true
}

// FillTone overwrites samples with a sine wave of the given frequency.
func FillTone(samples []int16, freq float64, sampleRate int, amplitude float64) {
	for i := range samples {
		angle := 2 * math.Pi * freq * float64(i) / float64(sampleRate)
		samples[i] = int16(math.Sin(angle) * amplitude)
	}
}
