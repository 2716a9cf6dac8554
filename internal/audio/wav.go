package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderSize is the size of the fixed RIFF/WAVE header that leads every recording.
const HeaderSize = 44

// ErrInvalidContainer is returned when a header or container cannot be parsed.
var ErrInvalidContainer = errors.New("invalid WAV container")

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// NewWAVHeader builds a mono PCM header with both length fields zeroed.
// The length fields are filled in once capture ends, see WithSizes.
func NewWAVHeader(sampleRate, bitsPerSample int) (WAVHeader, error) {
	if sampleRate <= 0 {
		return WAVHeader{}, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if bitsPerSample != 8 && bitsPerSample != 16 {
		return WAVHeader{}, fmt.Errorf("bits per sample must be 8 or 16, got %d", bitsPerSample)
	}

	numChannels := uint16(1)
	bps := uint16(bitsPerSample)

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bps) / 8,
		BlockAlign:    numChannels * bps / 8,
		BitsPerSample: bps,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
	}, nil
}

// WithSizes returns a copy of the header whose length fields describe a
// container of fileSize bytes. All other fields are left untouched.
func (h WAVHeader) WithSizes(fileSize int64) (WAVHeader, error) {
	if fileSize < HeaderSize {
		return h, fmt.Errorf("file size %d is smaller than the %d byte header", fileSize, HeaderSize)
	}
	if fileSize-8 > math.MaxUint32 {
		return h, fmt.Errorf("file size %d exceeds the WAV 4 GiB limit", fileSize)
	}

	h.ChunkSize = uint32(fileSize - 8)
	h.Subchunk2Size = uint32(fileSize - HeaderSize)
	return h, nil
}

// Bytes serializes the header into its 44-byte little-endian layout.
func (h WAVHeader) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	// Writes into a bytes.Buffer of a fixed-size struct cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// BytesPerSample returns the storage width of one sample.
func (h WAVHeader) BytesPerSample() int {
	return int(h.BitsPerSample) / 8
}

// DurationSeconds converts a data-chunk length into seconds of audio.
func (h WAVHeader) DurationSeconds(dataBytes int64) float64 {
	if h.SampleRate == 0 || h.BitsPerSample == 0 {
		return 0
	}
	return float64(dataBytes) / (float64(h.SampleRate) * float64(h.BytesPerSample()))
}

// ParseWAVHeader decodes and validates the leading 44 bytes of a container.
func ParseWAVHeader(data []byte) (WAVHeader, error) {
	var header WAVHeader
	if len(data) < HeaderSize {
		return header, fmt.Errorf("%w: need at least %d bytes, got %d", ErrInvalidContainer, HeaderSize, len(data))
	}

	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &header); err != nil {
		return header, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return header, fmt.Errorf("%w: missing RIFF header", ErrInvalidContainer)
	case string(header.Format[:]) != "WAVE":
		return header, fmt.Errorf("%w: missing WAVE format", ErrInvalidContainer)
	case string(header.Subchunk1ID[:]) != "fmt ":
		return header, fmt.Errorf("%w: missing fmt chunk", ErrInvalidContainer)
	case string(header.Subchunk2ID[:]) != "data":
		return header, fmt.Errorf("%w: missing data chunk", ErrInvalidContainer)
	case header.AudioFormat != 1:
		return header, fmt.Errorf("%w: unsupported audio format %d (only PCM is supported)", ErrInvalidContainer, header.AudioFormat)
	case header.NumChannels != 1:
		return header, fmt.Errorf("%w: unsupported channel count %d (only mono is supported)", ErrInvalidContainer, header.NumChannels)
	}

	return header, nil
}

// EncodeWAV encodes PCM-16 samples into a complete WAV container
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	header, err := NewWAVHeader(sampleRate, 16)
	if err != nil {
		return nil, err
	}

	header, err = header.WithSizes(int64(HeaderSize + len(samples)*2))
	if err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(samples)*2))
	buf.Write(header.Bytes())
	buf.Write(EncodeFrame(nil, samples, 16))

	return buf.Bytes(), nil
}
