package audio

import (
	"fmt"
	"io"
	"time"

	"github.com/go-audio/wav"
)

// Info describes a finished container as seen by a standard WAV decoder.
type Info struct {
	SampleRate    int           `json:"sample_rate"`
	Channels      int           `json:"channels"`
	BitsPerSample int           `json:"bits_per_sample"`
	AudioFormat   int           `json:"audio_format"`
	DataBytes     int64         `json:"data_size_bytes"`
	Duration      time.Duration `json:"duration"`
}

// Inspect decodes the container with go-audio/wav. A recording whose length
// fields were never patched is reported as invalid.
func Inspect(r io.ReadSeeker) (*Info, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: decoder rejected file", ErrInvalidContainer)
	}

	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContainer, err)
	}

	dataBytes := dec.PCMLen()
	if dataBytes <= 0 {
		return nil, fmt.Errorf("%w: empty data chunk", ErrInvalidContainer)
	}

	bytesPerSecond := int64(dec.SampleRate) * int64(dec.NumChans) * int64(dec.BitDepth) / 8
	if bytesPerSecond <= 0 {
		return nil, fmt.Errorf("%w: zero byte rate", ErrInvalidContainer)
	}
	duration := time.Duration(dataBytes) * time.Second / time.Duration(bytesPerSecond)

	return &Info{
		SampleRate:    int(dec.SampleRate),
		Channels:      int(dec.NumChans),
		BitsPerSample: int(dec.BitDepth),
		AudioFormat:   int(dec.WavAudioFormat),
		DataBytes:     dataBytes,
		Duration:      duration,
	}, nil
}
