package source

import (
	"context"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVFile replays the PCM content of a WAV file as capture input.
// Multi-channel input is averaged down to mono and 8-bit input is widened to 16 bits.
type WAVFile struct {
	r    io.ReadSeeker
	loop bool

	dec *wav.Decoder
	buf *audio.IntBuffer

	sampleRate int
	channels   int
	bitDepth   int
}

// NewWAVFile validates r as a WAV file and positions it at the start of the PCM data.
// When loop is set the file restarts from the beginning instead of reporting ErrExhausted.
func NewWAVFile(r io.ReadSeeker, loop bool) (*WAVFile, error) {
	w := &WAVFile{r: r, loop: loop}
	if err := w.rewind(); err != nil {
		return nil, err
	}
	return w, nil
}

// SampleRate returns the sample rate declared by the file.
func (w *WAVFile) SampleRate() int {
	return w.sampleRate
}

func (w *WAVFile) rewind() error {
	if _, err := w.r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind wav file: %w", err)
	}

	dec := wav.NewDecoder(w.r)
	if !dec.IsValidFile() {
		return fmt.Errorf("not a valid wav file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return fmt.Errorf("failed to locate pcm data: %w", err)
	}
	if dec.NumChans == 0 {
		return fmt.Errorf("wav file declares zero channels")
	}

	w.dec = dec
	w.sampleRate = int(dec.SampleRate)
	w.channels = int(dec.NumChans)
	w.bitDepth = int(dec.BitDepth)
	return nil
}

// Read fills frame with the next mono samples of the file.
func (w *WAVFile) Read(ctx context.Context, frame []int16) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	need := len(frame) * w.channels
	if w.buf == nil || cap(w.buf.Data) < need {
		w.buf = &audio.IntBuffer{
			Format: &audio.Format{NumChannels: w.channels, SampleRate: w.sampleRate},
			Data:   make([]int, need),
		}
	}
	w.buf.Data = w.buf.Data[:need]

	n, err := w.fill()
	if err != nil {
		return 0, err
	}
	if n == 0 && w.loop {
		if err := w.rewind(); err != nil {
			return 0, err
		}
		if n, err = w.fill(); err != nil {
			return 0, err
		}
	}
	if n == 0 {
		return 0, ErrExhausted
	}

	samples := n / w.channels
	for i := 0; i < samples; i++ {
		sum := 0
		for c := 0; c < w.channels; c++ {
			sum += w.widen(w.buf.Data[i*w.channels+c])
		}
		frame[i] = int16(sum / w.channels)
	}
	return samples, nil
}

func (w *WAVFile) fill() (int, error) {
	n, err := w.dec.PCMBuffer(w.buf)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("failed to decode wav data: %w", err)
	}
	return n, nil
}

func (w *WAVFile) widen(v int) int {
	switch w.bitDepth {
	case 8:
		return (v - 128) << 8
	case 24:
		return v >> 8
	case 32:
		return v >> 16
	default:
		return v
	}
}
