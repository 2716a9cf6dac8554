package source

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrExhausted is returned by finite sources once every sample has been delivered.
var ErrExhausted = errors.New("sample source exhausted")

// Source delivers fixed-size frames of signed 16-bit mono PCM.
//
// Read blocks until frame is filled or the source fails, and returns the
// number of samples written into frame.
type Source interface {
	Read(ctx context.Context, frame []int16) (int, error)
}

// Silence produces all-zero frames.
type Silence struct{}

// Read fills frame with zeros.
func (Silence) Read(ctx context.Context, frame []int16) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	clear(frame)
	return len(frame), nil
}

// Tone produces a continuous sine wave.
type Tone struct {
	Frequency  float64
	Amplitude  float64
	SampleRate int

	phase float64 // radians
}

// NewTone creates a tone source.
func NewTone(frequency, amplitude float64, sampleRate int) *Tone {
	return &Tone{Frequency: frequency, Amplitude: amplitude, SampleRate: sampleRate}
}

// Read fills frame with the next samples of the wave, continuing the phase
// from the previous call.
func (t *Tone) Read(ctx context.Context, frame []int16) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	step := 2 * math.Pi * t.Frequency / float64(t.SampleRate)
	for i := range frame {
		frame[i] = int16(math.Sin(t.phase) * t.Amplitude)
		t.phase = math.Mod(t.phase+step, 2*math.Pi)
	}
	return len(frame), nil
}

// Paced wraps a source so each Read takes at least the real-time duration of
// the frame, the way a hardware capture driver blocks on its DMA buffer.
type Paced struct {
	Source     Source
	SampleRate int

	next time.Time
}

// NewPaced creates a real-time paced wrapper around src.
func NewPaced(src Source, sampleRate int) *Paced {
	return &Paced{Source: src, SampleRate: sampleRate}
}

// Read reads from the wrapped source, then waits until the frame's wall-clock
// slot has elapsed.
func (p *Paced) Read(ctx context.Context, frame []int16) (int, error) {
	n, err := p.Source.Read(ctx, frame)
	if err != nil {
		return n, err
	}

	now := time.Now()
	if p.next.IsZero() || p.next.Before(now.Add(-time.Second)) {
		p.next = now
	}
	p.next = p.next.Add(time.Duration(n) * time.Second / time.Duration(p.SampleRate))

	wait := time.Until(p.next)
	if wait <= 0 {
		return n, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return n, nil
	case <-ctx.Done():
		return n, ctx.Err()
	}
}
