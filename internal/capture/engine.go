package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voicecap/internal/audio"
	"github.com/skypro1111/voicecap/internal/metrics"
	"github.com/skypro1111/voicecap/internal/source"
	"github.com/skypro1111/voicecap/internal/storage"
)

var (
	// ErrNotActive is returned by Step and Finish when no session is running.
	ErrNotActive = errors.New("no capture session is active")
	// ErrEmptyCapture is returned by Finish when no audio data was recorded.
	ErrEmptyCapture = errors.New("recording contains no audio data")
	// ErrShortWrite is returned when storage accepts fewer bytes than requested.
	ErrShortWrite = errors.New("short write")
	// ErrSourceUnavailable wraps failures of the sample source.
	ErrSourceUnavailable = errors.New("sample source unavailable")
	// ErrFileMismatch is returned when Step or Finish names a different file
	// than the active session.
	ErrFileMismatch = errors.New("file does not match active session")
)

// Config holds the capture parameters.
type Config struct {
	SampleRate    int
	BitsPerSample int
	Gain          int
	FrameSamples  int
	// SilenceProbe replaces a near-silent first frame with a 1 kHz tone so a
	// wired but idle source can be told apart from a dead one.
	SilenceProbe bool
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.BitsPerSample != 8 && c.BitsPerSample != 16 {
		return fmt.Errorf("bits per sample must be 8 or 16, got %d", c.BitsPerSample)
	}
	if c.Gain < audio.GainMin || c.Gain > audio.GainMax {
		return fmt.Errorf("gain must be between %d and %d, got %d", audio.GainMin, audio.GainMax, c.Gain)
	}
	if c.FrameSamples <= 0 {
		return fmt.Errorf("frame samples must be positive, got %d", c.FrameSamples)
	}
	return nil
}

// Session is the state of one recording from Start to Finish.
type Session struct {
	ID        uuid.UUID `json:"id"`
	Filename  string    `json:"filename"`
	StartedAt time.Time `json:"started_at"`
	Frames    int       `json:"frames"`
	DataBytes int64     `json:"data_bytes"`

	firstFrameSeen bool
}

// Engine records frames from a sample source into a container file.
// At most one session is active per engine.
type Engine struct {
	cfg       Config
	header    audio.WAVHeader
	source    source.Source
	store     storage.Store
	finalizer *Finalizer
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// opMu serialises Start, Step and Finish and is held across the source
	// read. mu guards session and is only held briefly, so Active and
	// Session never wait on a blocked source.
	opMu    sync.Mutex
	mu      sync.Mutex
	session *Session

	frame []int16
	buf   []byte
}

// NewEngine creates a capture engine. m may be nil.
func NewEngine(cfg Config, src source.Source, store storage.Store, logger *slog.Logger, m *metrics.Metrics) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture config: %w", err)
	}

	header, err := audio.NewWAVHeader(cfg.SampleRate, cfg.BitsPerSample)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		header:    header,
		source:    src,
		store:     store,
		finalizer: NewFinalizer(store, logger),
		logger:    logger,
		metrics:   m,
		frame:     make([]int16, cfg.FrameSamples),
		buf:       make([]byte, 0, cfg.FrameSamples*2),
	}, nil
}

// FrameBytes returns the number of container bytes one full frame produces.
func (e *Engine) FrameBytes() int {
	return e.cfg.FrameSamples * e.header.BytesPerSample()
}

// Active reports whether a session is running.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

// Session returns a copy of the active session, or nil when idle.
func (e *Engine) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	s := *e.session
	return &s
}

// Start begins a new recording in filename. Any stale file of that name is
// removed and replaced by a header with zeroed length fields. Calling Start
// while a session is active does nothing.
func (e *Engine) Start(ctx context.Context, filename string) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if e.session != nil {
		if e.session.Filename != filename {
			e.logger.Warn("Start ignored, another recording is active",
				slog.String("active_file", e.session.Filename),
				slog.String("requested_file", filename))
		}
		return nil
	}

	if err := e.store.Remove(ctx, filename); err != nil {
		e.metrics.RecordCaptureError("start")
		return fmt.Errorf("failed to remove stale recording: %w", err)
	}

	w, err := e.store.Create(ctx, filename)
	if err != nil {
		e.metrics.RecordCaptureError("start")
		return fmt.Errorf("failed to create recording: %w", err)
	}
	writeErr := writeFull(w, e.header.Bytes())
	closeErr := w.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		e.metrics.RecordCaptureError("start")
		return fmt.Errorf("failed to write header: %w", err)
	}

	session := &Session{
		ID:        uuid.New(),
		Filename:  filename,
		StartedAt: time.Now(),
	}
	e.mu.Lock()
	e.session = session
	e.mu.Unlock()
	e.metrics.RecordSessionStarted()

	e.logger.Info("Recording started",
		slog.String("session_id", session.ID.String()),
		slog.String("file", filename),
		slog.Int("sample_rate", e.cfg.SampleRate),
		slog.Int("bits_per_sample", e.cfg.BitsPerSample),
		slog.Int("gain", e.cfg.Gain))

	return nil
}

// Step reads one frame from the source, transforms it and appends it to the
// recording. It blocks until the source delivers the frame. A failed step
// leaves the session active and the file valid up to the previous frame.
func (e *Engine) Step(ctx context.Context, filename string) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	// Only holders of opMu replace e.session, so it is stable from here on.
	session := e.session
	if session == nil {
		return ErrNotActive
	}
	if session.Filename != filename {
		return fmt.Errorf("%w: %s", ErrFileMismatch, filename)
	}

	n, err := e.source.Read(ctx, e.frame)
	if err != nil {
		e.metrics.RecordCaptureError("source")
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	samples := e.frame[:n]

	e.mu.Lock()
	first := !session.firstFrameSeen
	session.firstFrameSeen = true
	e.mu.Unlock()

	if first && e.cfg.SilenceProbe && audio.IsNearSilent(samples) {
		audio.FillTone(samples, audio.ProbeToneHz, e.cfg.SampleRate, audio.ProbeToneAmplitude)
		e.logger.Info("First frame near-silent, substituted probe tone",
			slog.String("session_id", session.ID.String()))
	}

	audio.ApplyGain(samples, e.cfg.Gain)
	e.buf = audio.EncodeFrame(e.buf[:0], samples, e.cfg.BitsPerSample)

	w, err := e.store.Append(ctx, filename)
	if err != nil {
		e.metrics.RecordCaptureError("append")
		return fmt.Errorf("failed to open recording for append: %w", err)
	}
	writeErr := writeFull(w, e.buf)
	closeErr := w.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		e.metrics.RecordCaptureError("append")
		return fmt.Errorf("failed to append frame: %w", err)
	}

	e.mu.Lock()
	session.Frames++
	session.DataBytes += int64(len(e.buf))
	e.mu.Unlock()
	e.metrics.RecordFrame(len(e.buf))

	return nil
}

// Finish ends the session, patches the container header and returns the
// recorded duration in seconds. A recording without audio data is an error.
func (e *Engine) Finish(ctx context.Context, filename string) (float64, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	session := e.session
	if session == nil {
		return 0, ErrNotActive
	}
	if session.Filename != filename {
		return 0, fmt.Errorf("%w: %s", ErrFileMismatch, filename)
	}

	e.mu.Lock()
	e.session = nil
	e.mu.Unlock()
	e.metrics.RecordSessionEnded()

	size, err := e.store.Size(ctx, filename)
	if err != nil {
		e.metrics.RecordCaptureError("finish")
		return 0, fmt.Errorf("failed to stat recording: %w", err)
	}

	dataBytes := size - audio.HeaderSize
	if dataBytes <= 0 {
		e.metrics.RecordCaptureError("finish")
		return 0, ErrEmptyCapture
	}
	duration := e.header.DurationSeconds(dataBytes)

	if err := e.finalizer.Finalize(ctx, filename); err != nil {
		e.metrics.RecordFinalizeFailure()
		return 0, fmt.Errorf("failed to finalize recording: %w", err)
	}

	e.metrics.RecordRecording(duration)
	e.logger.Info("Recording finished",
		slog.String("session_id", session.ID.String()),
		slog.String("file", filename),
		slog.Int("frames", session.Frames),
		slog.Int64("data_bytes", dataBytes),
		slog.Float64("duration_seconds", duration),
		slog.Duration("wall_time", time.Since(session.StartedAt)))

	return duration, nil
}
