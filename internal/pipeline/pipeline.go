package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voicecap/internal/archive"
	"github.com/skypro1111/voicecap/internal/audio"
	"github.com/skypro1111/voicecap/internal/history"
	"github.com/skypro1111/voicecap/internal/metrics"
	"github.com/skypro1111/voicecap/internal/source"
	"github.com/skypro1111/voicecap/internal/storage"
	"github.com/skypro1111/voicecap/internal/transcription"
	"github.com/skypro1111/voicecap/internal/vad"
)

// Outcomes that do not come from a transcription result.
const (
	OutcomeTooShort      = "too_short"
	OutcomeSilent        = "silent"
	OutcomeCaptureFailed = "capture_failed"
	OutcomeCancelled     = "cancelled"
)

// vadWindow is the analysis window length used by the voice gate.
const vadWindow = 20 * time.Millisecond

// Recorder is the capture side of a cycle. *capture.Engine satisfies it.
type Recorder interface {
	Start(ctx context.Context, filename string) error
	Step(ctx context.Context, filename string) error
	Finish(ctx context.Context, filename string) (float64, error)
	Active() bool
}

// Transcriber uploads a finished recording. *transcription.Client satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string) transcription.Result
	KeepAlive() bool
}

// HistoryWriter persists finished cycles. *history.Store satisfies it.
type HistoryWriter interface {
	Append(ctx context.Context, e history.Entry) (string, error)
}

// Config holds the pipeline parameters.
type Config struct {
	Filename     string
	Duration     time.Duration
	MinDuration  time.Duration
	StepDelay    time.Duration
	SkipSilent   bool
	VADThreshold float32
}

// Cycle is the record of one capture, finalize and transcribe pass.
type Cycle struct {
	ID              string        `json:"id"`
	Filename        string        `json:"filename"`
	StartedAt       time.Time     `json:"started_at"`
	DurationSeconds float64       `json:"duration_seconds"`
	Outcome         string        `json:"outcome"`
	Transcript      string        `json:"transcript,omitempty"`
	Message         string        `json:"message,omitempty"`
	ErrorCode       string        `json:"error_code,omitempty"`
	VoiceRatio      float64       `json:"voice_ratio"`
	ArchiveKey      string        `json:"archive_key,omitempty"`
	Latency         time.Duration `json:"latency"`
	Elapsed         time.Duration `json:"elapsed"`
	Error           string        `json:"error,omitempty"`

	// SourceExhausted is set when the sample source ran dry during capture.
	SourceExhausted bool `json:"source_exhausted,omitempty"`
}

// Stats summarises the cycles run so far.
type Stats struct {
	Cycles         uint64            `json:"cycles"`
	Outcomes       map[string]uint64 `json:"outcomes"`
	KeepAlives     uint64            `json:"keepalives"`
	Recording      bool              `json:"recording"`
	LastCycle      *Cycle            `json:"last_cycle,omitempty"`
	LastTranscript string            `json:"last_transcript,omitempty"`
}

// Pipeline drives capture cycles. Cycles are serialised so at most one
// recording and one transcription request exist at a time.
type Pipeline struct {
	cfg         Config
	recorder    Recorder
	transcriber Transcriber
	store       storage.Store
	archiver    archive.Archiver
	history     HistoryWriter
	logger      *slog.Logger
	metrics     *metrics.Metrics

	cycleMu sync.Mutex

	mu             sync.RWMutex
	cycles         uint64
	outcomes       map[string]uint64
	keepAlives     uint64
	lastCycle      *Cycle
	lastTranscript string
}

// Option configures optional collaborators.
type Option func(*Pipeline)

// WithArchiver uploads every finalized recording.
func WithArchiver(a archive.Archiver) Option {
	return func(p *Pipeline) { p.archiver = a }
}

// WithHistory logs every cycle.
func WithHistory(h HistoryWriter) Option {
	return func(p *Pipeline) { p.history = h }
}

// New creates a pipeline. m may be nil.
func New(cfg Config, recorder Recorder, transcriber Transcriber, store storage.Store, logger *slog.Logger, m *metrics.Metrics, opts ...Option) (*Pipeline, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("filename cannot be empty")
	}
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %v", cfg.Duration)
	}
	if cfg.MinDuration < 0 {
		return nil, fmt.Errorf("min duration cannot be negative, got %v", cfg.MinDuration)
	}
	if recorder == nil || transcriber == nil || store == nil {
		return nil, fmt.Errorf("recorder, transcriber and store are required")
	}

	p := &Pipeline{
		cfg:         cfg,
		recorder:    recorder,
		transcriber: transcriber,
		store:       store,
		logger:      logger,
		metrics:     m,
		outcomes:    make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the pipeline parameters.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// RunCycle records filename for duration, finalizes it and transcribes it.
// Cancelling ctx during capture ends the recording early without
// transcribing it. The returned error is non-nil only when the recording
// itself could not be made; transcription failures are reported in the
// cycle's Outcome.
func (p *Pipeline) RunCycle(ctx context.Context, filename string, duration time.Duration) (Cycle, error) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	cycle := Cycle{
		ID:        uuid.NewString(),
		Filename:  filename,
		StartedAt: time.Now(),
	}

	err := p.runCycle(ctx, &cycle, duration)
	if err != nil {
		cycle.Error = err.Error()
	}
	cycle.Elapsed = time.Since(cycle.StartedAt)

	p.record(ctx, &cycle)
	return cycle, err
}

func (p *Pipeline) runCycle(ctx context.Context, cycle *Cycle, duration time.Duration) error {
	filename := cycle.Filename

	if err := p.recorder.Start(ctx, filename); err != nil {
		cycle.Outcome = OutcomeCaptureFailed
		return fmt.Errorf("failed to start recording: %w", err)
	}

	stepErr := p.capture(ctx, filename, duration)
	if errors.Is(stepErr, source.ErrExhausted) {
		cycle.SourceExhausted = true
		stepErr = nil
	}

	// The recording is finalized even when capture was interrupted so the
	// file on disk is always a valid container.
	seconds, err := p.recorder.Finish(context.WithoutCancel(ctx), filename)
	cycle.DurationSeconds = seconds

	switch {
	case ctx.Err() != nil:
		cycle.Outcome = OutcomeCancelled
		return ctx.Err()
	case stepErr != nil:
		cycle.Outcome = OutcomeCaptureFailed
		return fmt.Errorf("capture failed: %w", errors.Join(stepErr, err))
	case err != nil:
		cycle.Outcome = OutcomeCaptureFailed
		return fmt.Errorf("failed to finish recording: %w", err)
	}

	if seconds < p.cfg.MinDuration.Seconds() {
		cycle.Outcome = OutcomeTooShort
		p.logger.Info("Recording too short, not transcribed",
			slog.String("file", filename),
			slog.Float64("duration_seconds", seconds),
			slog.Duration("min_duration", p.cfg.MinDuration))
		return nil
	}

	p.archive(ctx, cycle)

	if p.cfg.SkipSilent {
		analysis, err := p.analyze(ctx, filename)
		if err != nil {
			p.logger.Warn("Voice analysis failed, transcribing anyway",
				slog.String("file", filename),
				slog.String("error", err.Error()))
		} else {
			cycle.VoiceRatio = analysis.VoiceRatio
			skipped := !analysis.HasVoice()
			p.metrics.RecordVoiceRatio(analysis.VoiceRatio, skipped)
			if skipped {
				cycle.Outcome = OutcomeSilent
				p.logger.Info("No voice activity, not transcribed",
					slog.String("file", filename),
					slog.Float64("peak_rms", analysis.PeakRMS))
				return nil
			}
		}
	}

	res := p.transcriber.Transcribe(ctx, filename)
	cycle.Outcome = res.Kind.String()
	cycle.Transcript = res.Text
	cycle.Message = res.Message()
	cycle.ErrorCode = res.ErrorCode
	cycle.Latency = res.Latency
	if res.Err != nil {
		cycle.Error = res.Err.Error()
	}
	return nil
}

// capture steps the recorder until duration has elapsed or ctx is done.
func (p *Pipeline) capture(ctx context.Context, filename string, duration time.Duration) error {
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return nil
		}
		if err := p.recorder.Step(ctx, filename); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if p.cfg.StepDelay > 0 {
			if err := sleep(ctx, p.cfg.StepDelay); err != nil {
				return nil
			}
		}
	}
	return nil
}

// analyze runs voice activity detection over a finished recording.
func (p *Pipeline) analyze(ctx context.Context, filename string) (*vad.Analysis, error) {
	f, err := p.store.Open(ctx, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	if len(data) < audio.HeaderSize {
		return nil, audio.ErrInvalidContainer
	}
	header, err := audio.ParseWAVHeader(data[:audio.HeaderSize])
	if err != nil {
		return nil, err
	}

	sampleRate := int(header.SampleRate)
	window := int(time.Duration(sampleRate) * vadWindow / time.Second)
	processor, err := vad.NewProcessor(p.cfg.VADThreshold, window, sampleRate)
	if err != nil {
		return nil, err
	}

	samples := audio.DecodeFrame(data[audio.HeaderSize:], int(header.BitsPerSample))
	return processor.Analyze(samples)
}

func (p *Pipeline) archive(ctx context.Context, cycle *Cycle) {
	if p.archiver == nil {
		return
	}

	size, err := p.store.Size(ctx, cycle.Filename)
	if err == nil {
		var f storage.File
		f, err = p.store.Open(ctx, cycle.Filename)
		if err == nil {
			cycle.ArchiveKey, err = p.archiver.Archive(ctx, cycle.Filename, f, size)
			f.Close()
		}
	}
	if err != nil {
		p.metrics.RecordArchiveError()
		p.logger.Warn("Failed to archive recording",
			slog.String("file", cycle.Filename),
			slog.String("error", err.Error()))
	}
}

// record updates statistics, metrics and history for a finished cycle.
func (p *Pipeline) record(ctx context.Context, cycle *Cycle) {
	p.metrics.RecordCycle(cycle.Outcome)

	p.mu.Lock()
	p.cycles++
	p.outcomes[cycle.Outcome]++
	last := *cycle
	p.lastCycle = &last
	if cycle.Transcript != "" {
		p.lastTranscript = cycle.Transcript
	}
	p.mu.Unlock()

	p.logger.Info("Cycle finished",
		slog.String("cycle_id", cycle.ID),
		slog.String("outcome", cycle.Outcome),
		slog.String("message", cycle.Message),
		slog.Float64("duration_seconds", cycle.DurationSeconds),
		slog.Duration("elapsed", cycle.Elapsed))

	if p.history == nil || cycle.Outcome == OutcomeCaptureFailed {
		return
	}
	_, err := p.history.Append(context.WithoutCancel(ctx), history.Entry{
		ID:              cycle.ID,
		Filename:        cycle.Filename,
		DurationSeconds: cycle.DurationSeconds,
		Outcome:         cycle.Outcome,
		Transcript:      cycle.Transcript,
		Message:         cycle.Message,
		LatencyMS:       cycle.Latency.Milliseconds(),
		ArchiveKey:      cycle.ArchiveKey,
		CreatedAt:       cycle.StartedAt,
	})
	if err != nil {
		p.logger.Warn("Failed to write history",
			slog.String("cycle_id", cycle.ID),
			slog.String("error", err.Error()))
	}
}

// Run loops cycles on the configured file until ctx is done, the source is
// exhausted or cycles have run (0 means no limit). Between cycles it waits
// pause and keeps the transcription connection tidy.
func (p *Pipeline) Run(ctx context.Context, cycles int, pause time.Duration) error {
	p.logger.Info("Starting capture loop",
		slog.String("file", p.cfg.Filename),
		slog.Duration("duration", p.cfg.Duration),
		slog.Int("cycles", cycles),
		slog.Duration("pause", pause))

	for i := 0; cycles <= 0 || i < cycles; i++ {
		cycle, err := p.RunCycle(ctx, p.cfg.Filename, p.cfg.Duration)
		if ctx.Err() != nil {
			p.logger.Info("Capture loop stopped", slog.Int("completed", i))
			return nil
		}
		if err != nil {
			p.logger.Error("Cycle failed",
				slog.String("cycle_id", cycle.ID),
				slog.String("error", err.Error()))
		}
		if cycle.SourceExhausted {
			p.logger.Info("Sample source exhausted, stopping capture loop")
			return nil
		}
		if cycles > 0 && i == cycles-1 {
			break
		}
		p.idle(ctx, pause)
	}
	return nil
}

// idle tidies the transcription connection once and then waits for pause.
func (p *Pipeline) idle(ctx context.Context, pause time.Duration) {
	p.keepAlive()
	if pause <= 0 {
		return
	}
	_ = sleep(ctx, pause)
}

func (p *Pipeline) keepAlive() {
	if p.transcriber.KeepAlive() {
		p.mu.Lock()
		p.keepAlives++
		p.mu.Unlock()
	}
}

// Stats returns current pipeline statistics
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	outcomes := make(map[string]uint64, len(p.outcomes))
	for k, v := range p.outcomes {
		outcomes[k] = v
	}

	var last *Cycle
	if p.lastCycle != nil {
		c := *p.lastCycle
		last = &c
	}

	return Stats{
		Cycles:         p.cycles,
		Outcomes:       outcomes,
		KeepAlives:     p.keepAlives,
		Recording:      p.recorder.Active(),
		LastCycle:      last,
		LastTranscript: p.lastTranscript,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
