package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/voicecap/internal/archive"
	"github.com/skypro1111/voicecap/internal/capture"
	"github.com/skypro1111/voicecap/internal/config"
	"github.com/skypro1111/voicecap/internal/history"
	"github.com/skypro1111/voicecap/internal/metrics"
	"github.com/skypro1111/voicecap/internal/pipeline"
	"github.com/skypro1111/voicecap/internal/source"
	"github.com/skypro1111/voicecap/internal/storage"
	"github.com/skypro1111/voicecap/internal/transcription"
)

// app holds the wired components shared by record and run.
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    *storage.Local
	engine   *capture.Engine
	client   *transcription.Client
	history  *history.Store
	pipeline *pipeline.Pipeline

	closers []io.Closer
}

func newRegistry() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewMetrics(reg)
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry, a.metrics = newRegistry()

	a.store, err = storage.NewLocal(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	src, err := a.newSource(cfg.Source, cfg.Capture.SampleRate, logger)
	if err != nil {
		return nil, err
	}

	a.engine, err = capture.NewEngine(captureConfig(cfg.Capture), src, a.store, logger, a.metrics)
	if err != nil {
		return nil, err
	}

	a.client, err = transcription.NewClient(transcriptionConfig(cfg.Transcription), a.store, logger, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcription client: %w", err)
	}
	a.closers = append(a.closers, a.client)

	var opts []pipeline.Option
	if cfg.Archive.Enabled {
		archiver, err := archive.NewS3FromConfig(ctx, cfg.Archive, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithArchiver(archiver))
	}
	if cfg.History.Enabled {
		a.history, err = history.Open(ctx, cfg.History, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		a.closers = append(a.closers, a.history)
		opts = append(opts, pipeline.WithHistory(a.history))
	}

	a.pipeline, err = pipeline.New(pipeline.Config{
		Filename:     cfg.Capture.File,
		Duration:     cfg.Capture.GetRecordingDuration(),
		MinDuration:  cfg.Capture.GetMinDuration(),
		StepDelay:    cfg.Capture.GetStepDelay(),
		SkipSilent:   cfg.Transcription.SkipSilent,
		VADThreshold: float32(cfg.Transcription.VADThreshold),
	}, a.engine, a.client, a.store, logger, a.metrics, opts...)
	if err != nil {
		return nil, err
	}

	logger.Info("Components initialized",
		slog.String("storage_dir", a.store.Root()),
		slog.String("source", cfg.Source.Type),
		slog.String("transcription_endpoint", a.client.Address()),
		slog.Bool("archive", cfg.Archive.Enabled),
		slog.Bool("history", cfg.History.Enabled))

	return a, nil
}

// newSource builds the configured sample source, paced to real time if asked.
func (a *app) newSource(cfg config.SourceConfig, sampleRate int, logger *slog.Logger) (source.Source, error) {
	var src source.Source
	switch cfg.Type {
	case "silence":
		src = source.Silence{}
	case "tone":
		src = source.NewTone(cfg.ToneFrequency, cfg.ToneAmplitude, sampleRate)
	case "wav":
		f, err := os.Open(cfg.WAVPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open source file: %w", err)
		}
		a.closers = append(a.closers, f)
		wf, err := source.NewWAVFile(f, cfg.Loop)
		if err != nil {
			return nil, fmt.Errorf("failed to read source file %s: %w", cfg.WAVPath, err)
		}
		if wf.SampleRate() != sampleRate {
			logger.Warn("Source file sample rate differs from capture rate, audio will play at the wrong speed",
				slog.Int("file_rate", wf.SampleRate()),
				slog.Int("capture_rate", sampleRate))
		}
		src = wf
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}

	if cfg.Realtime {
		src = source.NewPaced(src, sampleRate)
	}
	return src, nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func captureConfig(cfg config.CaptureConfig) capture.Config {
	return capture.Config{
		SampleRate:    cfg.SampleRate,
		BitsPerSample: cfg.BitsPerSample,
		Gain:          cfg.Gain,
		FrameSamples:  cfg.FrameSamples,
		SilenceProbe:  cfg.SilenceProbe,
	}
}

func transcriptionConfig(cfg config.TranscriptionConfig) transcription.Config {
	return transcription.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		Path:               cfg.Path,
		APIKey:             cfg.APIKey,
		AuthScheme:         cfg.AuthScheme,
		Model:              cfg.Model,
		Language:           cfg.Language,
		SmartFormat:        cfg.SmartFormat,
		Keywords:           cfg.Keywords,
		TLS:                cfg.TLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		ConnectTimeout:     cfg.GetConnectTimeout(),
		ResponseTimeout:    cfg.GetResponseTimeout(),
		PollInterval:       cfg.GetPollInterval(),
		ChunkSize:          cfg.ChunkSize,
	}
}
