package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/skypro1111/voicecap/internal/audio"
	"github.com/skypro1111/voicecap/internal/storage"
)

// copyChunkSize is the buffer size used when copying the data region.
const copyChunkSize = 512

// TempName returns the scratch name the finalizer writes next to name,
// e.g. "rec/Audio.wav" -> "rec/Audio_temp.wav".
func TempName(name string) string {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "_temp" + ext
}

// Finalizer patches the length fields of a finished recording.
//
// The corrected container is written to a temporary file and only moved over
// the original once every byte has been copied and the result has the
// expected size. Any failure removes the temporary file and leaves the
// original untouched.
type Finalizer struct {
	store  storage.Store
	logger *slog.Logger
}

// NewFinalizer creates a finalizer operating on store.
func NewFinalizer(store storage.Store, logger *slog.Logger) *Finalizer {
	return &Finalizer{store: store, logger: logger}
}

// Finalize rewrites name with length fields matching its current size.
func (f *Finalizer) Finalize(ctx context.Context, name string) error {
	size, err := f.store.Size(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to stat recording: %w", err)
	}

	temp := TempName(name)
	if err := f.store.Remove(ctx, temp); err != nil {
		return fmt.Errorf("failed to remove stale temp file: %w", err)
	}

	err = f.rewrite(ctx, name, temp, size)
	if err == nil {
		err = f.verify(ctx, temp, size)
	}
	if err != nil {
		if rmErr := f.store.Remove(ctx, temp); rmErr != nil {
			f.logger.Warn("Failed to remove temp file after finalize error",
				slog.String("temp", temp),
				slog.String("error", rmErr.Error()))
		}
		return err
	}

	if err := f.store.Rename(ctx, temp, name); err != nil {
		if rmErr := f.store.Remove(ctx, temp); rmErr != nil {
			f.logger.Warn("Failed to remove temp file after rename error",
				slog.String("temp", temp),
				slog.String("error", rmErr.Error()))
		}
		return fmt.Errorf("failed to replace recording: %w", err)
	}

	f.logger.Debug("Recording finalized",
		slog.String("file", name),
		slog.Int64("size_bytes", size),
		slog.Int64("data_bytes", size-audio.HeaderSize))

	return nil
}

func (f *Finalizer) rewrite(ctx context.Context, name, temp string, size int64) (err error) {
	src, err := f.store.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer src.Close()

	raw := make([]byte, audio.HeaderSize)
	if _, err := io.ReadFull(src, raw); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	header, err := audio.ParseWAVHeader(raw)
	if err != nil {
		return err
	}
	header, err = header.WithSizes(size)
	if err != nil {
		return err
	}

	dst, err := f.store.Create(ctx, temp)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if closeErr := dst.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close temp file: %w", closeErr)
		}
	}()

	if err := writeFull(dst, header.Bytes()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	buf := make([]byte, copyChunkSize)
	var copied int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if err := writeFull(dst, buf[:n]); err != nil {
				return fmt.Errorf("failed to copy data at offset %d: %w", copied, err)
			}
			copied += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("failed to read data at offset %d: %w", copied, readErr)
		}
	}

	if want := size - audio.HeaderSize; copied != want {
		return fmt.Errorf("%w: copied %d of %d data bytes", ErrShortWrite, copied, want)
	}
	return nil
}

// verify checks that the finished temp file matches the original length.
func (f *Finalizer) verify(ctx context.Context, temp string, want int64) error {
	got, err := f.store.Size(ctx, temp)
	if err != nil {
		return fmt.Errorf("failed to stat temp file: %w", err)
	}
	if got != want {
		return fmt.Errorf("%w: temp file is %d bytes, expected %d", ErrShortWrite, got, want)
	}
	return nil
}

func writeFull(w io.Writer, p []byte) error {
	n, err := w.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(p))
	}
	return nil
}
