package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/skypro1111/voicecap/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, maxEntries int) *Store {
	t.Helper()
	cfg := config.HistoryConfig{
		Enabled:    true,
		Path:       filepath.Join(t.TempDir(), "nested", "history.db"),
		MaxEntries: maxEntries,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndRecent(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()

	id, err := s.Append(ctx, Entry{
		Filename:        "Audio.wav",
		DurationSeconds: 1.5,
		Outcome:         "transcript",
		Transcript:      "hello world",
		Message:         "hello world",
		LatencyMS:       820,
		ArchiveKey:      "recordings/2026/03/07/x-Audio.wav",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated id")
	}

	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ID != id || e.Transcript != "hello world" || e.LatencyMS != 820 || e.DurationSeconds != 1.5 {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be set")
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, outcome := range []string{"too_short", "no_speech", "transcript"} {
		if _, err := s.Append(ctx, Entry{
			Filename:  "Audio.wav",
			Outcome:   outcome,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Outcome != "transcript" || entries[1].Outcome != "no_speech" {
		t.Fatalf("expected newest first, got %s, %s", entries[0].Outcome, entries[1].Outcome)
	}
	if !entries[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("unexpected timestamp %v", entries[0].CreatedAt)
	}
}

func TestRecentEmpty(t *testing.T) {
	s := openStore(t, 0)
	entries, err := s.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", entries)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	s := openStore(t, 2)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, Entry{
			Filename:  "Audio.wav",
			Outcome:   "transcript",
			LatencyMS: int64(i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after prune, got %d", len(entries))
	}
	if entries[0].LatencyMS != 4 || entries[1].LatencyMS != 3 {
		t.Fatalf("expected newest entries to survive, got %+v", entries)
	}
}

func TestPruneKeepsNewestWithinSecond(t *testing.T) {
	s := openStore(t, 1)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 5, 0, 0, 0, time.UTC)

	for i, at := range []time.Time{base, base.Add(500 * time.Millisecond)} {
		if _, err := s.Append(ctx, Entry{
			Filename:  "Audio.wav",
			Outcome:   "transcript",
			LatencyMS: int64(i),
			CreatedAt: at,
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after prune, got %d", len(entries))
	}
	if entries[0].LatencyMS != 1 || !entries[0].CreatedAt.Equal(base.Add(500*time.Millisecond)) {
		t.Fatalf("expected the later entry to survive, got %+v", entries[0])
	}
}

func TestRecentOrdersWithinSecond(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 5, 0, 0, 0, time.UTC)
	offsets := []time.Duration{0, 250 * time.Millisecond, 500 * time.Millisecond, time.Second}

	for i, off := range offsets {
		if _, err := s.Append(ctx, Entry{
			Filename:  "Audio.wav",
			Outcome:   "transcript",
			LatencyMS: int64(i),
			CreatedAt: base.Add(off),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != len(offsets) {
		t.Fatalf("expected %d entries, got %d", len(offsets), len(entries))
	}
	for i, e := range entries {
		if want := int64(len(offsets) - 1 - i); e.LatencyMS != want {
			t.Errorf("position %d: expected entry %d, got %d", i, want, e.LatencyMS)
		}
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	cfg := config.HistoryConfig{Enabled: true, Path: path}
	ctx := context.Background()

	s, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Append(ctx, Entry{ID: "fixed", Filename: "Audio.wav", Outcome: "timeout"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "fixed" {
		t.Fatalf("unexpected entries after reopen: %+v", entries)
	}
}
