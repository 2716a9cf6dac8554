package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/voicecap/internal/config"
	"github.com/skypro1111/voicecap/internal/history"
	"github.com/skypro1111/voicecap/internal/metrics"
	"github.com/skypro1111/voicecap/internal/pipeline"
	"github.com/skypro1111/voicecap/internal/transcription"
)

type fakeRunner struct {
	cfg       pipeline.Config
	cycle     pipeline.Cycle
	err       error
	durations []time.Duration
}

func (f *fakeRunner) RunCycle(_ context.Context, filename string, duration time.Duration) (pipeline.Cycle, error) {
	f.durations = append(f.durations, duration)
	c := f.cycle
	c.Filename = filename
	return c, f.err
}

func (f *fakeRunner) Stats() pipeline.Stats {
	return pipeline.Stats{Cycles: 4, Outcomes: map[string]uint64{"transcript": 3, "too_short": 1}}
}

func (f *fakeRunner) Config() pipeline.Config { return f.cfg }

type fakeStats struct{}

func (fakeStats) GetStats() transcription.ClientStats {
	return transcription.ClientStats{TotalRequests: 3, SuccessRate: 100}
}

type fakeHistory struct {
	entries []history.Entry
	err     error
	limit   int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]history.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

type fixture struct {
	server  *HTTPServer
	handler http.Handler
	runner  *fakeRunner
	history *fakeHistory
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, withHistory bool) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Transcription.APIKey = "super-secret"

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	runner := &fakeRunner{
		cfg:   pipeline.Config{Filename: "Audio.wav", Duration: 3 * time.Second},
		cycle: pipeline.Cycle{ID: "c1", Outcome: "transcript", Transcript: "hello"},
	}

	f := &fixture{runner: runner, metrics: m}
	var hist HistoryReader
	if withHistory {
		f.history = &fakeHistory{entries: []history.Entry{{ID: "c1", Outcome: "transcript"}}}
		hist = f.history
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.server = NewHTTPServer(cfg.HTTP, logger, &cfg, runner, fakeStats{}, hist, reg, m)
	f.handler = f.server.Handler()
	return f
}

func (f *fixture) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRootAndNotFound(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	endpoints := decode(t, rec)["endpoints"].(map[string]any)
	assert.Contains(t, endpoints, "POST /record")
	assert.Contains(t, endpoints, "GET /metrics")

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/nope").Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	components := body["components"].(map[string]any)
	assert.Equal(t, float64(4), components["capture"].(map[string]any)["cycles"])
	assert.Equal(t, false, components["history"].(map[string]any)["enabled"])
}

func TestStats(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	p := body["pipeline"].(map[string]any)
	assert.Equal(t, float64(4), p["cycles"])
	assert.Equal(t, float64(3), body["transcription"].(map[string]any)["total_requests"])
}

func TestConfigOmitsSecrets(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(http.MethodGet, "/config")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NotContains(t, rec.Body.String(), "super-secret")
	body := decode(t, rec)
	tr := body["transcription"].(map[string]any)
	assert.NotContains(t, tr, "api_key")
	assert.Equal(t, "api.deepgram.com", tr["host"])
}

func TestHistory(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(http.MethodGet, "/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultHistoryLimit, f.history.limit)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = f.do(http.MethodGet, "/history?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.history.limit)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/history?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/history?limit=abc").Code)

	f.history.err = errors.New("database is locked")
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/history").Code)
}

func TestHistoryDisabled(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/history").Code)
}

func TestRecord(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodPost, "/record")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "transcript", body["outcome"])
	assert.Equal(t, "hello", body["transcript"])
	assert.Equal(t, "Audio.wav", body["filename"])

	rec = f.do(http.MethodPost, "/record?duration=1500ms")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []time.Duration{3 * time.Second, 1500 * time.Millisecond}, f.runner.durations)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/record?duration=-1s").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/record?duration=2h").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/record").Code)
}

func TestRecordFailure(t *testing.T) {
	f := newFixture(t, false)
	f.runner.cycle = pipeline.Cycle{ID: "c2", Outcome: pipeline.OutcomeCaptureFailed}
	f.runner.err = errors.New("failed to start recording")

	rec := f.do(http.MethodPost, "/record")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, pipeline.OutcomeCaptureFailed, decode(t, rec)["outcome"])
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, false)
	for _, path := range []string{"/", "/health", "/stats", "/config", "/history"} {
		assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodPost, path).Code, path)
	}
}

func TestHTTPMetrics(t *testing.T) {
	f := newFixture(t, false)
	f.do(http.MethodGet, "/health")
	f.do(http.MethodGet, "/health")
	f.do(http.MethodPost, "/health")

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("GET", "/health", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.HTTPErrors.WithLabelValues("POST", "/health", "client_error")))

	rec := f.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "voicecap_http_requests_total"))
}
