package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voicecap/internal/config"
	"github.com/skypro1111/voicecap/internal/history"
	"github.com/skypro1111/voicecap/internal/metrics"
	"github.com/skypro1111/voicecap/internal/pipeline"
	"github.com/skypro1111/voicecap/internal/transcription"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	maxRecordDuration   = time.Minute
)

// CycleRunner runs capture cycles on demand. *pipeline.Pipeline satisfies it.
type CycleRunner interface {
	RunCycle(ctx context.Context, filename string, duration time.Duration) (pipeline.Cycle, error)
	Stats() pipeline.Stats
	Config() pipeline.Config
}

// TranscriptionStats reports client counters. *transcription.Client satisfies it.
type TranscriptionStats interface {
	GetStats() transcription.ClientStats
}

// HistoryReader lists past cycles. *history.Store satisfies it.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// HTTPServer provides HTTP API endpoints for monitoring and triggering recordings
type HTTPServer struct {
	server        *http.Server
	logger        *slog.Logger
	config        *config.Config
	runner        CycleRunner
	transcription TranscriptionStats
	history       HistoryReader
	gatherer      prometheus.Gatherer
	metrics       *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. hist may be nil when history
// is disabled.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	runner CycleRunner, stats TranscriptionStats, hist HistoryReader,
	gatherer prometheus.Gatherer, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:        logger,
		config:        appConfig,
		runner:        runner,
		transcription: stats,
		history:       hist,
		gatherer:      gatherer,
		metrics:       m,
		startTime:     time.Now(),
	}

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:     h.Handler(),
		ReadTimeout: 10 * time.Second,
		// POST /record holds the connection for a full cycle.
		WriteTimeout: maxRecordDuration + 2*time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	return mux
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/history", h.withMetrics("/history", h.handleHistory))
	mux.HandleFunc("/record", h.withMetrics("/record", h.handleRecord))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.runner.Stats()
	transcriptionStats := h.transcription.GetStats()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "voicecap",
			"version": "1.0.0",
		},
		"components": map[string]any{
			"capture": map[string]any{
				"recording": stats.Recording,
				"cycles":    stats.Cycles,
			},
			"transcription": map[string]any{
				"endpoint":       fmt.Sprintf("%s:%d", h.config.Transcription.Host, h.config.Transcription.Port),
				"total_requests": transcriptionStats.TotalRequests,
				"success_rate":   transcriptionStats.SuccessRate,
			},
			"archive": map[string]any{
				"enabled": h.config.Archive.Enabled,
			},
			"history": map[string]any{
				"enabled": h.history != nil,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":        time.Since(h.startTime).String(),
		"timestamp":     time.Now().UTC(),
		"pipeline":      h.runner.Stats(),
		"transcription": h.transcription.GetStats(),
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.config.Redacted())
}

// handleHistory implements the /history endpoint
func (h *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.history == nil {
		http.Error(w, "History is disabled", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxHistoryLimit {
			http.Error(w, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read history", slog.String("error", err.Error()))
		http.Error(w, "Failed to read history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

// handleRecord implements POST /record: one synchronous capture cycle.
func (h *HTTPServer) handleRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := h.runner.Config()
	duration := cfg.Duration
	if s := r.URL.Query().Get("duration"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 || d > maxRecordDuration {
			http.Error(w, fmt.Sprintf("duration must be a positive duration up to %s", maxRecordDuration),
				http.StatusBadRequest)
			return
		}
		duration = d
	}

	cycle, err := h.runner.RunCycle(r.Context(), cfg.Filename, duration)
	if err != nil {
		h.logger.Warn("Triggered cycle failed",
			slog.String("cycle_id", cycle.ID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, cycle)
		return
	}

	writeJSON(w, http.StatusOK, cycle)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "voicecap",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":        "API documentation",
			"GET /health":  "Service health check",
			"GET /stats":   "Pipeline and transcription statistics",
			"GET /config":  "Service configuration without secrets",
			"GET /history": "Recent capture cycles (?limit=N)",
			"POST /record": "Record and transcribe once (?duration=1500ms)",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
