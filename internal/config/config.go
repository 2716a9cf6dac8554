package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override.
const envPrefix = "VOICECAP_"

// Config represents the complete service configuration
type Config struct {
	Capture       CaptureConfig       `yaml:"capture" json:"capture"`
	Source        SourceConfig        `yaml:"source" json:"source"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Transcription TranscriptionConfig `yaml:"transcription" json:"transcription"`
	Archive       ArchiveConfig       `yaml:"archive" json:"archive"`
	History       HistoryConfig       `yaml:"history" json:"history"`
	HTTP          HTTPConfig          `yaml:"http" json:"http"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
}

// CaptureConfig contains recording parameters
type CaptureConfig struct {
	SampleRate          int    `yaml:"sample_rate" json:"sample_rate"`
	BitsPerSample       int    `yaml:"bits_per_sample" json:"bits_per_sample"`
	Gain                int    `yaml:"gain" json:"gain"`
	FrameSamples        int    `yaml:"frame_samples" json:"frame_samples"`
	RecordingDurationMS int    `yaml:"recording_duration_ms" json:"recording_duration_ms"`
	MinDurationMS       int    `yaml:"min_duration_ms" json:"min_duration_ms"`
	SilenceProbe        bool   `yaml:"silence_probe" json:"silence_probe"`
	File                string `yaml:"file" json:"file"`
	StepDelayMS         int    `yaml:"step_delay_ms" json:"step_delay_ms"`
}

// SourceConfig selects the sample source that feeds the capture engine
type SourceConfig struct {
	Type          string  `yaml:"type" json:"type"` // tone, silence or wav
	ToneFrequency float64 `yaml:"tone_frequency" json:"tone_frequency"`
	ToneAmplitude float64 `yaml:"tone_amplitude" json:"tone_amplitude"`
	WAVPath       string  `yaml:"wav_path" json:"wav_path"`
	Loop          bool    `yaml:"loop" json:"loop"`
	Realtime      bool    `yaml:"realtime" json:"realtime"`
}

// StorageConfig contains recording storage configuration
type StorageConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// TranscriptionConfig contains transcription service configuration
type TranscriptionConfig struct {
	Host               string   `yaml:"host" json:"host"`
	Port               int      `yaml:"port" json:"port"`
	Path               string   `yaml:"path" json:"path"`
	APIKey             string   `yaml:"api_key" json:"api_key,omitempty"`
	AuthScheme         string   `yaml:"auth_scheme" json:"auth_scheme"`
	Model              string   `yaml:"model" json:"model"`
	Language           string   `yaml:"language" json:"language"`
	SmartFormat        bool     `yaml:"smart_format" json:"smart_format"`
	Keywords           []string `yaml:"keywords" json:"keywords"`
	TLS                bool     `yaml:"tls" json:"tls"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	ConnectTimeoutMS   int      `yaml:"connect_timeout_ms" json:"connect_timeout_ms"`
	ResponseTimeoutMS  int      `yaml:"response_timeout_ms" json:"response_timeout_ms"`
	PollIntervalMS     int      `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	ChunkSize          int      `yaml:"chunk_size" json:"chunk_size"`
	SkipSilent         bool     `yaml:"skip_silent" json:"skip_silent"`
	VADThreshold       float64  `yaml:"vad_threshold" json:"vad_threshold"`
}

// ArchiveConfig contains S3 archive configuration
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Bucket       string `yaml:"bucket" json:"bucket"`
	Prefix       string `yaml:"prefix" json:"prefix"`
	Region       string `yaml:"region" json:"region"`
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style" json:"use_path_style"`
}

// HistoryConfig contains the cycle history database configuration
type HistoryConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	MaxEntries int    `yaml:"max_entries" json:"max_entries"` // 0 keeps everything
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" json:"port"`
	Address string `yaml:"address" json:"address"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns the configuration used when no file is given.
// Capture and transcription values match the recording device.
func Default() Config {
	return Config{
		Capture: CaptureConfig{
			SampleRate:          16000,
			BitsPerSample:       16,
			Gain:                32,
			FrameSamples:        512,
			RecordingDurationMS: 3000,
			MinDurationMS:       400,
			File:                "Audio.wav",
		},
		Source: SourceConfig{
			Type:          "tone",
			ToneFrequency: 440,
			ToneAmplitude: 200,
			Realtime:      true,
		},
		Storage: StorageConfig{
			Dir: "./recordings",
		},
		Transcription: TranscriptionConfig{
			Host:              "api.deepgram.com",
			Port:              443,
			Path:              "/v1/listen",
			AuthScheme:        "Token",
			Model:             "nova-2-general",
			Language:          "en",
			SmartFormat:       true,
			TLS:               true,
			ConnectTimeoutMS:  5000,
			ResponseTimeoutMS: 10000,
			PollIntervalMS:    10,
			ChunkSize:         1024,
			VADThreshold:      0.02,
		},
		Archive: ArchiveConfig{
			Prefix: "recordings",
			Region: "us-east-1",
		},
		History: HistoryConfig{
			Path:       "./data/history.db",
			MaxEntries: 1000,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and VOICECAP_* environment overrides, then validates it.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment without overwriting variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideInt(&cfg.Capture.SampleRate, "CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.BitsPerSample, "CAPTURE_BITS_PER_SAMPLE")
	overrideInt(&cfg.Capture.Gain, "CAPTURE_GAIN")
	overrideInt(&cfg.Capture.RecordingDurationMS, "CAPTURE_RECORDING_DURATION_MS")
	overrideInt(&cfg.Capture.MinDurationMS, "CAPTURE_MIN_DURATION_MS")
	overrideBool(&cfg.Capture.SilenceProbe, "CAPTURE_SILENCE_PROBE")
	overrideString(&cfg.Capture.File, "CAPTURE_FILE")
	overrideString(&cfg.Source.Type, "SOURCE_TYPE")
	overrideString(&cfg.Source.WAVPath, "SOURCE_WAV_PATH")
	overrideString(&cfg.Storage.Dir, "STORAGE_DIR")
	overrideString(&cfg.Transcription.Host, "TRANSCRIPTION_HOST")
	overrideInt(&cfg.Transcription.Port, "TRANSCRIPTION_PORT")
	overrideString(&cfg.Transcription.APIKey, "TRANSCRIPTION_API_KEY")
	overrideString(&cfg.Transcription.AuthScheme, "TRANSCRIPTION_AUTH_SCHEME")
	overrideString(&cfg.Transcription.Model, "TRANSCRIPTION_MODEL")
	overrideOptionalString(&cfg.Transcription.Language, "TRANSCRIPTION_LANGUAGE")
	overrideStringSlice(&cfg.Transcription.Keywords, "TRANSCRIPTION_KEYWORDS")
	overrideBool(&cfg.Transcription.TLS, "TRANSCRIPTION_TLS")
	overrideBool(&cfg.Transcription.SkipSilent, "TRANSCRIPTION_SKIP_SILENT")
	overrideBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	overrideString(&cfg.Archive.Bucket, "ARCHIVE_BUCKET")
	overrideString(&cfg.Archive.Region, "ARCHIVE_REGION")
	overrideOptionalString(&cfg.Archive.Endpoint, "ARCHIVE_ENDPOINT")
	overrideBool(&cfg.History.Enabled, "HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "HISTORY_PATH")
	overrideBool(&cfg.HTTP.Enabled, "HTTP_ENABLED")
	overrideInt(&cfg.HTTP.Port, "HTTP_PORT")
	overrideString(&cfg.Logging.Level, "LOG_LEVEL")
	overrideString(&cfg.Logging.Format, "LOG_FORMAT")

	// Fall back to the vendor variable when no key is configured.
	if cfg.Transcription.APIKey == "" {
		if key, ok := os.LookupEnv("DEEPGRAM_API_KEY"); ok {
			cfg.Transcription.APIKey = strings.TrimSpace(key)
		}
	}
}

func overrideString(target *string, key string) {
	if value, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

// overrideOptionalString is for keys where an empty value is meaningful, such
// as an empty language selecting detection: set but empty clears the value.
func overrideOptionalString(target *string, key string) {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(target *int, key string) {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, key string) {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, key string) {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		*target = trimmed
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive config: %w", err)
	}

	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates capture configuration
func (a *CaptureConfig) Validate() error {
	if a.SampleRate < 1000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 1000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.BitsPerSample != 8 && a.BitsPerSample != 16 {
		return fmt.Errorf("bits_per_sample must be 8 or 16, got %d", a.BitsPerSample)
	}

	if a.Gain < 1 || a.Gain > 64 {
		return fmt.Errorf("gain must be between 1 and 64, got %d", a.Gain)
	}

	if a.FrameSamples < 1 {
		return fmt.Errorf("frame_samples must be positive, got %d", a.FrameSamples)
	}

	if a.RecordingDurationMS < 1 {
		return fmt.Errorf("recording_duration_ms must be positive, got %d", a.RecordingDurationMS)
	}

	if a.MinDurationMS < 0 {
		return fmt.Errorf("min_duration_ms cannot be negative, got %d", a.MinDurationMS)
	}

	if a.MinDurationMS > a.RecordingDurationMS {
		return fmt.Errorf("min_duration_ms (%d) cannot exceed recording_duration_ms (%d)",
			a.MinDurationMS, a.RecordingDurationMS)
	}

	if a.File == "" {
		return fmt.Errorf("file cannot be empty")
	}

	if a.StepDelayMS < 0 {
		return fmt.Errorf("step_delay_ms cannot be negative, got %d", a.StepDelayMS)
	}

	return nil
}

// Validate validates source configuration
func (s *SourceConfig) Validate() error {
	switch s.Type {
	case "silence":
	case "tone":
		if s.ToneFrequency <= 0 {
			return fmt.Errorf("tone_frequency must be positive, got %f", s.ToneFrequency)
		}
		if s.ToneAmplitude < 0 || s.ToneAmplitude > 32767 {
			return fmt.Errorf("tone_amplitude must be between 0 and 32767, got %f", s.ToneAmplitude)
		}
	case "wav":
		if s.WAVPath == "" {
			return fmt.Errorf("wav_path cannot be empty for a wav source")
		}
	default:
		return fmt.Errorf("type must be one of [tone, silence, wav], got '%s'", s.Type)
	}
	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}
	return nil
}

// Validate validates transcription configuration. The API key is checked
// when the client is created so that offline commands work without one.
func (t *TranscriptionConfig) Validate() error {
	if t.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", t.Port)
	}

	if !strings.HasPrefix(t.Path, "/") {
		return fmt.Errorf("path must start with '/', got '%s'", t.Path)
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.ConnectTimeoutMS < 1 {
		return fmt.Errorf("connect_timeout_ms must be positive, got %d", t.ConnectTimeoutMS)
	}

	if t.ResponseTimeoutMS < 1 {
		return fmt.Errorf("response_timeout_ms must be positive, got %d", t.ResponseTimeoutMS)
	}

	if t.PollIntervalMS < 1 || t.PollIntervalMS > t.ResponseTimeoutMS {
		return fmt.Errorf("poll_interval_ms must be between 1 and response_timeout_ms, got %d", t.PollIntervalMS)
	}

	if t.ChunkSize < 64 {
		return fmt.Errorf("chunk_size must be at least 64 bytes, got %d", t.ChunkSize)
	}

	if t.VADThreshold < 0 || t.VADThreshold > 1 {
		return fmt.Errorf("vad_threshold must be between 0 and 1, got %f", t.VADThreshold)
	}

	return nil
}

// Validate validates archive configuration
func (a *ArchiveConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.Bucket == "" {
		return fmt.Errorf("bucket cannot be empty when archive is enabled")
	}
	if a.Region == "" {
		return fmt.Errorf("region cannot be empty when archive is enabled")
	}
	return nil
}

// Validate validates history configuration
func (h *HistoryConfig) Validate() error {
	if h.Enabled && h.Path == "" {
		return fmt.Errorf("path cannot be empty when history is enabled")
	}
	if h.MaxEntries < 0 {
		return fmt.Errorf("max_entries cannot be negative, got %d", h.MaxEntries)
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path.
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetRecordingDuration returns the per-cycle recording length
func (a *CaptureConfig) GetRecordingDuration() time.Duration {
	return time.Duration(a.RecordingDurationMS) * time.Millisecond
}

// GetMinDuration returns the shortest recording that is transcribed
func (a *CaptureConfig) GetMinDuration() time.Duration {
	return time.Duration(a.MinDurationMS) * time.Millisecond
}

// GetStepDelay returns the pause between capture steps
func (a *CaptureConfig) GetStepDelay() time.Duration {
	return time.Duration(a.StepDelayMS) * time.Millisecond
}

// GetConnectTimeout returns the connect timeout as a time.Duration
func (t *TranscriptionConfig) GetConnectTimeout() time.Duration {
	return time.Duration(t.ConnectTimeoutMS) * time.Millisecond
}

// GetResponseTimeout returns the response deadline as a time.Duration
func (t *TranscriptionConfig) GetResponseTimeout() time.Duration {
	return time.Duration(t.ResponseTimeoutMS) * time.Millisecond
}

// GetPollInterval returns the response poll interval as a time.Duration
func (t *TranscriptionConfig) GetPollInterval() time.Duration {
	return time.Duration(t.PollIntervalMS) * time.Millisecond
}

// Redacted returns a copy safe to expose over the API, with secrets removed.
func (c Config) Redacted() Config {
	c.Transcription.APIKey = ""
	c.Transcription.Keywords = append([]string(nil), c.Transcription.Keywords...)
	return c
}
