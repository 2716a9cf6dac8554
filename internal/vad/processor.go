package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// fullScaleRMS is the RMS level treated as probability 1.0.
const fullScaleRMS = 10000.0

// Processor scores windows of PCM audio for voice activity by RMS energy.
type Processor struct {
	threshold  float32
	windowSize int // samples per window
	sampleRate int

	// Statistics
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// VADResult represents the result of voice activity detection
type VADResult struct {
	Probability float32 `json:"probability"` // Voice probability (0.0 - 1.0)
	HasVoice    bool    `json:"has_voice"`   // Whether voice was detected
	Confidence  float32 `json:"confidence"`  // Confidence in the result
	WindowIndex int     `json:"window_index"`
}

// VoiceSegment is a run of consecutive voiced windows, as offsets into the recording.
type VoiceSegment struct {
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float32       `json:"confidence"` // Average confidence for the segment
}

// Duration returns the length of the segment.
func (s VoiceSegment) Duration() time.Duration {
	return s.End - s.Start
}

// Analysis summarises a whole recording.
type Analysis struct {
	Windows      int             `json:"windows"`
	VoiceWindows int             `json:"voice_windows"`
	VoiceRatio   float64         `json:"voice_ratio"`
	PeakRMS      float64         `json:"peak_rms"`
	Segments     []*VoiceSegment `json:"segments,omitempty"`
}

// HasVoice reports whether any window was classified as voice.
func (a *Analysis) HasVoice() bool {
	return a.VoiceWindows > 0
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewProcessor creates a new VAD processor instance
func NewProcessor(threshold float32, windowSize int, sampleRate int) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Processor{
		threshold:  threshold,
		windowSize: windowSize,
		sampleRate: sampleRate,
	}, nil
}

// Process scores one window of exactly windowSize samples
func (p *Processor) Process(samples []int16) (*VADResult, error) {
	if len(samples) != p.windowSize {
		return nil, fmt.Errorf("expected %d samples, got %d", p.windowSize, len(samples))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	probability := float32(probabilityFromRMS(rms(samples)))
	hasVoice := probability >= p.threshold

	p.totalWindows++
	if hasVoice {
		p.voiceWindows++
	}
	p.lastProcessed = time.Now()

	return &VADResult{
		Probability: probability,
		HasVoice:    hasVoice,
		Confidence:  confidence(probability, p.threshold),
		WindowIndex: int(p.totalWindows - 1),
	}, nil
}

// Analyze scores every full window of a recording and groups voiced windows
// into segments. A trailing partial window is ignored.
func (p *Processor) Analyze(samples []int16) (*Analysis, error) {
	analysis := &Analysis{}
	windowDuration := time.Duration(p.windowSize) * time.Second / time.Duration(p.sampleRate)

	var current *VoiceSegment
	var currentWindows int

	for start := 0; start+p.windowSize <= len(samples); start += p.windowSize {
		window := samples[start : start+p.windowSize]
		result, err := p.Process(window)
		if err != nil {
			return nil, fmt.Errorf("failed to process window %d: %w", analysis.Windows, err)
		}

		if level := rms(window); level > analysis.PeakRMS {
			analysis.PeakRMS = level
		}

		offset := time.Duration(analysis.Windows) * windowDuration
		analysis.Windows++

		if result.HasVoice {
			analysis.VoiceWindows++
			if current == nil {
				current = &VoiceSegment{Start: offset}
				currentWindows = 0
			}
			currentWindows++
			current.Confidence += (result.Confidence - current.Confidence) / float32(currentWindows)
			current.End = offset + windowDuration
			continue
		}

		if current != nil {
			analysis.Segments = append(analysis.Segments, current)
			current = nil
		}
	}

	if current != nil {
		analysis.Segments = append(analysis.Segments, current)
	}

	if analysis.Windows > 0 {
		analysis.VoiceRatio = float64(analysis.VoiceWindows) / float64(analysis.Windows)
	}
	return analysis, nil
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
	}
}

// UpdateThreshold updates the voice detection threshold
func (p *Processor) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.threshold = threshold
	return nil
}

// Reset resets the processor statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalWindows = 0
	p.voiceWindows = 0
	p.lastProcessed = time.Time{}
}

// GetThreshold returns the current voice detection threshold
func (p *Processor) GetThreshold() float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}

// GetWindowSize returns the window size in samples
func (p *Processor) GetWindowSize() int {
	return p.windowSize
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	return math.Sqrt(energy / float64(len(samples)))
}

func probabilityFromRMS(level float64) float64 {
	return math.Min(level/fullScaleRMS, 1.0)
}

// confidence is higher the further probability is from threshold, scaled to 0-1.
func confidence(probability, threshold float32) float32 {
	c := float32(math.Abs(float64(probability - threshold)))
	if c > 0.5 {
		c = 0.5
	}
	return c * 2
}
