// Package silero provides a Silero-VAD-backed vad.Engine using the ONNX
// runtime bindings from silero-vad-go. The Silero model classifies 30 ms
// windows of 8 or 16 kHz mono PCM with far better noise robustness than an
// energy detector, at the cost of an onnxruntime shared library on the host.
package silero

import (
	"errors"
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/ordovox/ordovox/pkg/provider/vad"
)

// Engine implements [vad.Engine] backed by the Silero VAD ONNX model.
type Engine struct {
	modelPath string
}

// New creates a Silero engine. modelPath points at the silero_vad.onnx file.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: model path must not be empty")
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession implements [vad.Engine]. Each session owns an independent
// detector instance; Silero detectors are stateful and not shareable.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate != 8000 && cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d (want 8000 or 16000)", cfg.SampleRate)
	}
	threshold := cfg.SpeechThreshold
	if threshold <= 0 {
		threshold = 0.5
	}

	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:  e.modelPath,
		SampleRate: cfg.SampleRate,
		Threshold:  float32(threshold),
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}

	return &session{
		det:       det,
		frameLen:  cfg.SampleRate / 1000 * cfg.FrameSizeMs * 2,
		threshold: threshold,
	}, nil
}

// session is a live Silero VAD session. It implements vad.SessionHandle.
type session struct {
	mu        sync.Mutex
	det       *speech.Detector
	frameLen  int
	threshold float64
	closed    bool
}

// ProcessFrame implements [vad.SessionHandle]. The detector consumes float32
// samples; segments returned for the window mean speech was present.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.Event{}, errors.New("silero: session is closed")
	}
	if s.frameLen > 0 && len(frame) != s.frameLen {
		return vad.Event{}, fmt.Errorf("silero: frame size %d, want %d", len(frame), s.frameLen)
	}

	samples := make([]float32, len(frame)/2)
	for i := range samples {
		samples[i] = float32(int16(frame[2*i])|int16(frame[2*i+1])<<8) / 32768.0
	}

	segments, err := s.det.Detect(samples)
	if err != nil {
		return vad.Event{}, fmt.Errorf("silero: detect: %w", err)
	}

	if len(segments) == 0 {
		return vad.Event{Speech: false}, nil
	}
	return vad.Event{Speech: true, Probability: s.threshold}, nil
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		_ = s.det.Reset()
	}
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.det.Destroy()
}
