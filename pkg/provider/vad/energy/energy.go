// Package energy provides a dependency-free vad.Engine based on short-term
// RMS energy with an adaptive noise floor. It exists for deployments where
// the onnxruntime library required by the Silero engine is unavailable;
// accuracy is acceptable for telephone audio, where the channel noise floor
// is comparatively stable.
package energy

import (
	"fmt"
	"math"
	"sync"

	"github.com/ordovox/ordovox/pkg/provider/vad"
)

const (
	// noiseAdapt is the exponential smoothing factor for the noise floor.
	noiseAdapt = 0.05

	// snrRatio is how far above the noise floor a frame's RMS must be to
	// count as speech.
	snrRatio = 2.5

	// initialNoiseRMS seeds the floor so the first frames of a call do not
	// all classify as speech before adaptation kicks in.
	initialNoiseRMS = 200.0
)

// Engine implements [vad.Engine] with an RMS detector.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	return &session{
		frameLen: cfg.SampleRate / 1000 * cfg.FrameSizeMs * 2,
		noise:    initialNoiseRMS,
	}, nil
}

// session tracks the adaptive noise floor for one audio stream.
type session struct {
	mu       sync.Mutex
	frameLen int
	noise    float64
}

// ProcessFrame implements [vad.SessionHandle].
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frameLen > 0 && len(frame) != s.frameLen {
		return vad.Event{}, fmt.Errorf("energy: frame size %d, want %d", len(frame), s.frameLen)
	}
	if len(frame) < 2 {
		return vad.Event{Speech: false}, nil
	}

	var sum float64
	n := len(frame) / 2
	for i := 0; i < n; i++ {
		v := float64(int16(frame[2*i]) | int16(frame[2*i+1])<<8)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(n))

	speech := rms > s.noise*snrRatio
	if !speech {
		// Adapt the noise floor on non-speech frames only.
		s.noise = (1-noiseAdapt)*s.noise + noiseAdapt*rms
	}

	prob := rms / (s.noise*snrRatio + 1)
	if prob > 1 {
		prob = 1
	}
	return vad.Event{Speech: speech, Probability: prob}, nil
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.mu.Lock()
	s.noise = initialNoiseRMS
	s.mu.Unlock()
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error { return nil }
