// Package mock provides test doubles for the tts package interfaces.
//
// Provider implements tts.Provider for exercising the cache and adapters;
// Synthesizer implements tts.Synthesizer for orchestrator tests that speak
// whole utterances.
package mock

import (
	"context"
	"sync"

	"github.com/ordovox/ordovox/pkg/provider/tts"
	"github.com/ordovox/ordovox/pkg/types"
)

// SynthesizeStreamCall records a single invocation of Provider.SynthesizeStream.
type SynthesizeStreamCall struct {
	// Texts are the fragments drained from the text channel.
	Texts []string

	// Voice is the profile passed to SynthesizeStream.
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is the audio emitted for each synthesis request.
	Chunks [][]byte

	// SynthesizeStreamErr, if non-nil, is returned as the error from
	// SynthesizeStream.
	SynthesizeStreamErr error

	// StreamErr, if non-nil, terminates the stream after Chunks were
	// emitted, simulating a backend failing mid-utterance.
	StreamErr error

	// Voices is returned by ListVoices.
	Voices []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []SynthesizeStreamCall
}

// SynthesizeStream records the call, drains the text channel, and emits the
// configured Chunks, ending the stream with StreamErr.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (*tts.Stream, error) {
	p.mu.Lock()
	if p.SynthesizeStreamErr != nil {
		defer p.mu.Unlock()
		p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Voice: voice})
		return nil, p.SynthesizeStreamErr
	}
	idx := len(p.SynthesizeStreamCalls)
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Voice: voice})
	chunks := p.Chunks
	streamErr := p.StreamErr
	p.mu.Unlock()

	stream := tts.NewStream(len(chunks) + 1)
	go func() {
		var texts []string
		for t := range text {
			texts = append(texts, t)
		}
		p.mu.Lock()
		p.SynthesizeStreamCalls[idx].Texts = texts
		p.mu.Unlock()

		for _, chunk := range chunks {
			cp := make([]byte, len(chunk))
			copy(cp, chunk)
			if !stream.Send(ctx, cp) {
				stream.Close(ctx.Err())
				return
			}
		}
		stream.Close(streamErr)
	}()
	return stream, nil
}

// ListVoices returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, p.ListVoicesErr
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of Synthesizer.Synthesize.
type SynthesizeCall struct {
	// Text is the utterance passed to Synthesize.
	Text string

	// Voice is the profile passed to Synthesize.
	Voice types.VoiceProfile
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Chunks is the audio emitted for each utterance.
	Chunks [][]byte

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and emits the configured Chunks.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) <-chan []byte {
	s.mu.Lock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	chunks := s.Chunks
	s.mu.Unlock()

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for _, chunk := range chunks {
			cp := make([]byte, len(chunk))
			copy(cp, chunk)
			select {
			case out <- cp:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
