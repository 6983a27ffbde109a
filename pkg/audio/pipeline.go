package audio

import (
	"fmt"
	"log/slog"

	"github.com/ordovox/ordovox/pkg/provider/vad"
)

// PipelineConfig holds the parameters for a per-call audio pipeline.
type PipelineConfig struct {
	// Codec converts between the transport payload encoding and PCM16.
	Codec Codec

	// VAD is the per-call voice activity session. Optional; when nil every
	// decoded frame is treated as speech and the gate stays open.
	VAD vad.SessionHandle

	// SampleRate is the PCM sample rate in Hz. Default 8000.
	SampleRate int

	// FrameSizeMs is the VAD frame duration in milliseconds. Default 20.
	FrameSizeMs int

	// HangoverMs is the silence duration that closes the speech gate.
	// Default 300.
	HangoverMs int

	// BufferBytes is the capacity of the drop-oldest PCM buffer feeding
	// STT. Default 64000 (about 4 s of telephone audio).
	BufferBytes int

	// Logger receives malformed-frame and VAD-failure diagnostics.
	// Optional; defaults to slog.Default.
	Logger *slog.Logger
}

// Pipeline is the inbound and outbound audio path for one call. Inbound
// payloads are decoded, classified frame by frame, and buffered for the STT
// feeder; outbound PCM is encoded back to the transport codec.
//
// ProcessInbound and ReadBuffered may run on different goroutines; the
// buffer between them is the only shared state. EncodeOutbound is
// independent of both.
type Pipeline struct {
	codec    Codec
	vad      vad.SessionHandle
	gate     *Gate
	ring     *Ring
	log      *slog.Logger
	frameLen int

	// pending accumulates decoded PCM until a whole VAD frame is available.
	pending []byte

	malformed uint64
}

// NewPipeline creates a pipeline. cfg.Codec is required.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Codec == nil {
		return nil, fmt.Errorf("audio: pipeline requires a codec")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	if cfg.FrameSizeMs <= 0 {
		cfg.FrameSizeMs = 20
	}
	if cfg.HangoverMs <= 0 {
		cfg.HangoverMs = 300
	}
	if cfg.BufferBytes <= 0 {
		cfg.BufferBytes = 64000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		codec:    cfg.Codec,
		vad:      cfg.VAD,
		gate:     NewGate(cfg.HangoverMs, cfg.FrameSizeMs),
		ring:     NewRing(cfg.BufferBytes),
		log:      cfg.Logger,
		frameLen: cfg.SampleRate / 1000 * cfg.FrameSizeMs * 2,
	}, nil
}

// ProcessInbound decodes one transport payload, runs the VAD gate over the
// decoded frames, and buffers audio for the STT feeder while the gate is
// open. It returns the speech edges observed, in order. Malformed payloads
// are logged and dropped; they never fail the call.
func (p *Pipeline) ProcessInbound(payload []byte) []Edge {
	pcm, err := p.codec.Decode(payload)
	if err != nil {
		p.malformed++
		p.log.Warn("dropping malformed media frame",
			"codec", p.codec.Name(), "bytes", len(payload), "error", err)
		return nil
	}

	p.pending = append(p.pending, pcm...)

	var edges []Edge
	for len(p.pending) >= p.frameLen {
		frame := p.pending[:p.frameLen]

		speech := true
		if p.vad != nil {
			ev, err := p.vad.ProcessFrame(frame)
			if err != nil {
				// Fail open: losing caller audio is worse than passing
				// silence to STT.
				p.log.Warn("vad failure, treating frame as speech", "error", err)
			} else {
				speech = ev.Speech
			}
		}

		edge := p.gate.Update(speech)
		if edge != EdgeNone {
			edges = append(edges, edge)
		}
		if p.gate.Open() || edge == EdgeSpeechEnd {
			p.ring.Write(frame)
		}

		p.pending = p.pending[p.frameLen:]
	}
	return edges
}

// ReadBuffered drains up to len(buf) bytes of gated PCM into buf and returns
// the count. Zero means nothing is buffered.
func (p *Pipeline) ReadBuffered(buf []byte) int {
	return p.ring.Read(buf)
}

// Buffered returns the number of PCM bytes waiting for the STT feeder.
func (p *Pipeline) Buffered() int { return p.ring.Len() }

// DroppedBytes returns the number of PCM bytes evicted because the STT
// feeder fell behind.
func (p *Pipeline) DroppedBytes() uint64 { return p.ring.Dropped() }

// MalformedFrames returns the number of inbound payloads dropped because
// they failed to decode.
func (p *Pipeline) MalformedFrames() uint64 { return p.malformed }

// EncodeOutbound converts synthesized PCM16 back to the transport encoding.
func (p *Pipeline) EncodeOutbound(pcm []byte) ([]byte, error) {
	out, err := p.codec.Encode(pcm)
	if err != nil {
		return nil, fmt.Errorf("audio: encode outbound: %w", err)
	}
	return out, nil
}

// Close releases the VAD session, if any.
func (p *Pipeline) Close() error {
	if p.vad == nil {
		return nil
	}
	return p.vad.Close()
}
