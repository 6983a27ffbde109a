// Package audio implements the per-call audio pipeline: codec conversion
// between the telephone media stream and linear PCM, a bounded drop-oldest
// ring buffer that absorbs STT backpressure, and a voice-activity gate that
// turns frame-level VAD decisions into debounced speech edges.
//
// Decode and encode are pure functions over byte slices; all state lives in
// [Ring], [Gate], and [Pipeline].
package audio

import (
	"errors"
	"fmt"

	"layeh.com/gopus"
)

// Codec converts between a transport payload encoding and linear 16-bit
// little-endian PCM. Implementations must be stateless or internally
// synchronised; the pipeline calls Decode and Encode from different
// goroutines.
type Codec interface {
	// Name returns the transport codec identifier (e.g., "PCMU").
	Name() string

	// Decode converts an encoded payload to linear PCM16 bytes.
	Decode(payload []byte) ([]byte, error)

	// Encode converts linear PCM16 bytes to the transport encoding.
	Encode(pcm []byte) ([]byte, error)
}

// ErrUnknownCodec is returned by [CodecByName] for unsupported codec names.
var ErrUnknownCodec = errors.New("audio: unknown codec")

// CodecByName returns the codec for a transport-reported codec name.
// Supported: "PCMU" (G.711 µ-law), "PCMA" (G.711 A-law), "L16" (passthrough
// linear PCM), and "OPUS" at the given sample rate.
func CodecByName(name string, sampleRate int) (Codec, error) {
	switch name {
	case "PCMU", "pcmu", "ulaw":
		return ULaw{}, nil
	case "PCMA", "pcma", "alaw":
		return ALaw{}, nil
	case "L16", "l16":
		return PCM16{}, nil
	case "OPUS", "opus":
		return NewOpus(sampleRate)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// ---- G.711 µ-law ----

const (
	ulawBias = 0x84
	ulawClip = 8159
)

var ulawSegEnd = [8]int{0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF}

// ULaw is the G.711 µ-law codec, the telephony default for North American
// and international trunks.
type ULaw struct{}

// Name implements [Codec].
func (ULaw) Name() string { return "PCMU" }

// Decode expands µ-law bytes to PCM16. One input byte yields one sample.
func (ULaw) Decode(payload []byte) ([]byte, error) {
	pcm := make([]byte, len(payload)*2)
	for i, b := range payload {
		s := ulawToLinear(b)
		pcm[2*i] = byte(s)
		pcm[2*i+1] = byte(s >> 8)
	}
	return pcm, nil
}

// Encode compands PCM16 to µ-law. The input must hold whole samples.
func (ULaw) Encode(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: ulaw encode: odd PCM byte count %d", len(pcm))
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = linearToULaw(s)
	}
	return out, nil
}

func ulawToLinear(u byte) int16 {
	u = ^u
	t := (int(u&0x0F) << 3) + ulawBias
	t <<= uint(u&0x70) >> 4
	if u&0x80 != 0 {
		return int16(ulawBias - t)
	}
	return int16(t - ulawBias)
}

func linearToULaw(s int16) byte {
	v := int(s) >> 2
	mask := 0xFF
	if v < 0 {
		v = -v
		mask = 0x7F
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias >> 2

	seg := 8
	for i, end := range ulawSegEnd {
		if v <= end {
			seg = i
			break
		}
	}
	if seg >= 8 {
		return byte(0x7F ^ mask)
	}
	uval := (seg << 4) | ((v >> uint(seg+1)) & 0x0F)
	return byte(uval ^ mask)
}

// ---- G.711 A-law ----

var alawSegEnd = [8]int{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

// ALaw is the G.711 A-law codec, the telephony default for European trunks.
type ALaw struct{}

// Name implements [Codec].
func (ALaw) Name() string { return "PCMA" }

// Decode expands A-law bytes to PCM16. One input byte yields one sample.
func (ALaw) Decode(payload []byte) ([]byte, error) {
	pcm := make([]byte, len(payload)*2)
	for i, b := range payload {
		s := alawToLinear(b)
		pcm[2*i] = byte(s)
		pcm[2*i+1] = byte(s >> 8)
	}
	return pcm, nil
}

// Encode compands PCM16 to A-law. The input must hold whole samples.
func (ALaw) Encode(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: alaw encode: odd PCM byte count %d", len(pcm))
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = linearToALaw(s)
	}
	return out, nil
}

func alawToLinear(a byte) int16 {
	a ^= 0x55
	t := int(a&0x0F) << 4
	seg := (int(a) & 0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= uint(seg - 1)
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

func linearToALaw(s int16) byte {
	v := int(s) >> 3
	var mask int
	if v >= 0 {
		mask = 0xD5
	} else {
		mask = 0x55
		v = -v - 1
	}

	seg := 8
	for i, end := range alawSegEnd {
		if v <= end {
			seg = i
			break
		}
	}
	if seg >= 8 {
		return byte(0x7F ^ mask)
	}
	aval := seg << 4
	if seg < 2 {
		aval |= (v >> 1) & 0x0F
	} else {
		aval |= (v >> uint(seg)) & 0x0F
	}
	return byte(aval ^ mask)
}

// ---- Linear PCM passthrough ----

// PCM16 is the identity codec for trunks that negotiate raw linear PCM.
type PCM16 struct{}

// Name implements [Codec].
func (PCM16) Name() string { return "L16" }

// Decode returns the payload unchanged.
func (PCM16) Decode(payload []byte) ([]byte, error) { return payload, nil }

// Encode returns the PCM unchanged.
func (PCM16) Encode(pcm []byte) ([]byte, error) { return pcm, nil }

// ---- Opus ----

// opusMaxFrameSamples bounds the decode buffer: 120 ms at 48 kHz.
const opusMaxFrameSamples = 5760

// Opus decodes and encodes Opus packets for wideband trunks that negotiate
// the codec on session start. Not safe for concurrent use of the same
// direction; the pipeline serialises decode and encode independently.
type Opus struct {
	dec        *gopus.Decoder
	enc        *gopus.Encoder
	sampleRate int
}

// NewOpus creates an Opus codec for mono audio at the given sample rate.
func NewOpus(sampleRate int) (*Opus, error) {
	dec, err := gopus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decoder: %w", err)
	}
	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: opus encoder: %w", err)
	}
	return &Opus{dec: dec, enc: enc, sampleRate: sampleRate}, nil
}

// Name implements [Codec].
func (o *Opus) Name() string { return "OPUS" }

// Decode decompresses a single Opus packet to PCM16 bytes.
func (o *Opus) Decode(payload []byte) ([]byte, error) {
	samples, err := o.dec.Decode(payload, opusMaxFrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[2*i] = byte(s)
		pcm[2*i+1] = byte(s >> 8)
	}
	return pcm, nil
}

// Encode compresses PCM16 bytes into a single Opus packet. The input must
// hold a whole Opus frame (2.5–120 ms) of samples.
func (o *Opus) Encode(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: opus encode: odd PCM byte count %d", len(pcm))
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}
	data, err := o.enc.Encode(samples, len(samples), len(pcm))
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return data, nil
}
