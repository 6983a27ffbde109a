// Package telephony defines the media transport contract between the call
// platform and the per-call orchestrator.
//
// A Transport accepts inbound calls and surfaces each as a Session: a
// bidirectional stream of encoded audio payloads plus the call metadata
// negotiated at stream start. The orchestrator consumes Frames for inbound
// audio and calls Write for synthesized audio going back to the caller.
//
// Implementations live in subpackages (telnyx for the websocket media-stream
// protocol, mock for tests).
package telephony

import (
	"context"
	"errors"
	"time"
)

// ErrSessionClosed is returned by Write and Clear after the session has
// ended, whether by Stop, a remote stop event, or a connection drop.
var ErrSessionClosed = errors.New("telephony: session is closed")

// MediaFrame is one inbound audio payload in the codec negotiated at stream
// start.
type MediaFrame struct {
	// Payload is the encoded audio (e.g., 160 bytes of µ-law for a 20 ms
	// telephone frame).
	Payload []byte

	// Sequence increments per frame as reported by the platform.
	Sequence uint64

	// Timestamp is the platform capture time when reported, otherwise the
	// local receive time.
	Timestamp time.Time
}

// SessionInfo is the call metadata delivered with the stream-start event.
type SessionInfo struct {
	// CallID is the platform call identifier, used as the registry key.
	CallID string

	// StreamID identifies the media stream within the call.
	StreamID string

	// From is the caller number in E.164 form.
	From string

	// To is the called number in E.164 form.
	To string

	// Codec is the negotiated payload encoding ("PCMU", "PCMA", "L16",
	// "OPUS").
	Codec string

	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Channels is the channel count; telephony is mono.
	Channels int
}

// Session is one live call leg.
//
// Frames is closed when the stream ends; after that Err reports why. Write,
// Clear, and Stop are safe to call from a different goroutine than the one
// draining Frames.
type Session interface {
	// Info returns the metadata from the stream-start event.
	Info() SessionInfo

	// Frames returns the inbound audio stream. The channel is closed when
	// the caller hangs up, the platform stops the stream, or Stop is called.
	Frames() <-chan MediaFrame

	// Write sends one encoded audio payload to the caller.
	Write(ctx context.Context, payload []byte) error

	// Clear asks the platform to discard queued playback. Used on barge-in.
	Clear(ctx context.Context) error

	// Stop ends the session from our side. Idempotent.
	Stop(ctx context.Context) error

	// Done is closed when the session has fully ended.
	Done() <-chan struct{}

	// Err returns the terminal error, nil for a clean remote stop or local
	// Stop. Valid only after Done is closed.
	Err() error
}

// Transport accepts inbound calls.
type Transport interface {
	// Accept returns the channel of new sessions. The channel is closed
	// when the transport shuts down.
	Accept() <-chan Session

	// Close stops accepting new sessions. Live sessions are not torn down;
	// the orchestrators owning them end them.
	Close() error
}
