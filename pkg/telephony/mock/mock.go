// Package mock provides test doubles for the telephony package interfaces.
//
// Use Transport to feed sessions to code that accepts calls, and Session to
// script inbound frames and inspect outbound writes.
package mock

import (
	"context"
	"sync"

	"github.com/ordovox/ordovox/pkg/telephony"
)

// Transport is a mock implementation of telephony.Transport.
type Transport struct {
	mu sync.Mutex

	sessions chan telephony.Session
	closed   bool

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewTransport creates a Transport with room for buffered test sessions.
func NewTransport() *Transport {
	return &Transport{sessions: make(chan telephony.Session, 16)}
}

// Deliver hands a session to whatever is draining Accept.
func (t *Transport) Deliver(s telephony.Session) {
	t.sessions <- s
}

// Accept implements [telephony.Transport].
func (t *Transport) Accept() <-chan telephony.Session { return t.sessions }

// Close implements [telephony.Transport].
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCallCount++
	if !t.closed {
		t.closed = true
		close(t.sessions)
	}
	return nil
}

// Ensure Transport implements telephony.Transport at compile time.
var _ telephony.Transport = (*Transport)(nil)

// WriteCall records a single invocation of Session.Write.
type WriteCall struct {
	// Payload is a copy of the bytes passed to Write.
	Payload []byte
}

// Session is a mock implementation of telephony.Session.
type Session struct {
	mu sync.Mutex

	// SessionInfo is returned by Info.
	SessionInfo telephony.SessionInfo

	// WriteErr, if non-nil, is returned by every Write call.
	WriteErr error

	// ClearErr, if non-nil, is returned by Clear.
	ClearErr error

	// FinalErr is reported by Err once the session ends.
	FinalErr error

	// WriteCalls records every call to Write in order.
	WriteCalls []WriteCall

	// ClearCallCount is the number of times Clear was called.
	ClearCallCount int

	// StopCallCount is the number of times Stop was called.
	StopCallCount int

	frames chan telephony.MediaFrame
	done   chan struct{}
	once   sync.Once
}

// NewSession creates a Session with the given metadata.
func NewSession(info telephony.SessionInfo) *Session {
	return &Session{
		SessionInfo: info,
		frames:      make(chan telephony.MediaFrame, 64),
		done:        make(chan struct{}),
	}
}

// Feed delivers one inbound frame to the consumer of Frames.
func (s *Session) Feed(frame telephony.MediaFrame) {
	s.frames <- frame
}

// End simulates the remote side ending the stream: the frames channel and
// Done are closed and FinalErr becomes visible through Err.
func (s *Session) End() {
	s.once.Do(func() {
		close(s.frames)
		close(s.done)
	})
}

// Info implements [telephony.Session].
func (s *Session) Info() telephony.SessionInfo { return s.SessionInfo }

// Frames implements [telephony.Session].
func (s *Session) Frames() <-chan telephony.MediaFrame { return s.frames }

// Write records the call and returns WriteErr.
func (s *Session) Write(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return telephony.ErrSessionClosed
	default:
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.WriteCalls = append(s.WriteCalls, WriteCall{Payload: cp})
	return s.WriteErr
}

// Clear records the call and returns ClearErr.
func (s *Session) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClearCallCount++
	return s.ClearErr
}

// Stop records the call and ends the session.
func (s *Session) Stop(context.Context) error {
	s.mu.Lock()
	s.StopCallCount++
	s.mu.Unlock()
	s.End()
	return nil
}

// Done implements [telephony.Session].
func (s *Session) Done() <-chan struct{} { return s.done }

// Err implements [telephony.Session].
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.FinalErr
	default:
		return nil
	}
}

// Ensure Session implements telephony.Session at compile time.
var _ telephony.Session = (*Session)(nil)
