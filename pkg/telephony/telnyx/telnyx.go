// Package telnyx implements the telephony.Transport contract over the Telnyx
// media-streaming websocket protocol.
//
// The platform opens one websocket per call and sends JSON envelopes:
// "connected" on upgrade, "start" with the call metadata and negotiated
// media format, "media" with base64 audio payloads, and "stop" when the call
// ends. Outbound audio is sent back as "media" envelopes; "clear" discards
// queued playback.
//
// Server is an http.Handler; mount it on the streaming path configured in
// the Telnyx call-control application.
package telnyx

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ordovox/ordovox/pkg/telephony"
)

const (
	// defaultFrameBuffer is the inbound frame channel capacity. At 20 ms
	// per frame this buffers about 1.3 s before frames are dropped.
	defaultFrameBuffer = 64

	// startTimeout bounds the wait for the "start" envelope after upgrade.
	startTimeout = 5 * time.Second
)

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithFrameBuffer sets the inbound frame channel capacity per session.
func WithFrameBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.frameBuffer = n
		}
	}
}

// Server implements telephony.Transport for Telnyx media streams.
type Server struct {
	log         *slog.Logger
	frameBuffer int

	sessions chan telephony.Session

	mu     sync.Mutex
	closed bool
}

// New creates a Server ready to be mounted as an http.Handler.
func New(opts ...Option) *Server {
	s := &Server{
		log:         slog.Default(),
		frameBuffer: defaultFrameBuffer,
		sessions:    make(chan telephony.Session, 8),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Accept implements [telephony.Transport].
func (s *Server) Accept() <-chan telephony.Session { return s.sessions }

// Close implements [telephony.Transport]. New upgrades are refused; live
// sessions keep running until their owners stop them.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.sessions)
	}
	return nil
}

// ServeHTTP upgrades the connection, waits for the start envelope, and hands
// the resulting session to the accept channel.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("media stream upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	info, err := awaitStart(r.Context(), conn)
	if err != nil {
		s.log.Warn("media stream rejected before start", "remote", r.RemoteAddr, "error", err)
		conn.Close(websocket.StatusPolicyViolation, "missing start event")
		return
	}

	sess := &session{
		conn:   conn,
		info:   info,
		frames: make(chan telephony.MediaFrame, s.frameBuffer),
		done:   make(chan struct{}),
		log:    s.log.With("call_id", info.CallID),
	}
	go sess.readLoop()

	select {
	case s.sessions <- sess:
		s.log.Info("media stream started",
			"call_id", info.CallID, "from", info.From, "codec", info.Codec)
	default:
		// Nobody is draining Accept: refuse rather than strand the call.
		s.log.Error("accept queue full, refusing call", "call_id", info.CallID)
		_ = sess.Stop(r.Context())
	}
}

// awaitStart reads envelopes until the start event arrives, skipping the
// initial connected event.
func awaitStart(ctx context.Context, conn *websocket.Conn) (telephony.SessionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return telephony.SessionInfo{}, fmt.Errorf("telnyx: read before start: %w", err)
		}
		env, err := parseEnvelope(msg)
		if err != nil {
			return telephony.SessionInfo{}, err
		}
		switch env.Event {
		case "connected":
			continue
		case "start":
			if env.Start == nil {
				return telephony.SessionInfo{}, errors.New("telnyx: start event without payload")
			}
			return env.Start.sessionInfo(env.StreamID), nil
		default:
			return telephony.SessionInfo{}, fmt.Errorf("telnyx: unexpected %q event before start", env.Event)
		}
	}
}

// ---- wire format ----

// envelope is the outer JSON frame of the Telnyx media-stream protocol.
type envelope struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequence_number,omitempty"`
	StreamID       string        `json:"stream_id,omitempty"`
	Start          *startPayload `json:"start,omitempty"`
	Media          *mediaPayload `json:"media,omitempty"`
	Stop           *stopPayload  `json:"stop,omitempty"`
}

type startPayload struct {
	CallControlID string      `json:"call_control_id"`
	From          string      `json:"from"`
	To            string      `json:"to"`
	MediaFormat   mediaFormat `json:"media_format"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type stopPayload struct {
	CallControlID string `json:"call_control_id"`
}

func parseEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("telnyx: malformed envelope: %w", err)
	}
	if env.Event == "" {
		return envelope{}, errors.New("telnyx: envelope without event")
	}
	return env, nil
}

func (p *startPayload) sessionInfo(streamID string) telephony.SessionInfo {
	info := telephony.SessionInfo{
		CallID:     p.CallControlID,
		StreamID:   streamID,
		From:       p.From,
		To:         p.To,
		Codec:      p.MediaFormat.Encoding,
		SampleRate: p.MediaFormat.SampleRate,
		Channels:   p.MediaFormat.Channels,
	}
	if info.Codec == "" {
		info.Codec = "PCMU"
	}
	if info.SampleRate == 0 {
		info.SampleRate = 8000
	}
	if info.Channels == 0 {
		info.Channels = 1
	}
	return info
}

// ---- session ----

// session is one live media stream. It implements telephony.Session.
type session struct {
	conn   *websocket.Conn
	info   telephony.SessionInfo
	frames chan telephony.MediaFrame
	log    *slog.Logger

	done chan struct{}
	once sync.Once
	err  error

	writeMu sync.Mutex
	seq     uint64
	dropped uint64
}

// Info implements [telephony.Session].
func (s *session) Info() telephony.SessionInfo { return s.info }

// Frames implements [telephony.Session].
func (s *session) Frames() <-chan telephony.MediaFrame { return s.frames }

// Done implements [telephony.Session].
func (s *session) Done() <-chan struct{} { return s.done }

// Err implements [telephony.Session].
func (s *session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Write implements [telephony.Session]. The payload must already be in the
// negotiated codec.
func (s *session) Write(ctx context.Context, payload []byte) error {
	select {
	case <-s.done:
		return telephony.ErrSessionClosed
	default:
	}

	msg, err := json.Marshal(envelope{
		Event: "media",
		Media: &mediaPayload{Payload: base64.StdEncoding.EncodeToString(payload)},
	})
	if err != nil {
		return fmt.Errorf("telnyx: marshal media: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("telnyx: write media: %w", err)
	}
	return nil
}

// Clear implements [telephony.Session].
func (s *session) Clear(ctx context.Context) error {
	select {
	case <-s.done:
		return telephony.ErrSessionClosed
	default:
	}

	msg, err := json.Marshal(envelope{Event: "clear", StreamID: s.info.StreamID})
	if err != nil {
		return fmt.Errorf("telnyx: marshal clear: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("telnyx: write clear: %w", err)
	}
	return nil
}

// Stop implements [telephony.Session].
func (s *session) Stop(ctx context.Context) error {
	s.finish(nil, websocket.StatusNormalClosure, "call ended")
	return nil
}

// finish records the terminal error once and closes the websocket. The read
// loop observes the closure and exits, closing the frames channel.
func (s *session) finish(err error, code websocket.StatusCode, reason string) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
		s.conn.Close(code, reason)
	})
}

// readLoop consumes envelopes until the stream stops or the connection
// drops. It owns the frames channel.
func (s *session) readLoop() {
	defer close(s.frames)

	for {
		_, msg, err := s.conn.Read(context.Background())
		if err != nil {
			select {
			case <-s.done:
				// Local Stop already closed the connection.
			default:
				s.finish(fmt.Errorf("telnyx: connection dropped: %w", err),
					websocket.StatusInternalError, "read failed")
			}
			return
		}

		env, err := parseEnvelope(msg)
		if err != nil {
			s.log.Warn("dropping malformed envelope", "error", err)
			continue
		}

		switch env.Event {
		case "media":
			frame, err := s.mediaFrame(env)
			if err != nil {
				s.log.Warn("dropping malformed media event", "error", err)
				continue
			}
			select {
			case s.frames <- frame:
			default:
				s.dropped++
				if s.dropped%100 == 1 {
					s.log.Warn("inbound frame buffer full", "dropped_total", s.dropped)
				}
			}
		case "stop":
			s.finish(nil, websocket.StatusNormalClosure, "remote stop")
			return
		default:
			// Unknown events (mark, dtmf) are ignored.
		}
	}
}

// mediaFrame converts a media envelope into a MediaFrame.
func (s *session) mediaFrame(env envelope) (telephony.MediaFrame, error) {
	if env.Media == nil || env.Media.Payload == "" {
		return telephony.MediaFrame{}, errors.New("telnyx: media event without payload")
	}
	data, err := base64.StdEncoding.DecodeString(env.Media.Payload)
	if err != nil {
		return telephony.MediaFrame{}, fmt.Errorf("telnyx: decode payload: %w", err)
	}

	s.seq++
	seq := s.seq
	if env.SequenceNumber != "" {
		if n, err := strconv.ParseUint(env.SequenceNumber, 10, 64); err == nil {
			seq = n
		}
	}

	ts := time.Now()
	if env.Media.Timestamp != "" {
		if ms, err := strconv.ParseInt(env.Media.Timestamp, 10, 64); err == nil {
			ts = time.UnixMilli(ms)
		}
	}

	return telephony.MediaFrame{Payload: data, Sequence: seq, Timestamp: ts}, nil
}

// Ensure the adapter satisfies the transport contract.
var (
	_ telephony.Transport = (*Server)(nil)
	_ telephony.Session   = (*session)(nil)
)
