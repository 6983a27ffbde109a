// Package deepgram provides a Deepgram-backed STT provider using the
// Deepgram streaming WebSocket API. It implements the stt.Provider
// interface.
//
// Telephone audio arrives as raw PCM after the pipeline decode, so sessions
// are opened with encoding=linear16 at the call's sample rate. A dropped
// connection is redialed inside the session with exponential backoff; only
// after the attempts are exhausted does SendAudio surface
// stt.ErrUpstreamUnavailable.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ordovox/ordovox/pkg/provider/stt"
	"github.com/ordovox/ordovox/pkg/types"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-2"
	defaultLanguage   = "fr"
	defaultSampleRate = 8000

	// reconnectAttempts bounds in-session redials after a connection drop.
	reconnectAttempts = 3
	backoffInitial    = time.Second
	backoffMax        = 10 * time.Second
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-2", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "fr", "fr-CA").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithLogger sets the logger used for reconnect diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(p *Provider) {
		p.log = log
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
	log        *slog.Logger
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
// It respects cfg.SampleRate, cfg.Language, and cfg.Keywords.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	conn, err := p.dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		dial:     func(ctx context.Context) (*websocket.Conn, error) { return p.dial(ctx, wsURL) },
		conn:     conn,
		log:      p.log,
		partials: make(chan types.Transcript, 64),
		finals:   make(chan types.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	sess.wg.Add(1)
	go sess.run(ctx)

	return sess, nil
}

func (p *Provider) dial(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	return conn, err
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Doliprane:5")
		val := fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost)
		q.Add("keywords", val)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	dial func(ctx context.Context) (*websocket.Conn, error)
	log  *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	partials chan types.Transcript
	finals   chan types.Transcript
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	failedMu sync.Mutex
	failed   bool
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	s.failedMu.Lock()
	failed := s.failed
	s.failedMu.Unlock()
	if failed {
		return stt.ErrUpstreamUnavailable
	}

	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

// Partials returns the channel of interim transcripts.
func (s *session) Partials() <-chan types.Transcript { return s.partials }

// Finals returns the channel of final transcripts.
func (s *session) Finals() <-chan types.Transcript { return s.finals }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Send a close message to Deepgram to flush pending audio.
		s.connMu.Lock()
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.connMu.Unlock()
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// run drives the read and write loops for the current connection and
// redials with backoff when the connection drops mid-call.
func (s *session) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		err := s.pump(ctx)
		if err == nil {
			// Clean end: Close was called or Deepgram finished the stream.
			return
		}
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.markFailed()
			return
		default:
		}

		if !s.reconnect(ctx, err) {
			s.markFailed()
			return
		}
	}
}

// pump runs one connection's read and write loops until either side ends.
// A nil return means the stream ended deliberately.
func (s *session) pump(ctx context.Context) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	readErr := make(chan error, 1)
	go func() { readErr <- s.readLoop(ctx, conn) }()

	for {
		select {
		case err := <-readErr:
			return err
		case chunk := <-s.audio:
			if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				// The read loop will observe the same failure; wait for
				// it so the connection is not redialed twice.
				return <-readErr
			}
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readLoop receives JSON messages from one connection and dispatches them
// to the partials and finals channels. Returns nil on a clean close.
func (s *session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return err
			}
		}

		t, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}

		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-s.done:
			return nil
		}
	}
}

// reconnect redials with exponential backoff. Reports whether a new
// connection was established.
func (s *session) reconnect(ctx context.Context, cause error) bool {
	backoff := backoffInitial
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		s.log.Warn("deepgram connection lost, redialing",
			"attempt", attempt, "backoff", backoff, "error", cause)

		select {
		case <-time.After(backoff):
		case <-s.done:
			return false
		case <-ctx.Done():
			return false
		}

		conn, err := s.dial(ctx)
		if err == nil {
			s.connMu.Lock()
			s.conn = conn
			s.connMu.Unlock()
			s.log.Info("deepgram reconnected", "attempt", attempt)
			return true
		}
		cause = err

		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
	s.log.Error("deepgram reconnect attempts exhausted", "error", cause)
	return false
}

func (s *session) markFailed() {
	s.failedMu.Lock()
	s.failed = true
	s.failedMu.Unlock()
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a Transcript.
// Returns (Transcript, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (types.Transcript, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.Transcript{}, false
	}
	if resp.Type != "Results" {
		return types.Transcript{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return types.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" {
		// Silence windows come back as empty finals at confidence 0 and
		// would poison the call's confidence average.
		return types.Transcript{}, false
	}
	return types.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Timestamp:  time.Duration(resp.Start * float64(time.Second)),
		Duration:   time.Duration(resp.Duration * float64(time.Second)),
	}, true
}

// Ensure the adapter satisfies the provider contract.
var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*session)(nil)
)
