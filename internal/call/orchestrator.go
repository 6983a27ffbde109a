package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ordovox/ordovox/internal/callstore"
	"github.com/ordovox/ordovox/internal/catalog"
	"github.com/ordovox/ordovox/internal/dialogue"
	"github.com/ordovox/ordovox/internal/extract"
	"github.com/ordovox/ordovox/internal/order"
	"github.com/ordovox/ordovox/internal/stock"
	"github.com/ordovox/ordovox/pkg/audio"
	"github.com/ordovox/ordovox/pkg/provider/stt"
	"github.com/ordovox/ordovox/pkg/provider/tts"
	"github.com/ordovox/ordovox/pkg/provider/vad"
	"github.com/ordovox/ordovox/pkg/telephony"
	"github.com/ordovox/ordovox/pkg/types"
)

// errTransportClosed marks the normal end of a call: the carrier closed the
// media stream.
var errTransportClosed = errors.New("transport closed")

// Deadlines bounds each per-operation round trip on the call path.
type Deadlines struct {
	Extract       time.Duration // LLM extraction, default 8s
	Catalog       time.Duration // product search, default 1s
	Stock         time.Duration // stock check, default 1s
	TTSFirstChunk time.Duration // synthesis start, default 2s
	Sink          time.Duration // order finalization, default 5s
}

func (d Deadlines) withDefaults() Deadlines {
	if d.Extract <= 0 {
		d.Extract = 8 * time.Second
	}
	if d.Catalog <= 0 {
		d.Catalog = time.Second
	}
	if d.Stock <= 0 {
		d.Stock = time.Second
	}
	if d.TTSFirstChunk <= 0 {
		d.TTSFirstChunk = 2 * time.Second
	}
	if d.Sink <= 0 {
		d.Sink = 5 * time.Second
	}
	return d
}

// Config tunes the per-call behavior of the Orchestrator.
type Config struct {
	// SessionTimeout caps the total call duration. Default 30m.
	SessionTimeout time.Duration

	// DrainTimeout bounds how long teardown waits for queued utterances to
	// finish playing. Default 500ms.
	DrainTimeout time.Duration

	// OutboundQueueSize bounds the pending-utterance queue. Default 8.
	OutboundQueueSize int

	// CompanyName is spoken in the greeting.
	CompanyName string

	// Language is the STT recognition language. Default "fr".
	Language string

	// Keywords boosts recognition of catalog vocabulary.
	Keywords []types.KeywordBoost

	// Deadlines bounds each operation on the call path.
	Deadlines Deadlines
}

func (c Config) withDefaults() Config {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Minute
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 500 * time.Millisecond
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = defaultOutboundQueueSize
	}
	if c.Language == "" {
		c.Language = "fr"
	}
	c.Deadlines = c.Deadlines.withDefaults()
	return c
}

// Deps are the collaborators an Orchestrator needs. VAD is optional; all
// other fields are required.
type Deps struct {
	Registry  *Registry
	STT       stt.Provider
	TTS       tts.Synthesizer
	Voice     types.VoiceProfile
	Extractor *extract.Extractor
	Catalog   catalog.Index
	Stock     stock.Service
	Orders    *order.Service
	Calls     callstore.Store
	VAD       vad.Engine
	Logger    *slog.Logger
}

// Orchestrator runs calls end to end: media in, transcripts, dialogue
// effects, synthesized speech out, order finalization, teardown. One
// HandleSession invocation per call; the instance itself is shared.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:  cfg.withDefaults(),
		deps: deps,
		log:  log,
	}
}

// callState is the per-call mutable state shared between the loops.
type callState struct {
	machine  *dialogue.Machine
	queue    *outboundQueue
	pipeline *audio.Pipeline
	sttH     stt.SessionHandle
	sess     telephony.Session
	log      *slog.Logger

	mu      sync.Mutex
	status  string
	orderID string

	stopOnce sync.Once
	stopCh   chan struct{}
}

// finish records the terminal status once and signals graceful teardown.
func (st *callState) finish(status string) {
	st.mu.Lock()
	if st.status == "" {
		st.status = status
	}
	st.mu.Unlock()
	st.stopOnce.Do(func() { close(st.stopCh) })
}

func (st *callState) terminal() (status, orderID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status, st.orderID
}

func (st *callState) setOrderID(id string) {
	st.mu.Lock()
	st.orderID = id
	st.mu.Unlock()
}

// HandleSession runs one call to completion. It blocks until the call ends
// and returns the reason the call could not be served, or nil for a normal
// call lifecycle (including caller hangup and human transfer).
func (o *Orchestrator) HandleSession(ctx context.Context, sess telephony.Session) error {
	info := sess.Info()
	log := o.log.With("call_id", info.CallID)

	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, o.cfg.SessionTimeout)
	defer cancelTimeout()
	callCtx, cancel := context.WithCancelCause(timeoutCtx)
	defer cancel(nil)

	if err := o.deps.Registry.Admit(info.CallID, info.From, cancel); err != nil {
		log.Warn("call refused", "error", err)
		o.persistRejected(info)
		_ = sess.Stop(context.Background())
		return fmt.Errorf("call: admit %s: %w", info.CallID, err)
	}

	if err := o.deps.Calls.CallStarted(callCtx, info.CallID, info.From, info.To, time.Now()); err != nil {
		// Audit row only; never fails a live call.
		log.Warn("recording call start failed", "error", err)
	}

	st, err := o.setup(callCtx, info, sess, log)
	if err != nil {
		o.teardownEarly(info.CallID, sess, log)
		return err
	}

	g, gctx := errgroup.WithContext(callCtx)
	g.Go(func() error { return o.inboundLoop(gctx, st) })
	g.Go(func() error { return o.transcriptLoop(gctx, st) })
	g.Go(func() error { return o.outboundLoop(gctx, st) })

	select {
	case <-st.stopCh:
	case <-gctx.Done():
	}

	// Terminal status: a dialogue-initiated end has already set it;
	// otherwise classify by why the context ended. A stale reap counts as a
	// timeout, same as the session ceiling.
	status, _ := st.terminal()
	if status == "" {
		cause := context.Cause(callCtx)
		switch {
		case errors.Is(cause, ErrReaped), errors.Is(cause, context.DeadlineExceeded):
			status = callstore.StatusTimeout
		default:
			status = callstore.StatusDropped
		}
		st.finish(status)
	}

	// Teardown order: stop transcription, let queued speech finish, stop
	// media, release capacity, persist the outcome.
	_ = st.sttH.Close()
	o.drainOutbound(st)
	_ = sess.Stop(context.Background())
	cancel(nil)
	err = g.Wait()
	_ = st.pipeline.Close()

	o.deps.Registry.Release(info.CallID)

	status, orderID := st.terminal()
	persistCtx, persistCancel := context.WithTimeout(context.Background(), o.cfg.Deadlines.Sink)
	defer persistCancel()
	if perr := o.deps.Calls.CallEnded(persistCtx, info.CallID, status, orderID, time.Now()); perr != nil {
		log.Error("recording call end failed", "error", perr)
	}
	log.Info("call ended", "status", status, "order_id", orderID,
		"dropped_utterances", st.queue.droppedCount(),
		"dropped_audio_bytes", st.pipeline.DroppedBytes(),
		"malformed_frames", st.pipeline.MalformedFrames())

	if err != nil && !isExpectedEnd(err) {
		return fmt.Errorf("call %s: %w", info.CallID, err)
	}
	return nil
}

// setup builds the per-call pipeline, STT stream, machine, and queue.
func (o *Orchestrator) setup(ctx context.Context, info telephony.SessionInfo, sess telephony.Session, log *slog.Logger) (*callState, error) {
	codec, err := audio.CodecByName(info.Codec, info.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("call: codec %q: %w", info.Codec, err)
	}

	var vadSession vad.SessionHandle
	if o.deps.VAD != nil {
		vadSession, err = o.deps.VAD.NewSession(vad.Config{
			SampleRate:      info.SampleRate,
			FrameSizeMs:     20,
			SpeechThreshold: 0.5,
		})
		if err != nil {
			// The gate fails open without VAD; keep the call alive.
			log.Warn("vad session unavailable, gating disabled", "error", err)
			vadSession = nil
		}
	}

	pipeline, err := audio.NewPipeline(audio.PipelineConfig{
		Codec:      codec,
		VAD:        vadSession,
		SampleRate: info.SampleRate,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("call: pipeline: %w", err)
	}

	sttH, err := o.deps.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		Language:   o.cfg.Language,
		Keywords:   o.cfg.Keywords,
	})
	if err != nil {
		_ = pipeline.Close()
		return nil, fmt.Errorf("call: start stt: %w", err)
	}

	return &callState{
		machine:  dialogue.New(info.CallID, dialogue.WithLogger(log), dialogue.WithCompanyName(o.cfg.CompanyName)),
		queue:    newOutboundQueue(o.cfg.OutboundQueueSize, log),
		pipeline: pipeline,
		sttH:     sttH,
		sess:     sess,
		log:      log,
		stopCh:   make(chan struct{}),
	}, nil
}

// inboundLoop moves media frames through the pipeline into the STT stream
// and clears queued speech on barge-in.
func (o *Orchestrator) inboundLoop(ctx context.Context, st *callState) error {
	buf := make([]byte, 3200)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-st.sess.Frames():
			if !ok {
				return errTransportClosed
			}
			for _, edge := range st.pipeline.ProcessInbound(frame.Payload) {
				if edge == audio.EdgeSpeechStart {
					// Barge-in: the caller talks over us. Drop queued
					// utterances and flush transport playback.
					if n := st.queue.clear(); n > 0 {
						st.log.Debug("barge-in cleared pending utterances", "count", n)
					}
					_ = st.sess.Clear(ctx)
				}
			}
			for {
				n := st.pipeline.ReadBuffered(buf)
				if n == 0 {
					break
				}
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if err := st.sttH.SendAudio(chunk); err != nil {
					if errors.Is(err, stt.ErrSessionClosed) {
						return nil
					}
					if errors.Is(err, stt.ErrUpstreamUnavailable) {
						// Transcription is gone for good; the finals channel
						// closes and the transcript loop runs the handover.
						st.log.Warn("stt upstream unavailable, stopping inbound audio")
						return nil
					}
					return fmt.Errorf("send audio: %w", err)
				}
			}
		}
	}
}

// transcriptLoop feeds STT results into the dialogue machine. It is the only
// goroutine that touches the machine, which keeps event handling serialized.
func (o *Orchestrator) transcriptLoop(ctx context.Context, st *callState) error {
	o.dispatch(ctx, st, dialogue.CallStarted{})

	partials := st.sttH.Partials()
	finals := st.sttH.Finals()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			st.machine.Context().LastTranscript = tr.Text
		case tr, ok := <-finals:
			if !ok {
				// A dead transcript stream mid-call means the caller can no
				// longer be heard; announce the handover to a human.
				if ctx.Err() == nil && !st.machine.State().Terminal() {
					o.dispatch(ctx, st, dialogue.TranscriptionLost{})
				}
				return nil
			}
			st.log.Debug("final transcript", "text", tr.Text, "confidence", tr.Confidence)
			o.dispatch(ctx, st, dialogue.FinalTranscript{
				Text:       tr.Text,
				Confidence: tr.Confidence,
			})
			if st.machine.State().Terminal() {
				return nil
			}
		}
	}
}

// dispatch feeds one event to the machine and carries out the returned
// effects, recursing for effects that produce follow-up events.
func (o *Orchestrator) dispatch(ctx context.Context, st *callState, ev dialogue.Event) {
	for _, eff := range st.machine.Handle(ev) {
		switch eff := eff.(type) {
		case dialogue.Say:
			st.queue.push(eff.Text)

		case dialogue.Transition:
			// Already logged by the machine.

		case dialogue.Extract:
			o.dispatch(ctx, st, dialogue.ItemsResolved{
				Results: o.resolve(ctx, st, eff),
			})

		case dialogue.Finalize:
			sinkCtx, cancel := context.WithTimeout(ctx, o.cfg.Deadlines.Sink)
			ord, err := o.deps.Orders.Finalize(sinkCtx, st.machine.Context().CallID, eff.Items, eff.AvgConfidence)
			cancel()
			if err == nil {
				st.setOrderID(ord.ID)
			}
			o.dispatch(ctx, st, dialogue.OrderFinalized{Order: ord, Err: err})

		case dialogue.Transfer:
			st.finish(callstore.StatusTransferred)

		case dialogue.Hangup:
			st.finish(callstore.StatusCompleted)

		default:
			st.log.Warn("unknown dialogue effect", "effect", fmt.Sprintf("%T", eff))
		}
	}
}

// resolve runs extraction and then catalog and stock resolution for each
// extracted item, each under its own deadline.
func (o *Orchestrator) resolve(ctx context.Context, st *callState, eff dialogue.Extract) []dialogue.Resolution {
	extractCtx, cancel := context.WithTimeout(ctx, o.cfg.Deadlines.Extract)
	items := o.deps.Extractor.Extract(extractCtx, eff.Utterance, eff.History)
	cancel()

	results := make([]dialogue.Resolution, 0, len(items))
	for _, item := range items {
		res := dialogue.Resolution{Item: item}

		catalogCtx, cancel := context.WithTimeout(ctx, o.cfg.Deadlines.Catalog)
		candidates, err := o.deps.Catalog.Search(catalogCtx, item.Name, catalog.DefaultTopK)
		cancel()
		if err != nil {
			st.log.Warn("catalog search failed, treating as not found",
				"query", item.Name, "error", err)
		}
		if len(candidates) > 0 {
			best := candidates[0]
			res.Candidate = &best

			stockCtx, cancel := context.WithTimeout(ctx, o.cfg.Deadlines.Stock)
			inStock, err := o.deps.Stock.InStock(stockCtx, best.Product.Key, item.Quantity)
			cancel()
			if err != nil {
				st.log.Warn("stock check failed, treating as out of stock",
					"product_key", best.Product.Key, "error", err)
			}
			res.InStock = inStock
		}
		results = append(results, res)
	}
	return results
}

// outboundLoop synthesizes queued utterances and writes the encoded audio to
// the transport.
func (o *Orchestrator) outboundLoop(ctx context.Context, st *callState) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text := <-st.queue.pending():
			if err := o.speak(ctx, st, text); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				st.log.Warn("utterance playback failed", "error", err)
			}
		}
	}
}

// speak synthesizes one utterance and streams it to the caller. The first
// chunk must arrive within the TTS deadline; afterwards the stream is only
// bounded by the call context.
func (o *Orchestrator) speak(ctx context.Context, st *callState, text string) error {
	chunks := o.deps.TTS.Synthesize(ctx, text, o.deps.Voice)

	first := true
	firstDeadline := time.NewTimer(o.cfg.Deadlines.TTSFirstChunk)
	defer firstDeadline.Stop()

	for {
		if first {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-firstDeadline.C:
				return fmt.Errorf("tts first chunk deadline exceeded")
			case chunk, ok := <-chunks:
				if !ok {
					return nil
				}
				first = false
				if err := o.writeChunk(ctx, st, chunk); err != nil {
					return err
				}
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			if err := o.writeChunk(ctx, st, chunk); err != nil {
				return err
			}
		}
	}
}

func (o *Orchestrator) writeChunk(ctx context.Context, st *callState, pcm []byte) error {
	payload, err := st.pipeline.EncodeOutbound(pcm)
	if err != nil {
		return err
	}
	return st.sess.Write(ctx, payload)
}

// drainOutbound waits for queued utterances to finish playing, bounded by
// the drain timeout.
func (o *Orchestrator) drainOutbound(st *callState) {
	deadline := time.Now().Add(o.cfg.DrainTimeout)
	for time.Now().Before(deadline) {
		if len(st.queue.ch) == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	if n := st.queue.clear(); n > 0 {
		st.log.Warn("drain timeout, discarding pending utterances", "count", n)
	}
}

// persistRejected records a capacity refusal as a terminal row.
func (o *Orchestrator) persistRejected(info telephony.SessionInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Deadlines.Sink)
	defer cancel()
	now := time.Now()
	if err := o.deps.Calls.CallStarted(ctx, info.CallID, info.From, info.To, now); err != nil {
		return
	}
	_ = o.deps.Calls.CallEnded(ctx, info.CallID, callstore.StatusRejected, "", now)
}

// teardownEarly cleans up when setup fails before the loops started.
func (o *Orchestrator) teardownEarly(callID string, sess telephony.Session, log *slog.Logger) {
	_ = sess.Stop(context.Background())
	o.deps.Registry.Release(callID)
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Deadlines.Sink)
	defer cancel()
	if err := o.deps.Calls.CallEnded(ctx, callID, callstore.StatusFailed, "", time.Now()); err != nil {
		log.Warn("recording failed call end", "error", err)
	}
}

// isExpectedEnd filters the loop errors that describe a normal call ending.
func isExpectedEnd(err error) bool {
	return errors.Is(err, errTransportClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
