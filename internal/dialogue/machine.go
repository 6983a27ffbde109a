// Package dialogue implements the per-call conversation state machine for
// order taking in French.
//
// The machine is deliberately passive: Handle consumes one Event, mutates
// its Context, and returns the Effects the orchestrator must carry out (speak
// an utterance, run extraction, finalize the order, transfer, hang up). All
// provider I/O stays outside, which keeps every conversational rule testable
// without a single network connection.
package dialogue

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ordovox/ordovox/internal/order"
)

const (
	// escalationAttempts is the failed-understanding count that hands the
	// call to a human.
	escalationAttempts = 3

	// lowConfidenceBound is both the per-utterance clarification threshold
	// and the average-confidence escalation bound.
	lowConfidenceBound = 0.70

	// maxQuantity rejects absurd extractions; anything above is treated as
	// not-found so the caller restates the line.
	maxQuantity = 1000

	// Floor confidences injected when a transcript is re-dispatched after a
	// state change. Floors are used for the threshold check only and are
	// never appended to the measured sequence.
	greetingFloor   = 0.95
	clarifyingFloor = 0.85
	additiveFloor   = 0.90
)

// Machine drives one call's conversation.
type Machine struct {
	ctx     *Context
	log     *slog.Logger
	company string
}

// Option is a functional option for Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// WithCompanyName sets the company name spoken in the greeting.
func WithCompanyName(name string) Option {
	return func(m *Machine) {
		m.company = name
	}
}

// New creates a Machine for a call, starting in Idle.
func New(callID string, opts ...Option) *Machine {
	m := &Machine{
		ctx:     NewContext(callID),
		log:     slog.Default(),
		company: DefaultCompanyName,
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("call_id", callID)
	return m
}

// Context exposes the conversation state for the orchestrator and tests.
func (m *Machine) Context() *Context {
	return m.ctx
}

// State returns the current state.
func (m *Machine) State() State {
	return m.ctx.State
}

// Handle consumes one event and returns the effects to carry out. It is not
// safe for concurrent use; the orchestrator serializes events.
func (m *Machine) Handle(ev Event) []Effect {
	switch ev := ev.(type) {
	case CallStarted:
		return m.handleCallStarted()
	case FinalTranscript:
		return m.handleTranscript(ev)
	case ItemsResolved:
		return m.handleResolved(ev)
	case OrderFinalized:
		return m.handleOrderResult(ev)
	case TranscriptionLost:
		return m.handleTranscriptionLost()
	default:
		m.log.Warn("unknown dialogue event", "event", fmt.Sprintf("%T", ev))
		return nil
	}
}

func (m *Machine) handleCallStarted() []Effect {
	effs := m.transition(Greeting)
	text := greetingText(m.company)
	m.ctx.AddTurn("assistant", text)
	return append(effs, Say{Text: text})
}

func (m *Machine) handleTranscript(ev FinalTranscript) []Effect {
	if m.ctx.State.Terminal() {
		return nil
	}

	m.ctx.LastTranscript = ev.Text
	m.ctx.AddConfidence(ev.Confidence)
	m.ctx.AddTurn("user", ev.Text)

	if effs, escalated := m.escalate(); escalated {
		return effs
	}

	switch m.ctx.State {
	case Greeting:
		effs := m.transition(Collecting)
		return append(effs, m.collecting(ev.Text, greetingFloor)...)
	case Collecting:
		return m.collecting(ev.Text, ev.Confidence)
	case Clarifying:
		effs := m.transition(Collecting)
		return append(effs, m.collecting(ev.Text, clarifyingFloor)...)
	case Confirming:
		return m.confirming(ev.Text)
	default:
		m.log.Debug("transcript ignored in state", "state", m.ctx.State.String())
		return nil
	}
}

// collecting runs the Collecting branch with the effective confidence, which
// may be a floor rather than the measured value.
func (m *Machine) collecting(text string, confidence float64) []Effect {
	// A finalize keyword wins over the confidence check.
	if matchesAny(text, finalizeKeywords) {
		effs := m.transition(Confirming)
		resp := recapText(formatRecap(m.ctx.Items))
		m.ctx.AddTurn("assistant", resp)
		return append(effs, Say{Text: resp})
	}

	if confidence < lowConfidenceBound {
		m.ctx.IncrementAttempts()
		if effs, escalated := m.escalate(); escalated {
			return effs
		}
		effs := m.transition(Clarifying)
		m.ctx.AddTurn("assistant", clarifyText)
		return append(effs, Say{Text: clarifyText})
	}

	return []Effect{Extract{Utterance: text, History: m.ctx.History()}}
}

// handleResolved turns extraction results into draft lines and one spoken
// reply made of per-item fragments.
func (m *Machine) handleResolved(ev ItemsResolved) []Effect {
	if m.ctx.State != Collecting {
		m.log.Debug("extraction result ignored in state", "state", m.ctx.State.String())
		return nil
	}

	if len(ev.Results) == 0 {
		m.ctx.AddTurn("assistant", notUnderstoodText)
		return []Effect{Say{Text: notUnderstoodText}}
	}

	var fragments []string
	for _, r := range ev.Results {
		switch {
		case r.Item.Quantity <= 0 || r.Item.Quantity > maxQuantity:
			fragments = append(fragments, notFoundText(r.Item.Name))
		case r.Candidate == nil:
			fragments = append(fragments, notFoundText(r.Item.Name))
		case !r.InStock:
			// Kept in the draft so the finalized order carries the line and
			// lands in human review.
			m.ctx.AddItem(DraftItem{
				Product:    r.Candidate.Product,
				Quantity:   r.Item.Quantity,
				Unit:       r.Item.Unit,
				MatchScore: r.Candidate.Score,
				InStock:    false,
			})
			fragments = append(fragments, outOfStockText(r.Candidate.Product.DisplayName))
		default:
			m.ctx.AddItem(DraftItem{
				Product:    r.Candidate.Product,
				Quantity:   r.Item.Quantity,
				Unit:       r.Item.Unit,
				MatchScore: r.Candidate.Score,
				InStock:    true,
			})
			fragments = append(fragments, ackText(r.Item.Quantity, r.Item.Unit, r.Candidate.Product.DisplayName))
		}
	}

	resp := strings.Join(fragments, " ")
	m.ctx.AddTurn("assistant", resp)
	return []Effect{Say{Text: resp}}
}

func (m *Machine) confirming(text string) []Effect {
	// Affirmative wins when a transcript somehow matches both sets.
	switch {
	case matchesAny(text, affirmativeKeywords):
		effs := m.transition(Processing)
		items := make([]order.ResolvedItem, len(m.ctx.Items))
		for i, it := range m.ctx.Items {
			items[i] = order.ResolvedItem{
				Product:    it.Product,
				Quantity:   it.Quantity,
				Unit:       it.Unit,
				MatchScore: it.MatchScore,
				InStock:    it.InStock,
			}
		}
		return append(effs, Finalize{Items: items, AvgConfidence: m.ctx.AvgConfidence()})

	case matchesAny(text, additiveKeywords):
		effs := m.transition(Collecting)
		return append(effs, m.collecting(text, additiveFloor)...)

	default:
		effs := m.transition(Collecting)
		m.ctx.AddTurn("assistant", modifyText)
		return append(effs, Say{Text: modifyText})
	}
}

func (m *Machine) handleOrderResult(ev OrderFinalized) []Effect {
	if ev.Err != nil {
		m.log.Error("order finalization failed", "error", ev.Err)
		effs := m.transition(Error)
		m.ctx.AddTurn("assistant", errorText)
		return append(effs, Say{Text: errorText})
	}

	effs := m.transition(Completed)
	text := completedText(ev.Order.ID)
	m.ctx.AddTurn("assistant", text)
	return append(effs, Say{Text: text}, Hangup{Reason: "order completed"})
}

// handleTranscriptionLost hands the call to a human when the transcription
// stream is gone mid-conversation. Without transcripts the machine can never
// advance, so the only useful move is the transfer announcement.
func (m *Machine) handleTranscriptionLost() []Effect {
	if m.ctx.State.Terminal() || m.ctx.State == Processing {
		// Processing no longer needs the caller; let OrderFinalized land.
		return nil
	}
	effs := m.transition(Transferring)
	m.ctx.AddTurn("assistant", transferText)
	m.log.Warn("transcription lost, transferring call")
	return append(effs, Say{Text: transferText}, Transfer{Reason: "transcription lost"})
}

// escalate checks the human-transfer conditions: three failed attempts or a
// measured average confidence strictly between zero and the bound.
func (m *Machine) escalate() ([]Effect, bool) {
	avg := m.ctx.AvgConfidence()
	if m.ctx.Attempts() < escalationAttempts && !(avg > 0 && avg < lowConfidenceBound) {
		return nil, false
	}

	effs := m.transition(Transferring)
	m.ctx.AddTurn("assistant", transferText)
	m.log.Info("escalating to human agent",
		"attempts", m.ctx.Attempts(),
		"avg_confidence", avg)
	return append(effs, Say{Text: transferText}, Transfer{Reason: "escalation"}), true
}

// transition applies a state change if the table allows it. A disallowed
// target is a logged no-op, never a call failure.
func (m *Machine) transition(to State) []Effect {
	from := m.ctx.State
	if !CanTransition(from, to) {
		m.log.Warn("disallowed state transition ignored",
			"from", from.String(), "to", to.String())
		return nil
	}
	m.ctx.State = to
	m.log.Debug("state transition", "from", from.String(), "to", to.String())
	return []Effect{Transition{From: from, To: to}}
}
