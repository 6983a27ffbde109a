package dialogue

import (
	"github.com/ordovox/ordovox/internal/extract"
	"github.com/ordovox/ordovox/internal/order"
	"github.com/ordovox/ordovox/pkg/types"
)

// Event is an input to the machine. Events arrive one at a time; the
// orchestrator owns the serialization.
type Event interface {
	isEvent()
}

// CallStarted fires once when the media session is up.
type CallStarted struct{}

// FinalTranscript carries a final transcript with its measured confidence.
type FinalTranscript struct {
	Text       string
	Confidence float64
}

// Resolution pairs one extracted item with its catalog and stock outcome.
// Candidate is nil when the catalog had no match.
type Resolution struct {
	Item      extract.Item
	Candidate *types.Candidate
	InStock   bool
}

// ItemsResolved reports the outcome of an Extract effect. An empty Results
// slice means the extractor found no items in the utterance.
type ItemsResolved struct {
	Results []Resolution
}

// OrderFinalized reports the outcome of a Finalize effect.
type OrderFinalized struct {
	Order order.Order
	Err   error
}

// TranscriptionLost fires when the transcription stream died for good and no
// further caller speech will arrive.
type TranscriptionLost struct{}

func (CallStarted) isEvent()       {}
func (FinalTranscript) isEvent()   {}
func (ItemsResolved) isEvent()     {}
func (OrderFinalized) isEvent()    {}
func (TranscriptionLost) isEvent() {}

// Effect is an instruction to the orchestrator. The machine never touches a
// provider itself; it asks for work and consumes the resulting event.
type Effect interface {
	isEffect()
}

// Say speaks one assistant utterance to the caller.
type Say struct {
	Text string
}

// Extract asks for LLM extraction of the utterance, followed by catalog and
// stock resolution of each item. The answer comes back as ItemsResolved.
type Extract struct {
	Utterance string
	History   []types.Message
}

// Finalize asks for order creation from the accumulated draft. AvgConfidence
// is the call's average transcript confidence at confirmation time, which
// feeds the review rules. The answer comes back as OrderFinalized.
type Finalize struct {
	Items         []order.ResolvedItem
	AvgConfidence float64
}

// Transition reports a state change the machine has already applied. Emitted
// for observability; the orchestrator does not act on it.
type Transition struct {
	From State
	To   State
}

// Transfer hands the call to a human agent after queued audio drains.
type Transfer struct {
	Reason string
}

// Hangup ends the call after queued audio drains.
type Hangup struct {
	Reason string
}

func (Say) isEffect()        {}
func (Extract) isEffect()    {}
func (Finalize) isEffect()   {}
func (Transition) isEffect() {}
func (Transfer) isEffect()   {}
func (Hangup) isEffect()     {}
