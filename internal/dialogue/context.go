package dialogue

import (
	"time"

	"github.com/ordovox/ordovox/pkg/types"
)

// turnRingCap bounds the conversation history kept per call. Twelve turns
// comfortably covers the five-turn extraction window plus the assistant's
// replies.
const turnRingCap = 12

// DraftItem is one order line in the running draft, added after catalog
// resolution. Lines the stock check flagged stay in the draft with InStock
// false so finalization can park the order for review instead of silently
// dropping them.
type DraftItem struct {
	Product    types.Product
	Quantity   int
	Unit       string
	MatchScore float64
	InStock    bool
}

// Context is the per-call conversation state. It is owned by one Machine and
// is not safe for concurrent use; the orchestrator serializes events.
type Context struct {
	CallID string
	State  State

	// Items is the running order draft.
	Items []DraftItem

	// LastTranscript is the most recent transcript text, partial or final.
	LastTranscript string

	attempts    int
	confidences []float64
	turns       []types.Message

	StartedAt   time.Time
	LastUpdated time.Time
}

// NewContext creates an Idle context for a call.
func NewContext(callID string) *Context {
	now := time.Now()
	return &Context{
		CallID:      callID,
		State:       Idle,
		StartedAt:   now,
		LastUpdated: now,
	}
}

// AddTurn appends a conversation turn, evicting the oldest once the ring is
// full.
func (c *Context) AddTurn(role, content string) {
	c.turns = append(c.turns, types.Message{Role: role, Content: content})
	if len(c.turns) > turnRingCap {
		c.turns = c.turns[len(c.turns)-turnRingCap:]
	}
	c.LastUpdated = time.Now()
}

// History returns a copy of the retained turns, oldest first.
func (c *Context) History() []types.Message {
	out := make([]types.Message, len(c.turns))
	copy(out, c.turns)
	return out
}

// AddConfidence appends a measured transcript confidence. Floor confidences
// injected by the machine are never recorded here.
func (c *Context) AddConfidence(conf float64) {
	c.confidences = append(c.confidences, conf)
	c.LastUpdated = time.Now()
}

// AvgConfidence is the arithmetic mean of the measured confidences. An
// empty sequence yields 0, which never triggers escalation.
func (c *Context) AvgConfidence() float64 {
	if len(c.confidences) == 0 {
		return 0
	}
	var sum float64
	for _, v := range c.confidences {
		sum += v
	}
	return sum / float64(len(c.confidences))
}

// IncrementAttempts bumps and returns the failed-understanding counter.
func (c *Context) IncrementAttempts() int {
	c.attempts++
	c.LastUpdated = time.Now()
	return c.attempts
}

// Attempts returns the failed-understanding counter.
func (c *Context) Attempts() int {
	return c.attempts
}

// AddItem appends a draft line.
func (c *Context) AddItem(item DraftItem) {
	c.Items = append(c.Items, item)
	c.LastUpdated = time.Now()
}
