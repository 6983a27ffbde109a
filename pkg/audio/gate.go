package audio

// Edge is a debounced change in voice activity reported by a [Gate].
type Edge int

const (
	// EdgeNone means the gate state did not change on this frame.
	EdgeNone Edge = iota

	// EdgeSpeechStart means the caller started speaking.
	EdgeSpeechStart

	// EdgeSpeechEnd means the caller stopped speaking and the hangover
	// window elapsed without further speech.
	EdgeSpeechEnd
)

// String returns the edge name for logs.
func (e Edge) String() string {
	switch e {
	case EdgeSpeechStart:
		return "speech_start"
	case EdgeSpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// Gate turns per-frame VAD decisions into debounced speech edges. A single
// non-speech frame inside an utterance (a plosive gap, a breath) must not
// split the utterance, so the gate only reports EdgeSpeechEnd after a full
// hangover window of consecutive non-speech frames.
//
// Gate is not safe for concurrent use; the pipeline drives it from one
// goroutine.
type Gate struct {
	hangoverFrames int
	inSpeech       bool
	silentRun      int
}

// NewGate creates a gate. hangoverMs is the silence duration required to
// close the gate, frameMs the duration of each VAD frame. Telephony defaults
// are 300 and 20.
func NewGate(hangoverMs, frameMs int) *Gate {
	if frameMs <= 0 {
		frameMs = 20
	}
	frames := hangoverMs / frameMs
	if frames < 1 {
		frames = 1
	}
	return &Gate{hangoverFrames: frames}
}

// Update feeds one frame-level VAD decision and returns the resulting edge,
// if any.
func (g *Gate) Update(speech bool) Edge {
	if speech {
		g.silentRun = 0
		if !g.inSpeech {
			g.inSpeech = true
			return EdgeSpeechStart
		}
		return EdgeNone
	}

	if !g.inSpeech {
		return EdgeNone
	}
	g.silentRun++
	if g.silentRun >= g.hangoverFrames {
		g.inSpeech = false
		g.silentRun = 0
		return EdgeSpeechEnd
	}
	return EdgeNone
}

// Open reports whether the gate currently considers the caller to be
// speaking, including the hangover window after the last speech frame.
func (g *Gate) Open() bool { return g.inSpeech }

// Reset returns the gate to the closed state without emitting an edge.
func (g *Gate) Reset() {
	g.inSpeech = false
	g.silentRun = 0
}
