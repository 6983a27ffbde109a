// Package types defines the shared types used across all Ordovox packages.
//
// These types form the lingua franca between the telephony transport, the
// audio pipeline, the speech providers, and the per-call orchestrator. They
// are intentionally minimal: each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport, received from the
// telephone media stream, decoded by codecs, gated by VAD, and forwarded to
// the STT session.
type AudioFrame struct {
	// PCM audio data. Sample rate and channel count are determined by the
	// pipeline config; telephony frames are 8 kHz mono 16-bit after decode.
	Data []byte

	// SampleRate in Hz (8000 for G.711 telephony, 16000 for opus trunks).
	SampleRate int

	// Channels: always 1 for telephone audio.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript. Only final transcripts may drive dialogue state.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// KeywordBoost is a vocabulary hint passed to STT providers to raise the
// recognition probability of uncommon words such as drug brand names.
type KeywordBoost struct {
	// Keyword is the word or short phrase to boost.
	Keyword string

	// Boost is the provider-specific intensity. Deepgram accepts roughly
	// -10 to 10; 1 is a mild nudge.
	Boost float64
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// VoiceProfile describes a TTS voice configuration for the agent.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Stability controls synthesis variance (0.0–1.0, lower = more lively).
	Stability float64

	// SimilarityBoost controls fidelity to the reference voice (0.0–1.0).
	SimilarityBoost float64

	// Style controls style exaggeration (0.0–1.0, 0 = neutral).
	Style float64

	// SpeakerBoost enables the provider's clarity enhancement.
	SpeakerBoost bool
}

// Product is a catalog record as served by the product index. Product values
// are immutable within a call's lifetime; versioning is the catalog's concern.
type Product struct {
	// Key is the canonical product identifier (CIP/EAN), treated as an
	// opaque string.
	Key string

	// DisplayName is the name spoken back to the caller.
	DisplayName string

	// Category groups products for embedding and reporting purposes.
	Category string

	// UnitPrice is the list price per unit in the tenant's currency.
	UnitPrice float64

	// Metadata holds supplier-specific attributes (supplier code, pack size).
	Metadata map[string]string
}

// Candidate is a ranked product match returned by the catalog index.
type Candidate struct {
	// Product is the matched catalog record.
	Product Product

	// Score is the match similarity in [0, 1]; cosine similarity for
	// semantic hits, a fixed 0.7 for fuzzy fallback hits.
	Score float64

	// MatchType records how the candidate was found: "semantic" or "fuzzy".
	MatchType string
}
