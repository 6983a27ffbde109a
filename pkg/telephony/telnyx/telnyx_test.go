package telnyx

import (
	"encoding/base64"
	"log/slog"
	"testing"
	"time"
)

// ---- envelope parsing tests ----

func TestParseEnvelope_Start(t *testing.T) {
	raw := []byte(`{
		"event": "start",
		"sequence_number": "1",
		"stream_id": "stream-42",
		"start": {
			"call_control_id": "call-abc",
			"from": "+33612345678",
			"to": "+33187654321",
			"media_format": {"encoding": "PCMU", "sample_rate": 8000, "channels": 1}
		}
	}`)

	env, err := parseEnvelope(raw)
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if env.Event != "start" {
		t.Fatalf("event = %q, want start", env.Event)
	}
	if env.Start == nil {
		t.Fatal("start payload is nil")
	}

	info := env.Start.sessionInfo(env.StreamID)
	if info.CallID != "call-abc" {
		t.Errorf("CallID = %q, want call-abc", info.CallID)
	}
	if info.StreamID != "stream-42" {
		t.Errorf("StreamID = %q, want stream-42", info.StreamID)
	}
	if info.From != "+33612345678" {
		t.Errorf("From = %q", info.From)
	}
	if info.Codec != "PCMU" || info.SampleRate != 8000 || info.Channels != 1 {
		t.Errorf("media format = %s/%d/%d, want PCMU/8000/1",
			info.Codec, info.SampleRate, info.Channels)
	}
}

func TestParseEnvelope_StartDefaults(t *testing.T) {
	// A start event without a media_format block falls back to telephone
	// defaults.
	raw := []byte(`{"event":"start","start":{"call_control_id":"call-1"}}`)

	env, err := parseEnvelope(raw)
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	info := env.Start.sessionInfo("")
	if info.Codec != "PCMU" {
		t.Errorf("Codec = %q, want PCMU default", info.Codec)
	}
	if info.SampleRate != 8000 {
		t.Errorf("SampleRate = %d, want 8000 default", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Channels = %d, want 1 default", info.Channels)
	}
}

func TestParseEnvelope_Media(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0x7F, 0x00})
	raw := []byte(`{
		"event": "media",
		"sequence_number": "17",
		"media": {"track": "inbound", "timestamp": "1700000000123", "payload": "` + payload + `"}
	}`)

	env, err := parseEnvelope(raw)
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}

	s := &session{log: slog.Default()}
	frame, err := s.mediaFrame(env)
	if err != nil {
		t.Fatalf("mediaFrame: %v", err)
	}
	if len(frame.Payload) != 3 || frame.Payload[0] != 0xFF {
		t.Errorf("payload = %v, want [255 127 0]", frame.Payload)
	}
	if frame.Sequence != 17 {
		t.Errorf("sequence = %d, want 17", frame.Sequence)
	}
	if !frame.Timestamp.Equal(time.UnixMilli(1700000000123)) {
		t.Errorf("timestamp = %v, want platform time", frame.Timestamp)
	}
}

func TestParseEnvelope_MediaLocalSequence(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{1})
	raw := []byte(`{"event":"media","media":{"payload":"` + payload + `"}}`)

	env, err := parseEnvelope(raw)
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}

	s := &session{log: slog.Default()}
	for want := uint64(1); want <= 3; want++ {
		frame, err := s.mediaFrame(env)
		if err != nil {
			t.Fatalf("mediaFrame: %v", err)
		}
		if frame.Sequence != want {
			t.Fatalf("local sequence = %d, want %d", frame.Sequence, want)
		}
	}
}

func TestMediaFrame_Malformed(t *testing.T) {
	s := &session{log: slog.Default()}

	if _, err := s.mediaFrame(envelope{Event: "media"}); err == nil {
		t.Error("accepted media event without payload")
	}
	if _, err := s.mediaFrame(envelope{
		Event: "media",
		Media: &mediaPayload{Payload: "not base64!!"},
	}); err == nil {
		t.Error("accepted invalid base64 payload")
	}
}

func TestParseEnvelope_Invalid(t *testing.T) {
	if _, err := parseEnvelope([]byte(`{invalid`)); err == nil {
		t.Error("accepted invalid JSON")
	}
	if _, err := parseEnvelope([]byte(`{"media":{}}`)); err == nil {
		t.Error("accepted envelope without event")
	}
}

func TestParseEnvelope_Stop(t *testing.T) {
	raw := []byte(`{"event":"stop","stop":{"call_control_id":"call-abc"}}`)
	env, err := parseEnvelope(raw)
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if env.Event != "stop" {
		t.Errorf("event = %q, want stop", env.Event)
	}
}
