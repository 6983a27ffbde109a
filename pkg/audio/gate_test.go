package audio_test

import (
	"testing"

	"github.com/ordovox/ordovox/pkg/audio"
)

func TestGateEmitsStartOnFirstSpeechFrame(t *testing.T) {
	t.Parallel()

	g := audio.NewGate(300, 20)
	if e := g.Update(false); e != audio.EdgeNone {
		t.Fatalf("silence edge = %v, want none", e)
	}
	if e := g.Update(true); e != audio.EdgeSpeechStart {
		t.Fatalf("first speech edge = %v, want speech_start", e)
	}
	if e := g.Update(true); e != audio.EdgeNone {
		t.Fatalf("continued speech edge = %v, want none", e)
	}
	if !g.Open() {
		t.Error("Open() = false during speech")
	}
}

func TestGateHangoverBridgesShortPauses(t *testing.T) {
	t.Parallel()

	// 300 ms hangover at 20 ms frames = 15 frames of silence to close.
	g := audio.NewGate(300, 20)
	g.Update(true)

	for i := 0; i < 14; i++ {
		if e := g.Update(false); e != audio.EdgeNone {
			t.Fatalf("silence frame %d edge = %v, want none", i, e)
		}
	}
	// Speech resumes inside the hangover: no end edge, no second start.
	if e := g.Update(true); e != audio.EdgeNone {
		t.Fatalf("resume edge = %v, want none", e)
	}
	if !g.Open() {
		t.Error("Open() = false after resumed speech")
	}
}

func TestGateClosesAfterFullHangover(t *testing.T) {
	t.Parallel()

	g := audio.NewGate(300, 20)
	g.Update(true)

	var end audio.Edge
	for i := 0; i < 15; i++ {
		end = g.Update(false)
	}
	if end != audio.EdgeSpeechEnd {
		t.Fatalf("edge after 15 silence frames = %v, want speech_end", end)
	}
	if g.Open() {
		t.Error("Open() = true after speech_end")
	}
	// Further silence stays quiet.
	if e := g.Update(false); e != audio.EdgeNone {
		t.Errorf("post-close silence edge = %v, want none", e)
	}
}

func TestGateReset(t *testing.T) {
	t.Parallel()

	g := audio.NewGate(300, 20)
	g.Update(true)
	g.Reset()
	if g.Open() {
		t.Fatal("Open() = true after Reset")
	}
	if e := g.Update(true); e != audio.EdgeSpeechStart {
		t.Errorf("edge after Reset = %v, want speech_start", e)
	}
}
