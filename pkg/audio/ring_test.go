package audio_test

import (
	"bytes"
	"testing"

	"github.com/ordovox/ordovox/pkg/audio"
)

func TestRingWriteRead(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(8)
	r.Write([]byte{1, 2, 3})
	r.Write([]byte{4, 5})

	if got := r.Len(); got != 5 {
		t.Fatalf("Len() = %d, want 5", got)
	}

	buf := make([]byte, 8)
	n := r.Read(buf)
	if n != 5 || !bytes.Equal(buf[:n], []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("Read = %v (n=%d), want [1 2 3 4 5]", buf[:n], n)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after full read = %d, want 0", r.Len())
	}
	if r.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", r.Dropped())
	}
}

func TestRingDropsOldestOnOverflow(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(4)
	r.Write([]byte{1, 2, 3, 4})
	r.Write([]byte{5, 6})

	buf := make([]byte, 4)
	n := r.Read(buf)
	if !bytes.Equal(buf[:n], []byte{3, 4, 5, 6}) {
		t.Fatalf("Read = %v, want [3 4 5 6]", buf[:n])
	}
	if r.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", r.Dropped())
	}
}

func TestRingOversizedWriteKeepsTail(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(3)
	r.Write([]byte{1})
	r.Write([]byte{10, 11, 12, 13, 14})

	buf := make([]byte, 3)
	n := r.Read(buf)
	if !bytes.Equal(buf[:n], []byte{12, 13, 14}) {
		t.Fatalf("Read = %v, want [12 13 14]", buf[:n])
	}
	if r.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", r.Dropped())
	}
}

func TestRingWrapAround(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(4)
	buf := make([]byte, 4)

	r.Write([]byte{1, 2, 3})
	if n := r.Read(buf[:2]); n != 2 {
		t.Fatalf("Read = %d, want 2", n)
	}
	// Write now wraps past the end of the backing slice.
	r.Write([]byte{4, 5, 6})

	n := r.Read(buf)
	if !bytes.Equal(buf[:n], []byte{3, 4, 5, 6}) {
		t.Fatalf("Read after wrap = %v, want [3 4 5 6]", buf[:n])
	}
}

func TestRingPartialRead(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(8)
	r.Write([]byte{1, 2, 3, 4})

	buf := make([]byte, 2)
	if n := r.Read(buf); n != 2 || !bytes.Equal(buf, []byte{1, 2}) {
		t.Fatalf("first Read = %v (n=%d), want [1 2]", buf[:n], n)
	}
	if n := r.Read(buf); n != 2 || !bytes.Equal(buf, []byte{3, 4}) {
		t.Fatalf("second Read = %v (n=%d), want [3 4]", buf[:n], n)
	}
	if n := r.Read(buf); n != 0 {
		t.Fatalf("empty Read = %d, want 0", n)
	}
}
