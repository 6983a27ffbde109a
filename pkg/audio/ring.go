package audio

import "sync"

// Ring is a bounded circular byte buffer with drop-oldest semantics. When a
// write would exceed the capacity, the oldest bytes are discarded to make
// room, so inbound audio never blocks on a slow STT consumer and the buffer
// never grows beyond its capacity.
//
// Ring is safe for one producer and one consumer running concurrently.
type Ring struct {
	mu      sync.Mutex
	buf     []byte
	start   int
	length  int
	dropped uint64
}

// NewRing creates a ring with the given capacity in bytes. For telephone
// audio (8 kHz mono 16-bit PCM) a capacity of 64000 holds about 4 seconds.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Write appends p to the ring, evicting the oldest bytes if necessary.
// A p larger than the whole ring keeps only its tail.
func (r *Ring) Write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(p) >= len(r.buf) {
		// The write alone fills the ring: keep the newest capacity bytes.
		r.dropped += uint64(r.length + len(p) - len(r.buf))
		copy(r.buf, p[len(p)-len(r.buf):])
		r.start = 0
		r.length = len(r.buf)
		return
	}

	if overflow := r.length + len(p) - len(r.buf); overflow > 0 {
		r.start = (r.start + overflow) % len(r.buf)
		r.length -= overflow
		r.dropped += uint64(overflow)
	}

	pos := (r.start + r.length) % len(r.buf)
	n := copy(r.buf[pos:], p)
	copy(r.buf, p[n:])
	r.length += len(p)
}

// Read copies up to len(p) of the oldest buffered bytes into p and removes
// them from the ring. It returns the number of bytes copied; zero when the
// ring is empty.
func (r *Ring) Read(p []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(len(p), r.length)
	for i := 0; i < n; i++ {
		p[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	r.start = (r.start + n) % len(r.buf)
	r.length -= n
	return n
}

// Len returns the number of buffered bytes.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// Dropped returns the total number of bytes evicted since creation.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
