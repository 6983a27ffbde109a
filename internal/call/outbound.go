package call

import (
	"log/slog"
	"sync/atomic"
)

// defaultOutboundQueueSize bounds how many assistant utterances may wait for
// synthesis. Overflow drops the oldest pending utterance; the one currently
// being synthesized is already out of the queue and is never dropped.
const defaultOutboundQueueSize = 8

// outboundQueue is a bounded drop-oldest queue of utterances awaiting
// synthesis. Safe for one producer and one consumer plus concurrent Clear.
type outboundQueue struct {
	ch      chan string
	dropped atomic.Uint64
	log     *slog.Logger
}

func newOutboundQueue(size int, log *slog.Logger) *outboundQueue {
	if size <= 0 {
		size = defaultOutboundQueueSize
	}
	return &outboundQueue{
		ch:  make(chan string, size),
		log: log,
	}
}

// push enqueues an utterance, evicting the oldest pending one when full.
func (q *outboundQueue) push(text string) {
	for {
		select {
		case q.ch <- text:
			return
		default:
		}
		select {
		case old := <-q.ch:
			q.dropped.Add(1)
			q.log.Warn("outbound queue full, dropping oldest pending utterance",
				"dropped_text", old,
				"dropped_total", q.dropped.Load())
		default:
		}
	}
}

// clear discards every pending utterance. Used on barge-in.
func (q *outboundQueue) clear() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// pending returns the channel the consumer reads from.
func (q *outboundQueue) pending() <-chan string {
	return q.ch
}

// droppedCount returns how many utterances were evicted.
func (q *outboundQueue) droppedCount() uint64 {
	return q.dropped.Load()
}
