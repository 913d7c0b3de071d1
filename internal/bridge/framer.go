package bridge

import (
	"errors"
	"fmt"
	"time"
)

// FlushFunc transmits one packet. p is only valid during the call.
type FlushFunc func(p []byte) error

var errUnbound = errors.New("bridge: framer not bound to a link")

// Framer accumulates outbound bytes and decides packet boundaries. A packet
// is emitted on CR or LF, when the buffer reaches min(capacity, payload),
// or when no byte has arrived for longer than the idle threshold.
// Framer is not safe for concurrent use; the bridge loop owns it.
type Framer struct {
	buf      []byte
	n        int
	limit    int
	idle     time.Duration
	lastByte time.Time
	flush    FlushFunc
}

// NewFramer returns a framer with a fixed buffer capacity.
func NewFramer(capacity int, idle time.Duration) *Framer {
	return &Framer{
		buf:   make([]byte, capacity),
		limit: capacity,
		idle:  idle,
	}
}

// Reset empties the buffer and binds the framer to a link whose usable
// payload is payload bytes. A non-positive payload leaves only the
// capacity bound.
func (f *Framer) Reset(payload int, flush FlushFunc) {
	f.limit = len(f.buf)
	if payload > 0 && payload < f.limit {
		f.limit = payload
	}
	f.n = 0
	f.flush = flush
}

// Discard drops buffered bytes and unbinds the framer.
func (f *Framer) Discard() {
	f.n = 0
	f.flush = nil
}

// Len returns the number of buffered bytes.
func (f *Framer) Len() int { return f.n }

// Limit returns the largest packet the framer will emit.
func (f *Framer) Limit() int { return f.limit }

// Push appends one byte and flushes synchronously if it closes a packet.
func (f *Framer) Push(b byte, now time.Time) error {
	if f.flush == nil {
		return errUnbound
	}
	f.buf[f.n] = b
	f.n++
	f.lastByte = now
	if b == '\r' || b == '\n' || f.n >= f.limit {
		return f.Flush()
	}
	return nil
}

// Poll flushes a partial packet that has been idle past the threshold.
func (f *Framer) Poll(now time.Time) error {
	if f.n == 0 || now.Sub(f.lastByte) <= f.idle {
		return nil
	}
	return f.Flush()
}

// Flush emits all buffered bytes as one packet. The buffer is empty
// afterwards even if the write fails; delivery is not retried.
func (f *Framer) Flush() error {
	if f.n == 0 {
		return nil
	}
	n := f.n
	f.n = 0
	if f.flush == nil {
		return errUnbound
	}
	if err := f.flush(f.buf[:n]); err != nil {
		return fmt.Errorf("bridge: flush %d bytes: %w", n, err)
	}
	return nil
}
