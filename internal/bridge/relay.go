package bridge

import (
	"io"
	"log/slog"
	"sync/atomic"
)

// Relay forwards notification payloads to the local stream verbatim.
// Handlers are bound to a connection generation so a late notification
// from a torn-down link is dropped.
type Relay struct {
	w      io.Writer
	active atomic.Uint64
}

// NewRelay returns a disabled relay writing to w.
func NewRelay(w io.Writer) *Relay {
	return &Relay{w: w}
}

// Handler returns the notification callback for connection gen.
func (r *Relay) Handler(gen uint64) func([]byte) {
	return func(data []byte) {
		if gen == 0 || r.active.Load() != gen {
			return
		}
		if _, err := r.w.Write(data); err != nil {
			slog.Debug("[BRIDGE] relay write failed", "error", err, "bytes", len(data))
		}
	}
}

// Enable starts forwarding notifications of connection gen.
func (r *Relay) Enable(gen uint64) {
	r.active.Store(gen)
}

// Disable stops forwarding.
func (r *Relay) Disable() {
	r.active.Store(0)
}
