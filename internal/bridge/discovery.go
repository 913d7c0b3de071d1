package bridge

import (
	"log/slog"
	"sync/atomic"

	"github.com/chaz8081/nusbridge/internal/ble"
)

// DiscoveryFilter accepts the first advertisement carrying the target
// service. Observe runs on the driver's scan goroutine; the only state it
// writes is the captured flag, which the bridge loop re-arms before each scan.
type DiscoveryFilter struct {
	service  string
	stop     func() error
	found    func(ble.PeerAddress)
	captured atomic.Bool
}

// NewDiscoveryFilter returns a filter for service. On a match it calls
// stop to end the scan and then found with the peer address.
func NewDiscoveryFilter(service string, stop func() error, found func(ble.PeerAddress)) *DiscoveryFilter {
	return &DiscoveryFilter{service: service, stop: stop, found: found}
}

// Observe inspects one advertisement and reports whether it was accepted.
func (f *DiscoveryFilter) Observe(adv ble.Advertisement) bool {
	// Reports can still arrive between the match and the scan actually stopping.
	if f.captured.Load() {
		return false
	}
	if !adv.HasService(f.service) {
		return false
	}
	addr, ok := adv.Address()
	if !ok {
		return false
	}
	if !f.captured.CompareAndSwap(false, true) {
		return false
	}

	slog.Debug("[BRIDGE] matching advertisement", "addr", addr, "kind", addr.Kind, "name", adv.LocalName(), "rssi", adv.RSSI())
	if err := f.stop(); err != nil {
		slog.Warn("[BRIDGE] stop scan failed", "error", err)
	}
	f.found(addr)
	return true
}

// Rearm lets the next matching advertisement through.
func (f *DiscoveryFilter) Rearm() {
	f.captured.Store(false)
}
