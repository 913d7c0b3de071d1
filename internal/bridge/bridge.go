// Package bridge relays a local byte stream to a peripheral exposing the
// Nordic UART Service and back. It owns the connection lifecycle
// (scan, connect, resolve, subscribe, relay, rescan) and the framing of
// outbound bytes into radio packets.
package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chaz8081/nusbridge/internal/ble"
	"github.com/chaz8081/nusbridge/internal/status"
)

// Port is the local byte stream.
type Port interface {
	io.Writer
	Buffered() int
	ReadByte() (byte, error)
	// Err reports why the port stopped receiving, or nil while it still does.
	Err() error
}

// Options configures the bridge.
type Options struct {
	BufferSize   int           // outbound buffer capacity
	PreferredMTU int           // ATT MTU requested on every connection
	IdleFlush    time.Duration // flush a partial packet after this much silence
	PollInterval time.Duration // loop period used by Run
	SettleDelay  time.Duration // pause before each rescan
	BackoffMax   time.Duration // cap for the rescan backoff; 0 rescans immediately
	Scan         ble.ScanParams
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		BufferSize:   64,
		PreferredMTU: 64 + ble.ATTHeaderLen,
		IdleFlush:    40 * time.Millisecond,
		PollInterval: 2 * time.Millisecond,
		SettleDelay:  200 * time.Millisecond,
		Scan: ble.ScanParams{
			Interval: 843125 * time.Microsecond,
			Window:   280625 * time.Microsecond,
			Active:   true,
		},
	}
}

type eventKind int

const (
	eventPeerFound eventKind = iota + 1
	eventDisconnected
)

// event is posted by driver callbacks and consumed by the loop.
type event struct {
	kind eventKind
	peer ble.PeerAddress
	gen  uint64 // connection generation for eventDisconnected
}

// Bridge is one bridging session. Everything below the events channel is
// owned by the goroutine calling Start/Step/Run; driver callbacks only post
// events, flip the discovery flag, or pass notifications through the relay.
type Bridge struct {
	adapter   ble.Adapter
	port      Port
	indicator *status.Indicator
	opts      Options

	events chan event
	done   chan struct{}

	filter *DiscoveryFilter
	framer *Framer
	relay  *Relay

	state     State
	peer      ble.PeerAddress
	conn      ble.Connection
	gen       uint64
	rescanAt  time.Time
	failures  int
	inputDown bool
	published atomic.Int32
	payload   atomic.Int32
}

// New creates a bridge. Zero option fields take their defaults.
func New(adapter ble.Adapter, port Port, indicator *status.Indicator, opts Options) *Bridge {
	def := DefaultOptions()
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.PreferredMTU <= ble.ATTHeaderLen {
		opts.PreferredMTU = def.PreferredMTU
	}
	if opts.IdleFlush <= 0 {
		opts.IdleFlush = def.IdleFlush
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if indicator == nil {
		indicator = status.NewIndicator(nil, 400*time.Millisecond)
	}

	b := &Bridge{
		adapter:   adapter,
		port:      port,
		indicator: indicator,
		opts:      opts,
		events:    make(chan event, 16),
		done:      make(chan struct{}),
		framer:    NewFramer(opts.BufferSize, opts.IdleFlush),
		relay:     NewRelay(port),
	}
	b.filter = NewDiscoveryFilter(ble.ServiceUUID, adapter.StopScan, func(addr ble.PeerAddress) {
		b.post(event{kind: eventPeerFound, peer: addr})
	})
	return b
}

// State returns the current lifecycle state. Safe for concurrent use.
func (b *Bridge) State() State {
	return State(b.published.Load())
}

// PayloadSize returns the usable bytes per packet of the current link,
// or 0 when not connected. Safe for concurrent use.
func (b *Bridge) PayloadSize() int {
	return int(b.payload.Load())
}

// Run enables the adapter, starts scanning and runs the loop until ctx is
// done. Failures after startup are never fatal; the bridge always falls
// back to scanning.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Start(time.Now()); err != nil {
		return err
	}
	defer b.shutdown()

	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.Step(ctx, time.Now())
		}
	}
}

// Start enables the adapter and begins the first scan.
func (b *Bridge) Start(now time.Time) error {
	if err := b.adapter.Enable(); err != nil {
		return fmt.Errorf("bridge: enable adapter: %w", err)
	}
	b.startScan(now)
	return nil
}

// Step runs one loop iteration with now as the single timestamp for every
// timing decision in it.
func (b *Bridge) Step(ctx context.Context, now time.Time) {
	b.drainEvents(now)
	b.checkInput()

	switch b.state {
	case StatePendingConnect:
		b.connect(ctx, now)
	case StateConnected:
		b.pumpOutbound(now)
	case StateDisconnected:
		if !now.Before(b.rescanAt) {
			b.startScan(now)
		}
	}

	b.indicator.Tick(now)
}

// checkInput reports once that the local input ended. Buffered bytes are
// still sent and inbound notifications are still relayed.
func (b *Bridge) checkInput() {
	if b.inputDown {
		return
	}
	if err := b.port.Err(); err != nil {
		b.inputDown = true
		slog.Warn("[BRIDGE] local input stopped", "error", err)
	}
}

func (b *Bridge) setState(s State) {
	b.state = s
	b.published.Store(int32(s))
}

// post hands an event to the loop. Called from driver goroutines.
func (b *Bridge) post(ev event) {
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

func (b *Bridge) drainEvents(now time.Time) {
	for {
		select {
		case ev := <-b.events:
			b.handle(ev, now)
		default:
			return
		}
	}
}

func (b *Bridge) handle(ev event, now time.Time) {
	switch ev.kind {
	case eventPeerFound:
		if b.state != StateIdle {
			slog.Debug("[BRIDGE] ignoring peer found", "state", b.state, "addr", ev.peer)
			return
		}
		slog.Info("[BRIDGE] peer found", "addr", ev.peer, "kind", ev.peer.Kind)
		b.peer = ev.peer
		b.setState(StatePendingConnect)

	case eventDisconnected:
		// Callbacks of earlier connections, and the one fired by our own
		// Disconnect during a failed setup, are stale by now.
		if ev.gen != b.gen || b.state != StateConnected {
			return
		}
		slog.Warn("[BRIDGE] disconnected", "addr", b.peer)
		b.enterDisconnected(now)
	}
}

func (b *Bridge) startScan(now time.Time) {
	b.peer = ble.PeerAddress{}
	b.filter.Rearm()
	b.indicator.Blink(now)

	if err := b.adapter.StartScan(b.opts.Scan, func(adv ble.Advertisement) {
		b.filter.Observe(adv)
	}); err != nil {
		slog.Warn("[BRIDGE] start scan failed", "error", err)
		b.setState(StateDisconnected)
		b.rescanAt = now.Add(b.opts.SettleDelay)
		return
	}

	b.setState(StateIdle)
	slog.Info("[BRIDGE] scanning", "service", ble.ServiceUUID)
}

// connect runs PendingConnect to completion. The driver calls block; there
// is no timeout beyond what the driver enforces.
func (b *Bridge) connect(ctx context.Context, now time.Time) {
	b.indicator.On(now)
	b.gen++
	gen := b.gen

	slog.Info("[BRIDGE] connecting", "addr", b.peer)
	conn, err := b.adapter.Connect(ctx, b.peer)
	if err != nil {
		slog.Warn("[BRIDGE] connect failed", "addr", b.peer, "error", err)
		b.setupFailed(now)
		return
	}
	conn.OnDisconnect(func() {
		b.post(event{kind: eventDisconnected, gen: gen})
	})

	rx, err := b.resolve(conn, gen)
	if err != nil {
		slog.Warn("[BRIDGE] peer setup failed, disconnecting", "addr", b.peer, "error", err)
		if err := conn.Disconnect(); err != nil {
			slog.Debug("[BRIDGE] disconnect failed", "error", err)
		}
		b.setupFailed(now)
		return
	}

	mtu := b.negotiateMTU(conn, rx)
	payload := mtu - ble.ATTHeaderLen

	b.conn = conn
	b.framer.Reset(payload, rx.Write)
	b.payload.Store(int32(payload))
	b.failures = 0
	b.setState(StateConnected)
	b.indicator.Off(now)
	slog.Info("[BRIDGE] connected", "addr", b.peer, "mtu", mtu, "payload", payload, "packet", b.framer.Limit())
}

// resolve finds both UART characteristics and subscribes to notifications.
// It returns the characteristic outbound packets are written to.
func (b *Bridge) resolve(conn ble.Connection, gen uint64) (ble.Characteristic, error) {
	svc, err := conn.DiscoverService(ble.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("bridge: resolve service: %w", err)
	}
	rx, err := svc.DiscoverCharacteristic(ble.RXCharUUID)
	if err != nil {
		return nil, fmt.Errorf("bridge: resolve RX characteristic: %w", err)
	}
	tx, err := svc.DiscoverCharacteristic(ble.TXCharUUID)
	if err != nil {
		return nil, fmt.Errorf("bridge: resolve TX characteristic: %w", err)
	}
	// Notifications may arrive as soon as the subscription is in place.
	b.relay.Enable(gen)
	if err := tx.Subscribe(b.relay.Handler(gen)); err != nil {
		return nil, fmt.Errorf("bridge: subscribe TX: %w", err)
	}
	return rx, nil
}

// negotiateMTU returns the ATT MTU to frame for: the link's value, capped at
// the requested one since a fresh link may come up larger or smaller.
func (b *Bridge) negotiateMTU(conn ble.Connection, rx ble.Characteristic) int {
	if err := conn.RequestMTU(b.opts.PreferredMTU); err != nil {
		slog.Debug("[BRIDGE] MTU request failed", "error", err)
	}
	mtu, err := rx.MTU()
	if err != nil || mtu <= ble.ATTHeaderLen {
		slog.Warn("[BRIDGE] MTU unavailable, using default", "error", err, "mtu", ble.DefaultMTU)
		mtu = ble.DefaultMTU
	}
	if mtu > b.opts.PreferredMTU {
		mtu = b.opts.PreferredMTU
	}
	return mtu
}

func (b *Bridge) setupFailed(now time.Time) {
	b.failures++
	b.enterDisconnected(now)
}

func (b *Bridge) enterDisconnected(now time.Time) {
	b.relay.Disable()
	b.framer.Discard()
	b.conn = nil
	b.payload.Store(0)
	b.setState(StateDisconnected)
	b.indicator.Off(now)
	b.indicator.Blink(now)

	delay := b.opts.SettleDelay + backoffDelay(b.failures, b.opts.BackoffMax)
	b.rescanAt = now.Add(delay)
	if b.failures > 0 {
		slog.Info("[BRIDGE] rescan scheduled", "delay", delay, "failures", b.failures)
	}
}

// pumpOutbound drains what the port has buffered right now into the framer,
// then applies the idle flush.
func (b *Bridge) pumpOutbound(now time.Time) {
	for n := b.port.Buffered(); n > 0; n-- {
		c, err := b.port.ReadByte()
		if err != nil {
			break
		}
		if err := b.framer.Push(c, now); err != nil {
			slog.Debug("[BRIDGE] packet dropped", "error", err)
		}
	}
	if err := b.framer.Poll(now); err != nil {
		slog.Debug("[BRIDGE] packet dropped", "error", err)
	}
}

func (b *Bridge) shutdown() {
	switch b.state {
	case StateIdle:
		if err := b.adapter.StopScan(); err != nil {
			slog.Debug("[BRIDGE] stop scan failed", "error", err)
		}
	case StateConnected:
		if n := b.framer.Len(); n > 0 {
			slog.Debug("[BRIDGE] flushing on shutdown", "bytes", n)
		}
		if err := b.framer.Flush(); err != nil {
			slog.Debug("[BRIDGE] final flush failed", "error", err)
		}
		b.relay.Disable()
		if err := b.conn.Disconnect(); err != nil {
			slog.Debug("[BRIDGE] disconnect failed", "error", err)
		}
	}
	close(b.done)
	b.indicator.Off(time.Now())
}

// backoffDelay returns the extra rescan delay after n consecutive failed
// connection setups, doubling from one second and capped at max.
// A non-positive max disables backoff.
func backoffDelay(failures int, max time.Duration) time.Duration {
	if max <= 0 || failures <= 0 {
		return 0
	}
	shift := failures - 1
	if shift > 30 {
		shift = 30
	}
	delay := time.Duration(1<<uint(shift)) * time.Second
	if delay > max {
		return max
	}
	return delay
}
