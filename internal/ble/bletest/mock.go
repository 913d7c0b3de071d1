// Package bletest provides an in-memory ble.Adapter for tests.
package bletest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chaz8081/nusbridge/internal/ble"
)

// Characteristic records writes and allows subscribing.
type Characteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	callback func([]byte)
	mtu      int
	WriteErr error
	SubErr   error
	// OnSubscribe runs after a successful Subscribe.
	OnSubscribe func()
}

// NewCharacteristic returns a characteristic reporting the given ATT MTU.
func NewCharacteristic(mtu int) *Characteristic {
	return &Characteristic{mtu: mtu}
}

func (c *Characteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *Characteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	if c.SubErr != nil {
		c.mu.Unlock()
		return c.SubErr
	}
	c.callback = cb
	hook := c.OnSubscribe
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (c *Characteristic) MTU() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mtu == 0 {
		return 0, errors.New("mock: mtu unavailable")
	}
	return c.mtu, nil
}

// Writes returns a copy of every write so far.
func (c *Characteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// Subscribed reports whether a notification callback is registered.
func (c *Characteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callback != nil
}

// Notify delivers a notification to the subscriber.
func (c *Characteristic) Notify(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Service holds characteristics keyed by UUID.
type Service struct {
	Chars map[string]*Characteristic
}

func (s *Service) DiscoverCharacteristic(charUUID string) (ble.Characteristic, error) {
	c, ok := s.Chars[charUUID]
	if !ok {
		return nil, fmt.Errorf("mock: characteristic %s: %w", charUUID, ble.ErrNotFound)
	}
	return c, nil
}

// Connection simulates a BLE connection.
type Connection struct {
	mu           sync.Mutex
	Services     map[string]*Service
	disconnectCb func()
	disconnected bool
	requestedMTU int
}

// NewUARTConnection returns a connection exposing the full UART service
// with the given ATT MTU.
func NewUARTConnection(mtu int) *Connection {
	return &Connection{
		Services: map[string]*Service{
			ble.ServiceUUID: {Chars: map[string]*Characteristic{
				ble.RXCharUUID: NewCharacteristic(mtu),
				ble.TXCharUUID: NewCharacteristic(mtu),
			}},
		},
	}
}

// RX returns the inbound-write characteristic, or nil.
func (c *Connection) RX() *Characteristic { return c.char(ble.RXCharUUID) }

// TX returns the outbound-notify characteristic, or nil.
func (c *Connection) TX() *Characteristic { return c.char(ble.TXCharUUID) }

func (c *Connection) char(uuid string) *Characteristic {
	svc, ok := c.Services[ble.ServiceUUID]
	if !ok {
		return nil
	}
	return svc.Chars[uuid]
}

func (c *Connection) DiscoverService(serviceUUID string) (ble.Service, error) {
	svc, ok := c.Services[serviceUUID]
	if !ok {
		return nil, fmt.Errorf("mock: service %s: %w", serviceUUID, ble.ErrNotFound)
	}
	return svc, nil
}

func (c *Connection) RequestMTU(mtu int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestedMTU = mtu
	return nil
}

// RequestedMTU returns the last value passed to RequestMTU.
func (c *Connection) RequestedMTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestedMTU
}

// Disconnect marks the connection closed and, like a real stack, fires
// the disconnect callback.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
	c.SimulateDisconnect()
	return nil
}

// Disconnected reports whether Disconnect was called.
func (c *Connection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *Connection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *Connection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Advertisement is a canned advertising report.
type Advertisement struct {
	Addr      ble.PeerAddress
	Name      string
	Strength  int
	Services  []string
	NoAddress bool
}

func (a Advertisement) Address() (ble.PeerAddress, bool) { return a.Addr, !a.NoAddress }

func (a Advertisement) LocalName() string { return a.Name }

func (a Advertisement) RSSI() int { return a.Strength }

func (a Advertisement) HasService(serviceUUID string) bool {
	for _, s := range a.Services {
		if s == serviceUUID {
			return true
		}
	}
	return false
}

// Adapter simulates the BLE adapter. Connections are handed out from
// Conns in order; once exhausted a fresh UART connection is created.
type Adapter struct {
	mu         sync.Mutex
	scanning   bool
	callback   func(ble.Advertisement)
	scanParams ble.ScanParams
	scans      int
	stops      int
	connects   []ble.PeerAddress

	// Conns are returned by successive Connect calls.
	Conns []*Connection
	// ConnectErr, when set, fails every Connect.
	ConnectErr error
	// MTU is used for connections created once Conns is exhausted.
	MTU int
	// AutoAdvertise is delivered from a goroutine whenever a scan starts.
	AutoAdvertise []ble.Advertisement

	last *Connection
}

// NewAdapter returns an adapter whose connections report the given MTU.
func NewAdapter(mtu int) *Adapter {
	return &Adapter{MTU: mtu}
}

func (a *Adapter) Enable() error { return nil }

func (a *Adapter) StartScan(params ble.ScanParams, cb func(ble.Advertisement)) error {
	a.mu.Lock()
	a.scanning = true
	a.callback = cb
	a.scanParams = params
	a.scans++
	auto := a.AutoAdvertise
	a.mu.Unlock()

	if len(auto) > 0 {
		go func() {
			for _, adv := range auto {
				a.Advertise(adv)
			}
		}()
	}
	return nil
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanning = false
	a.stops++
	return nil
}

// Advertise delivers adv to the scan callback if a scan is running.
func (a *Adapter) Advertise(adv ble.Advertisement) {
	a.mu.Lock()
	cb := a.callback
	scanning := a.scanning
	a.mu.Unlock()
	if scanning && cb != nil {
		cb(adv)
	}
}

func (a *Adapter) Connect(ctx context.Context, addr ble.PeerAddress) (ble.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects = append(a.connects, addr)
	if a.ConnectErr != nil {
		return nil, a.ConnectErr
	}
	var conn *Connection
	if len(a.Conns) > 0 {
		conn = a.Conns[0]
		a.Conns = a.Conns[1:]
	} else {
		conn = NewUARTConnection(a.MTU)
	}
	a.last = conn
	return conn, nil
}

// Scanning reports whether a scan is running.
func (a *Adapter) Scanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

// ScanCount returns how many scans were started.
func (a *Adapter) ScanCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

// StopCount returns how many times StopScan was called.
func (a *Adapter) StopCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stops
}

// LastScanParams returns the parameters of the most recent scan.
func (a *Adapter) LastScanParams() ble.ScanParams {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanParams
}

// Connects returns every address passed to Connect.
func (a *Adapter) Connects() []ble.PeerAddress {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ble.PeerAddress, len(a.connects))
	copy(out, a.connects)
	return out
}

// LatestConnection returns the most recently created connection.
func (a *Adapter) LatestConnection() *Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

var (
	_ ble.Adapter        = (*Adapter)(nil)
	_ ble.Connection     = (*Connection)(nil)
	_ ble.Service        = (*Service)(nil)
	_ ble.Characteristic = (*Characteristic)(nil)
	_ ble.Advertisement  = Advertisement{}
)
