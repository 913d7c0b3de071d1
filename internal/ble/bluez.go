//go:build linux

package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

// BlueZAdapter wraps tinygo-org/bluetooth on Linux, where the stack is BlueZ
// over D-Bus. tinygo stores MAC bytes least significant first; PeerAddress
// stores them most significant first, see toPeerAddress/toBluetoothAddress.
type BlueZAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map and scanDone.
	mu          sync.Mutex
	connections map[string]*bluezConnection // keyed by address string
	scanDone    chan struct{}
}

// NewDefaultAdapter returns the adapter for the host's default controller.
func NewDefaultAdapter() (Adapter, error) {
	return &BlueZAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*bluezConnection),
	}, nil
}

func (a *BlueZAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// BlueZ reports link loss through the adapter-level connect handler
	// with connected=false.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		a.linkChanged(device.Address.String(), connected)
	})

	return nil
}

func (a *BlueZAdapter) linkChanged(id string, connected bool) {
	if connected {
		return
	}
	a.mu.Lock()
	conn, ok := a.connections[id]
	delete(a.connections, id)
	a.mu.Unlock()
	if ok {
		conn.fireDisconnect()
	}
}

func (a *BlueZAdapter) StartScan(params ScanParams, callback func(Advertisement)) error {
	a.mu.Lock()
	if a.scanDone != nil {
		a.mu.Unlock()
		return errors.New("ble: scan already running")
	}
	done := make(chan struct{})
	a.scanDone = done
	a.mu.Unlock()

	// BlueZ picks its own interval/window and always scans actively.
	slog.Debug("[BLE] scan started", "interval", params.Interval, "window", params.Window, "active", params.Active)

	go func() {
		defer func() {
			a.mu.Lock()
			a.scanDone = nil
			a.mu.Unlock()
			close(done)
		}()
		err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			callback(scanAdvertisement{result})
		})
		if err != nil {
			slog.Warn("[BLE] scan ended with error", "error", err)
		}
	}()
	return nil
}

func (a *BlueZAdapter) StopScan() error {
	a.mu.Lock()
	running := a.scanDone != nil
	a.mu.Unlock()
	if !running {
		return nil
	}
	return a.adapter.StopScan()
}

func (a *BlueZAdapter) Connect(ctx context.Context, addr PeerAddress) (Connection, error) {
	target := toBluetoothAddress(addr)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)

	// Registered before connecting so a drop reported while Connect is
	// still returning is not lost.
	id := target.String()
	conn := &bluezConnection{}
	a.mu.Lock()
	a.connections[id] = conn
	a.mu.Unlock()

	go func() {
		device, err := a.adapter.Connect(target, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		a.forget(id, conn)
		return nil, fmt.Errorf("ble: connect to %s: %w", addr, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			a.forget(id, conn)
			return nil, fmt.Errorf("ble: connect to %s: %w", addr, result.err)
		}
		conn.device = &result.device
		return conn, nil
	}
}

// forget drops conn from the map unless a newer connection replaced it.
func (a *BlueZAdapter) forget(id string, conn *bluezConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connections[id] == conn {
		delete(a.connections, id)
	}
}

// Compile-time check that BlueZAdapter implements Adapter.
var _ Adapter = (*BlueZAdapter)(nil)

type scanAdvertisement struct {
	result bluetooth.ScanResult
}

func (s scanAdvertisement) Address() (PeerAddress, bool) {
	addr := toPeerAddress(s.result.Address)
	return addr, !addr.IsZero()
}

func (s scanAdvertisement) LocalName() string { return s.result.LocalName() }

func (s scanAdvertisement) RSSI() int { return int(s.result.RSSI) }

func (s scanAdvertisement) HasService(serviceUUID string) bool {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return false
	}
	return s.result.HasServiceUUID(uuid)
}

func toPeerAddress(a bluetooth.Address) PeerAddress {
	var addr PeerAddress
	for i := 0; i < 6; i++ {
		addr.MAC[i] = a.MAC[5-i]
	}
	if a.IsRandom() {
		addr.Kind = AddressRandom
	}
	return addr
}

func toBluetoothAddress(addr PeerAddress) bluetooth.Address {
	var mac bluetooth.MAC
	for i := 0; i < 6; i++ {
		mac[i] = addr.MAC[5-i]
	}
	a := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}
	a.SetRandom(addr.Kind == AddressRandom)
	return a
}

type bluezConnection struct {
	device *bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
	dropped      bool // link lost before a callback was registered
	requestedMTU int
}


func (c *bluezConnection) DiscoverService(serviceUUID string) (Service, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{uuid})
	if err != nil {
		return nil, fmt.Errorf("ble: discover service %s: %w", serviceUUID, err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s: %w", serviceUUID, ErrNotFound)
	}
	return &bluezService{svc: svcs[0]}, nil
}

// RequestMTU records the request; BlueZ exchanges the MTU on its own when
// the link comes up.
func (c *bluezConnection) RequestMTU(mtu int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestedMTU = mtu
	return nil
}

func (c *bluezConnection) Disconnect() error {
	return c.device.Disconnect()
}

// OnDisconnect registers cb. If the link already dropped, cb runs at once.
func (c *bluezConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	dropped := c.dropped
	c.dropped = false
	c.mu.Unlock()
	if dropped && cb != nil {
		cb()
	}
}

func (c *bluezConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	if cb == nil {
		c.dropped = true
	}
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type bluezService struct {
	svc bluetooth.DeviceService
}

func (s *bluezService) DiscoverCharacteristic(charUUID string) (Characteristic, error) {
	uuid, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{uuid})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristic %s: %w", charUUID, err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s: %w", charUUID, ErrNotFound)
	}
	return &bluezCharacteristic{char: chars[0]}, nil
}

type bluezCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *bluezCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *bluezCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}

func (c *bluezCharacteristic) MTU() (int, error) {
	mtu, err := c.char.GetMTU()
	if err != nil {
		return 0, err
	}
	return int(mtu), nil
}
