// Package ble provides the radio link driver used by the bridge to reach a
// peripheral exposing the Nordic UART Service. It covers scanning,
// connection management and GATT access over Bluetooth Low Energy.
package ble

import (
	"context"
	"errors"
	"time"
)

// Nordic UART Service UUIDs
const (
	ServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	// RXCharUUID accepts writes on the peer (bytes flowing towards the peer).
	RXCharUUID = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	// TXCharUUID emits notifications from the peer.
	TXCharUUID = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// ATTHeaderLen is the per-packet ATT overhead subtracted from the MTU.
const ATTHeaderLen = 3

// DefaultMTU is the ATT MTU every link starts with before negotiation.
const DefaultMTU = 23

// ErrNotFound is returned when a service or characteristic is absent.
var ErrNotFound = errors.New("ble: not found")

// Characteristic represents a remote GATT characteristic.
type Characteristic interface {
	// Write sends data without waiting for a response.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// MTU reports the ATT MTU of the link the characteristic belongs to.
	MTU() (int, error)
}

// Service represents a remote GATT service.
type Service interface {
	// DiscoverCharacteristic finds a characteristic by UUID.
	DiscoverCharacteristic(charUUID string) (Characteristic, error)
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverService finds a primary service by UUID.
	DiscoverService(serviceUUID string) (Service, error)
	// RequestMTU asks the stack for the given ATT MTU. The value actually
	// used is reported by Characteristic.MTU.
	RequestMTU(mtu int) error
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Advertisement is one advertising report seen during a scan.
type Advertisement interface {
	// Address returns the advertiser address. ok is false when the driver
	// has no usable representation for it.
	Address() (addr PeerAddress, ok bool)
	LocalName() string
	RSSI() int
	HasService(serviceUUID string) bool
}

// ScanParams configures a scan.
type ScanParams struct {
	Interval time.Duration
	Window   time.Duration
	Active   bool
}

// Device is a discovered peripheral, as reported by ScanForDevices.
type Device struct {
	Name    string
	Address PeerAddress
	RSSI    int
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// StartScan starts an indefinite scan and returns immediately. The
	// callback runs on a driver goroutine for every advertisement.
	StartScan(params ScanParams, callback func(Advertisement)) error
	// StopScan stops a running scan. It may be called from the scan callback.
	StopScan() error
	// Connect establishes a connection to the given peer.
	Connect(ctx context.Context, addr PeerAddress) (Connection, error)
}
