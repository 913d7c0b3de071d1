package ble

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ScanForDevices scans for peripherals advertising the UART service until
// timeout or ctx expires. Each address is reported once.
func ScanForDevices(ctx context.Context, adapter Adapter, params ScanParams, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	var devices []Device
	seen := make(map[PeerAddress]bool)

	err := adapter.StartScan(params, func(adv Advertisement) {
		if !adv.HasService(ServiceUUID) {
			return
		}
		addr, ok := adv.Address()
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{
			Name:    adv.LocalName(),
			Address: addr,
			RSSI:    adv.RSSI(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	<-ctx.Done()
	if err := adapter.StopScan(); err != nil {
		return nil, fmt.Errorf("ble: stop scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return devices, nil
}
