//go:build !linux

package ble

import (
	"fmt"
	"runtime"
)

// NewDefaultAdapter returns the adapter for the host's default controller.
// Only BlueZ addresses the peer by MAC, which the bridge relies on.
func NewDefaultAdapter() (Adapter, error) {
	return nil, fmt.Errorf("ble: no adapter for %s", runtime.GOOS)
}
