package ble

import "fmt"

// AddressKind tells public and random device addresses apart.
type AddressKind uint8

const (
	AddressPublic AddressKind = iota
	AddressRandom
)

func (k AddressKind) String() string {
	switch k {
	case AddressRandom:
		return "random"
	default:
		return "public"
	}
}

// PeerAddress is a 48-bit link-layer address plus its kind.
// MAC is stored most significant byte first, the order it is printed in.
type PeerAddress struct {
	MAC  [6]byte
	Kind AddressKind
}

// IsZero reports whether no address is held.
func (a PeerAddress) IsZero() bool {
	return a.MAC == [6]byte{}
}

func (a PeerAddress) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		a.MAC[0], a.MAC[1], a.MAC[2], a.MAC[3], a.MAC[4], a.MAC[5])
}
