package ble

import "testing"

func TestPeerAddressString(t *testing.T) {
	addr := PeerAddress{MAC: [6]byte{0xAA, 0xBB, 0xCC, 0x01, 0x02, 0x0F}}
	if got := addr.String(); got != "AA:BB:CC:01:02:0F" {
		t.Errorf("String() = %q, want %q", got, "AA:BB:CC:01:02:0F")
	}
}

func TestPeerAddressIsZero(t *testing.T) {
	var addr PeerAddress
	if !addr.IsZero() {
		t.Error("zero value should report IsZero")
	}
	addr.Kind = AddressRandom
	if !addr.IsZero() {
		t.Error("kind alone should not make an address non-zero")
	}
	addr.MAC[5] = 1
	if addr.IsZero() {
		t.Error("address with a MAC byte set should not be zero")
	}
}

func TestAddressKindString(t *testing.T) {
	if AddressPublic.String() != "public" {
		t.Errorf("AddressPublic = %q", AddressPublic.String())
	}
	if AddressRandom.String() != "random" {
		t.Errorf("AddressRandom = %q", AddressRandom.String())
	}
}
