//go:build linux

package ble

import "testing"

func newTestBlueZAdapter() *BlueZAdapter {
	return &BlueZAdapter{connections: make(map[string]*bluezConnection)}
}

func TestLinkLossBeforeCallbackIsDelivered(t *testing.T) {
	a := newTestBlueZAdapter()
	conn := &bluezConnection{}
	a.connections["AA:BB:CC:DD:EE:FF"] = conn

	a.linkChanged("AA:BB:CC:DD:EE:FF", false)

	fired := 0
	conn.OnDisconnect(func() { fired++ })
	if fired != 1 {
		t.Fatalf("callback fired %d times, want 1", fired)
	}

	conn.OnDisconnect(func() { fired++ })
	if fired != 1 {
		t.Errorf("an earlier drop should be delivered only once, fired %d times", fired)
	}
	if _, ok := a.connections["AA:BB:CC:DD:EE:FF"]; ok {
		t.Error("dropped connection should leave the map")
	}
}

func TestLinkLossFiresRegisteredCallback(t *testing.T) {
	a := newTestBlueZAdapter()
	conn := &bluezConnection{}
	a.connections["AA:BB:CC:DD:EE:FF"] = conn

	fired := 0
	conn.OnDisconnect(func() { fired++ })
	a.linkChanged("AA:BB:CC:DD:EE:FF", true)
	if fired != 0 {
		t.Fatal("connected=true must not fire the callback")
	}
	a.linkChanged("AA:BB:CC:DD:EE:FF", false)
	a.linkChanged("AA:BB:CC:DD:EE:FF", false)
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1", fired)
	}
}

func TestForgetKeepsNewerConnection(t *testing.T) {
	a := newTestBlueZAdapter()
	old, current := &bluezConnection{}, &bluezConnection{}
	a.connections["AA:BB:CC:DD:EE:FF"] = current

	a.forget("AA:BB:CC:DD:EE:FF", old)
	if a.connections["AA:BB:CC:DD:EE:FF"] != current {
		t.Error("forget removed a newer connection")
	}
	a.forget("AA:BB:CC:DD:EE:FF", current)
	if _, ok := a.connections["AA:BB:CC:DD:EE:FF"]; ok {
		t.Error("forget should remove its own connection")
	}
}
