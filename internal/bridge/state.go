package bridge

// State is the connection lifecycle state.
type State int32

const (
	// StateIdle: scanning, no peer captured.
	StateIdle State = iota
	// StatePendingConnect: a peer was found and a connect attempt is due.
	StatePendingConnect
	StateConnected
	// StateDisconnected: link gone, rescan scheduled.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StatePendingConnect:
		return "pending-connect"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "idle"
	}
}
