package transport

import "sync/atomic"

// State is the lifecycle state of a Transport's link.
type State uint32

const (
	// DisconnectedState means no port is open.
	DisconnectedState State = iota
	// ConnectingState means a port is being requested and opened.
	ConnectingState
	// ConnectedState means the port is open and the read loop is running.
	ConnectedState
	// DisconnectingState means the link is being torn down.
	DisconnectingState
)

// String returns string representation of the state.
func (s State) String() string {
	switch s {
	case DisconnectedState:
		return "disconnected"
	case ConnectingState:
		return "connecting"
	case ConnectedState:
		return "connected"
	case DisconnectingState:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// AtomicState holds a State that is transitioned with compare-and-swap, so
// that concurrent connect and disconnect requests cannot both succeed.
type AtomicState struct {
	state atomic.Uint32
}

func (st *AtomicState) String() string {
	return st.Get().String()
}

// Get returns the current state.
func (st *AtomicState) Get() State {
	return State(st.state.Load())
}

// Set sets the state unconditionally.
func (st *AtomicState) Set(state State) {
	st.state.Store(uint32(state))
}

func (st *AtomicState) IsDisconnected() bool {
	return st.Get() == DisconnectedState
}

func (st *AtomicState) IsConnected() bool {
	return st.Get() == ConnectedState
}

// ToConnecting moves Disconnected to Connecting. It fails from any other state.
func (st *AtomicState) ToConnecting() bool {
	return st.state.CompareAndSwap(uint32(DisconnectedState), uint32(ConnectingState))
}

// ToConnected moves Connecting to Connected. It fails from any other state.
func (st *AtomicState) ToConnected() bool {
	return st.state.CompareAndSwap(uint32(ConnectingState), uint32(ConnectedState))
}

// ToDisconnecting moves Connected, or Connecting, to Disconnecting and
// returns the state it moved from.
func (st *AtomicState) ToDisconnecting() (State, bool) {
	if st.state.CompareAndSwap(uint32(ConnectedState), uint32(DisconnectingState)) {
		return ConnectedState, true
	}
	if st.state.CompareAndSwap(uint32(ConnectingState), uint32(DisconnectingState)) {
		return ConnectingState, true
	}

	return st.Get(), false
}

// ToDisconnected moves Disconnecting, or a failed Connecting, to Disconnected.
func (st *AtomicState) ToDisconnected() bool {
	if st.IsDisconnected() {
		return true
	}
	if st.state.CompareAndSwap(uint32(DisconnectingState), uint32(DisconnectedState)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(ConnectingState), uint32(DisconnectedState))
}
