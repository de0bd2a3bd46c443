package client

// State is the lifecycle state of a Client.
//
//	Init ──Connect──▶ Connecting ──ok──▶ Connected ──drop──▶ Reconnecting
//	  ▲                   │                  ▲                  │   │
//	  └───dial failed─────┘                  └──────retry ok────┘   │
//	                                                                │
//	any ──Close──▶ Closing ──▶ Closed ◀──────attempts exhausted─────┘
//
// Closed is terminal.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transient reports whether a dial is in flight in this state.
func (s State) transient() bool {
	return s == StateConnecting || s == StateReconnecting
}

// closing reports whether disconnects observed in this state are
// suppressed.
func (s State) closing() bool {
	return s == StateClosing || s == StateClosed
}
