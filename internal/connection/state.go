package connection

// State is the connection lifecycle state. Only the Manager sets it.
type State int

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the manager for readers outside the loop.
type Status struct {
	State     State  `json:"-"`
	StateName string `json:"state"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}
