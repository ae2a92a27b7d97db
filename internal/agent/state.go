package agent

// State - состояние сессии агента
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected

	// StateDisbanded - конечное для гостя до Acknowledge
	StateDisbanded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateDisbanded:
		return "disbanded"
	default:
		return "unknown"
	}
}
