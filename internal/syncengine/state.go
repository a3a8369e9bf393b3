package syncengine

// ConnState is the engine's connection state
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Syncing
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Syncing:
		return "syncing"
	default:
		return "unknown"
	}
}
