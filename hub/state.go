package hub

import "fmt"

// ConnectionState is the lifecycle state of a vault record.
type ConnectionState uint8

const (
	Disconnected ConnectionState = iota
	Connected
	PendingDisconnect
)

// allowedTransitions lists the states reachable from each state.
var allowedTransitions = map[ConnectionState][]ConnectionState{
	Disconnected:      {Connected},
	Connected:         {PendingDisconnect},
	PendingDisconnect: {Disconnected},
}

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case PendingDisconnect:
		return "pending_disconnect"
	default:
		return fmt.Sprintf("ConnectionState(%d)", uint8(s))
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CanTransitionTo reports whether next is reachable from s in one step.
// Staying in the same state is always allowed.
func (s ConnectionState) CanTransitionTo(next ConnectionState) bool {
	if s == next {
		return true
	}
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
