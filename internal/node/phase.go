// Package node manages the WebSocket control connection to a single audio
// node: dialing, reconnecting with backoff, the pending command queue and
// the node's last reported statistics.
package node

// Phase is the lifecycle phase of a node connection.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseReconnecting
	// PhaseClosed is terminal.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}
