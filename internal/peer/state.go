// Package peer implements PeerConnection (spec.md §4.2): the state machine
// and single-goroutine mailbox shared by proxy.ClientSide and
// proxy.ServerSide. Every state transition and every Channel event for a
// given peer runs on that peer's own goroutine, which is the "executor"
// internal/channel.Channel posts its events through.
package peer

// State is one node of the PeerConnection state machine (spec.md §4.2).
type State int

const (
	Disconnected State = iota
	Connecting
	Handshaking
	NegotiatingConnect
	AwaitingInitial
	AwaitingChunk
	AwaitingProxyAuthentication
	Tunneling
	DisconnectRequested
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Handshaking:
		return "HANDSHAKING"
	case NegotiatingConnect:
		return "NEGOTIATING_CONNECT"
	case AwaitingInitial:
		return "AWAITING_INITIAL"
	case AwaitingChunk:
		return "AWAITING_CHUNK"
	case AwaitingProxyAuthentication:
		return "AWAITING_PROXY_AUTHENTICATION"
	case Tunneling:
		return "TUNNELING"
	case DisconnectRequested:
		return "DISCONNECT_REQUESTED"
	default:
		return "UNKNOWN"
	}
}

// transitions enumerates the state-machine edges from spec.md §4.2's table.
// Connection.SetState checks every transition against it through
// CanTransition and refuses, leaving the state unchanged, any edge not
// listed here.
var transitions = map[State][]State{
	Disconnected:                {Connecting, Handshaking, AwaitingInitial},
	Connecting:                  {Handshaking, NegotiatingConnect, AwaitingInitial, Disconnected},
	Handshaking:                 {NegotiatingConnect, AwaitingInitial, Tunneling, Disconnected},
	NegotiatingConnect:          {Handshaking, Tunneling, AwaitingInitial, Disconnected},
	AwaitingInitial:             {AwaitingChunk, AwaitingProxyAuthentication, Tunneling, DisconnectRequested, Disconnected},
	AwaitingChunk:               {AwaitingInitial, DisconnectRequested, Disconnected},
	AwaitingProxyAuthentication: {AwaitingInitial, AwaitingChunk, Tunneling, DisconnectRequested, Disconnected},
	Tunneling:                   {DisconnectRequested, Disconnected},
	DisconnectRequested:         {Disconnected},
}

// CanTransition reports whether the table allows moving from a to b.
func CanTransition(a, b State) bool {
	for _, s := range transitions[a] {
		if s == b {
			return true
		}
	}
	return false
}
