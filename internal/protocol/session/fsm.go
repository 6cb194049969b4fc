package session

import (
	"errors"
	"fmt"
)

// FailureThreshold is how many consecutive failures of one kind push a ready
// session into Degraded.
const FailureThreshold = 2

var ErrInvalidTransition = errors.New("session: invalid transition")

type State uint8

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Ready
	Degraded
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
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type EventType uint8

const (
	EvConnect EventType = iota
	EvChannelOpen
	EvHandshakeOK
	EvHandshakeFailed
	EvFirmwareUnsupported
	EvTransportError
	EvTimeout
	EvProtocolError
	EvExchangeOK
	EvTeardown
	EvBackoffElapsed
	EvGiveUp
	EvDisconnect
)

func (e EventType) String() string {
	switch e {
	case EvConnect:
		return "connect"
	case EvChannelOpen:
		return "channel_open"
	case EvHandshakeOK:
		return "handshake_ok"
	case EvHandshakeFailed:
		return "handshake_failed"
	case EvFirmwareUnsupported:
		return "firmware_unsupported"
	case EvTransportError:
		return "transport_error"
	case EvTimeout:
		return "timeout"
	case EvProtocolError:
		return "protocol_error"
	case EvExchangeOK:
		return "exchange_ok"
	case EvTeardown:
		return "teardown"
	case EvBackoffElapsed:
		return "backoff_elapsed"
	case EvGiveUp:
		return "give_up"
	case EvDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// Event is one lifecycle input. Consecutive carries the running failure
// count for EvTimeout and EvProtocolError.
type Event struct {
	Type        EventType
	Consecutive int
}

func Ev(t EventType) Event {
	return Event{Type: t}
}

// Transition returns the state that follows s on ev. It has no side effects.
func Transition(s State, ev Event) (State, error) {
	if ev.Type == EvDisconnect {
		return Disconnected, nil
	}
	switch s {
	case Disconnected, Failed:
		if ev.Type == EvConnect {
			return Connecting, nil
		}
	case Connecting:
		switch ev.Type {
		case EvChannelOpen:
			return Handshaking, nil
		case EvTransportError, EvTimeout:
			return Reconnecting, nil
		}
	case Handshaking:
		switch ev.Type {
		case EvHandshakeOK:
			return Ready, nil
		case EvFirmwareUnsupported:
			return Failed, nil
		case EvHandshakeFailed, EvTransportError, EvTimeout, EvProtocolError:
			return Reconnecting, nil
		}
	case Ready:
		switch ev.Type {
		case EvExchangeOK:
			return Ready, nil
		case EvTransportError:
			return Degraded, nil
		case EvTimeout, EvProtocolError:
			if ev.Consecutive >= FailureThreshold {
				return Degraded, nil
			}
			return Ready, nil
		}
	case Degraded:
		switch ev.Type {
		case EvExchangeOK:
			return Ready, nil
		case EvTeardown:
			return Reconnecting, nil
		case EvTransportError, EvTimeout, EvProtocolError:
			return Degraded, nil
		}
	case Reconnecting:
		switch ev.Type {
		case EvBackoffElapsed:
			return Connecting, nil
		case EvGiveUp:
			return Failed, nil
		}
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev.Type, s)
}
