package transport

import (
	"fmt"
	"strings"
)

// State is the connection state of the session.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	DiscoveringServices
	Ready
	Disconnected
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case DiscoveringServices:
		return "discovering_services"
	case Ready:
		return "ready"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// InFlight reports whether a connection attempt or discovery is under way.
func (s State) InFlight() bool {
	return s == Connecting || s == Connected || s == DiscoveringServices
}

// Active reports whether a link exists or is being established.
func (s State) Active() bool {
	return s.InFlight() || s == Ready
}

// AcceptsConnect reports whether a fresh Connect starts a new attempt.
func (s State) AcceptsConnect() bool {
	return s == Idle || s == Disconnected || s == Failed
}

// Status is a state plus the diagnostics that go with it.
type Status struct {
	State State
	// Reason is set when State is Failed.
	Reason string
	// Message is the latest human readable status.
	Message string
}

func (s Status) String() string {
	if s.State == Failed && s.Reason != "" {
		return fmt.Sprintf("failed(%s)", s.Reason)
	}
	return s.State.String()
}

// Err converts a Failed status back into the error that caused it; nil for
// any other state.
func (s Status) Err() error {
	if s.State != Failed {
		return nil
	}
	switch s.Reason {
	case ErrServiceNotFound.Error():
		return ErrServiceNotFound
	case ErrCharacteristicNotFound.Error():
		return ErrCharacteristicNotFound
	case ErrRadioUnavailable.Error():
		return ErrRadioUnavailable
	}
	reason := strings.TrimPrefix(strings.TrimPrefix(s.Reason, "connection failed"), ": ")
	return &ConnectionError{Reason: reason}
}
