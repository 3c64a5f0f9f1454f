package radio

import (
	"context"
	"errors"
	"fmt"
)

// PowerState mirrors the adapter state reported by the platform.
type PowerState int

const (
	PowerUnknown PowerState = iota
	PoweredOff
	PoweredOn
	Unauthorized
	Unsupported
)

func (s PowerState) String() string {
	switch s {
	case PoweredOff:
		return "powered_off"
	case PoweredOn:
		return "powered_on"
	case Unauthorized:
		return "unauthorized"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Available reports whether connection requests may be issued in this state.
func (s PowerState) Available() bool {
	return s == PoweredOn
}

// Errors reported by backends through Delegate callbacks.
var (
	ErrNotConnected = errors.New("peripheral not connected")
	ErrUnknownPeer  = errors.New("unknown peripheral")
	ErrPoweredOff   = errors.New("bluetooth is turned off")
)

// NotFoundError is reported when a discovery returns without the requested attribute.
type NotFoundError struct {
	Resource string // "service" or "characteristic"
	UUID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.UUID)
}

// Advertisement is a scan result reduced to what the accessory picker needs.
type Advertisement struct {
	ID       string
	Name     string
	RSSI     int
	Services []string
}

// HasService reports whether the advertisement carries the given service UUID.
func (a Advertisement) HasService(uuid string) bool {
	want := NormalizeUUID(uuid)
	for _, s := range a.Services {
		if NormalizeUUID(s) == want {
			return true
		}
	}
	return false
}

// Central is the request side of the radio. All methods except Scan return
// immediately; their outcome is delivered to the Delegate.
type Central interface {
	// SetDelegate registers the event receiver. Backends report the current
	// power state to a newly registered delegate.
	SetDelegate(d Delegate)
	State() PowerState

	Connect(id string)
	CancelConnection(id string)
	DiscoverServices(id string, services []string)
	DiscoverCharacteristics(id, service string, chars []string)
	ReadValue(id, service, char string)
	WriteValue(id, service, char string, data []byte, withResponse bool)
	SetNotify(id, service, char string, enabled bool)

	// Scan blocks until ctx is done, calling handler for each advertisement
	// that carries one of the given services (all when services is empty).
	Scan(ctx context.Context, services []string, handler func(Advertisement)) error
}

// Delegate receives radio events. Implementations must not block for long:
// the backend delivers the next event only after the current call returns.
type Delegate interface {
	PowerStateChanged(state PowerState)
	Connected(id string)
	ConnectFailed(id string, err error)
	Disconnected(id string, err error)
	ServicesDiscovered(id string, services []string, err error)
	CharacteristicsDiscovered(id, service string, chars []string, err error)
	ValueUpdated(id, char string, value []byte, err error)
	WriteCompleted(id, char string, err error)
	NotifyStateChanged(id, char string, enabled bool, err error)
}
