package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrRadioUnavailable means the adapter is off, unauthorized or unsupported.
	ErrRadioUnavailable = errors.New("bluetooth unavailable")
	// ErrServiceNotFound means the peer does not expose the rig service.
	ErrServiceNotFound = errors.New("service not found")
	// ErrCharacteristicNotFound means the rig service lacks the command characteristic.
	ErrCharacteristicNotFound = errors.New("characteristic not found")
	// ErrBusy is returned for a Connect while another attempt is in flight.
	ErrBusy = errors.New("connection attempt already in progress")
)

// ConnectionError is a peripheral level connection failure.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Reason == "" {
		return "connection failed"
	}
	return fmt.Sprintf("connection failed: %s", e.Reason)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is matches any *ConnectionError so callers can test errors.Is(err, &ConnectionError{}).
func (e *ConnectionError) Is(target error) bool {
	_, ok := target.(*ConnectionError)
	return ok
}

func connectionError(err error) *ConnectionError {
	if err == nil {
		return &ConnectionError{}
	}
	return &ConnectionError{Reason: err.Error(), Err: err}
}
