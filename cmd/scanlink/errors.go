package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/scanlink/internal/accessory"
	"github.com/srg/scanlink/internal/channel"
	"github.com/srg/scanlink/internal/radio"
	"github.com/srg/scanlink/internal/transport"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the rig link dropped while a command was
	// waiting on it. A link that never came up is reported as a
	// transport.ConnectionError instead.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns an error into the message printed on exit.
func FormatUserError(err error) string {
	var connErr *transport.ConnectionError

	switch {
	case errors.Is(err, accessory.ErrNoAccessory):
		return "no rig paired; run 'scanlink pick' first"
	case errors.Is(err, transport.ErrRadioUnavailable), errors.Is(err, radio.ErrPoweredOff):
		return "Bluetooth is unavailable; check that the adapter is on and this program may use it"
	case errors.Is(err, transport.ErrServiceNotFound):
		return "the paired device does not expose the rig service; is it the right accessory?"
	case errors.Is(err, transport.ErrCharacteristicNotFound):
		return "the rig service has no command characteristic; check the rig firmware"
	case errors.Is(err, transport.ErrBusy):
		return "a connection attempt is already in progress"
	case errors.Is(err, channel.ErrNotReady):
		return "the rig is not ready; wait for the connection to complete"
	case errors.Is(err, channel.ErrInvalidPayload):
		return fmt.Sprintf("invalid command: %v", err)
	case errors.Is(err, ErrConnectionLost):
		return fmt.Sprintf("lost the connection to the rig (%v)", err)
	case errors.As(err, &connErr):
		if connErr.Reason == "" {
			return "could not connect to the rig"
		}
		return fmt.Sprintf("could not connect to the rig: %s", connErr.Reason)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timed out: %v", err)
	default:
		return err.Error()
	}
}
