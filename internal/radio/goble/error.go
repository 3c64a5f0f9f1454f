package goble

import (
	"fmt"
	"strings"

	"github.com/srg/scanlink/internal/radio"
)

// NormalizeError maps known go-ble error strings to radio errors.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "have=4"):
		return fmt.Errorf("%w: %v", radio.ErrPoweredOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", radio.ErrPoweredOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", radio.ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", radio.ErrNotConnected, err)
	default:
		return err
	}
}

// powerStateFor classifies a device factory failure.
func powerStateFor(err error) radio.PowerState {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "have=4"), containsIgnoreCase(msg, "turned off"):
		return radio.PoweredOff
	case containsIgnoreCase(msg, "unauthorized"), containsIgnoreCase(msg, "permission"),
		containsIgnoreCase(msg, "operation not permitted"):
		return radio.Unauthorized
	default:
		return radio.Unsupported
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
