package goble

import (
	"errors"
	"testing"

	"github.com/go-ble/ble"
	"github.com/srg/scanlink/internal/radio"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		input  error
		target error
	}{
		{"powered off state", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), radio.ErrPoweredOff},
		{"turned off message", errors.New("Bluetooth is turned off"), radio.ErrPoweredOff},
		{"not connected", errors.New("device not connected"), radio.ErrNotConnected},
		{"disconnected", errors.New("peripheral Disconnected"), radio.ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeError(tt.input)
			assert.ErrorIs(t, err, tt.target)
			assert.Contains(t, err.Error(), tt.input.Error(), "original message MUST be preserved")
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, NormalizeError(nil))
	})

	t.Run("unknown errors pass through", func(t *testing.T) {
		orig := errors.New("att: invalid handle")
		assert.Same(t, orig, NormalizeError(orig))
	})
}

func TestPowerStateFor(t *testing.T) {
	assert.Equal(t, radio.PoweredOff, powerStateFor(errors.New("central manager has invalid state: have=4 want=5")))
	assert.Equal(t, radio.Unauthorized, powerStateFor(errors.New("can't init hci: operation not permitted")))
	assert.Equal(t, radio.Unsupported, powerStateFor(errors.New("no devices available")))
}

func TestCentralWithoutDevice(t *testing.T) {
	original := DeviceFactory
	t.Cleanup(func() { DeviceFactory = original })
	DeviceFactory = newPlatformDeviceFailing

	c := NewCentral(Options{}, nil)
	t.Cleanup(func() { _ = c.Close() })

	err := c.Open()
	assert.ErrorIs(t, err, radio.ErrPoweredOff)
	assert.Equal(t, radio.PoweredOff, c.State())
	assert.ErrorIs(t, c.Scan(t.Context(), nil, func(radio.Advertisement) {}), radio.ErrPoweredOff)
}

func newPlatformDeviceFailing() (ble.Device, error) {
	return nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
}
