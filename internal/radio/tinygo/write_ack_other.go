//go:build !darwin && !windows

package tinygo

import (
	"errors"

	"tinygo.org/x/bluetooth"
)

const ackWrites = false

// ErrWriteWithResponseUnsupported is reported for acknowledged writes on
// platforms where tinygo.org/x/bluetooth only offers write-without-response.
var ErrWriteWithResponseUnsupported = errors.New("write with response is not supported by the tinygo backend on this platform, use the goble backend")

func writeWithResponse(bluetooth.DeviceCharacteristic, []byte) error {
	return ErrWriteWithResponseUnsupported
}
