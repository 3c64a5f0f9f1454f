//go:build darwin || windows

package tinygo

import "tinygo.org/x/bluetooth"

const ackWrites = true

func writeWithResponse(ch bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := ch.Write(data)
	return err
}
