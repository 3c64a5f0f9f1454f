// Package radio defines the central-role Bluetooth Low Energy radio used by the
// session core as an explicit request/callback contract.
//
// Requests are issued through Central and never block on the air interface:
//   - Connect, CancelConnection
//   - DiscoverServices, DiscoverCharacteristics
//   - ReadValue, WriteValue, SetNotify
//
// Every outcome is reported later through the Delegate registered with
// SetDelegate, one method per event kind. Backends call the Delegate from their
// own goroutines but never concurrently, so events arrive in radio order.
package radio
