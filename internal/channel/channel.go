// Package channel wraps the single read/write/notify characteristic of the
// scanning rig once it has been discovered.
//
// CharacteristicChannel is not safe for concurrent use. It is driven from the
// session controller's loop, which also delivers the radio callbacks routed
// to the Handle* methods.
package channel

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/srg/scanlink/internal/radio"
)

var (
	// ErrNotReady is returned when the characteristic has not been resolved.
	ErrNotReady = errors.New("characteristic not ready")
	// ErrInvalidPayload is returned for text that cannot be sent, or an
	// inbound value that is not valid UTF-8.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Status messages surfaced through the Sink.
const (
	StatusWriteOK        = "Value written successfully"
	StatusNotFound       = "Characteristic not found"
	StatusInvalidInput   = "Invalid input or characteristic not found"
	StatusSubscribed     = "Notifications enabled"
	StatusUnsubscribed   = "Notifications disabled"
	// StatusWriteErrPrefix starts the status of a failed write.
	StatusWriteErrPrefix = "Error writing value: "
	statusReadErrFmt     = "Error reading value: %v"
	statusNotifyErrFmt   = "Error enabling notifications: %v"
	statusUndecodableFmt = "Dropped undecodable value (%d bytes)"
)

// Sink receives everything the channel wants the outside world to see.
type Sink interface {
	// Status reports a diagnostic status message.
	Status(msg string)
	// Received delivers decoded inbound text, in radio order.
	Received(text string)
}

// Counters tracks traffic through the channel.
type Counters struct {
	Writes        int
	Reads         int
	Received      int
	Dropped       int
	WriteFailures int
}

// CharacteristicChannel exposes read, write and notify on the rig
// characteristic of one connected peer.
type CharacteristicChannel struct {
	central     radio.Central
	serviceUUID string
	charUUID    string
	sink        Sink
	logger      *logrus.Logger

	peer       string
	resolved   bool
	subscribed bool
	counters   Counters
}

// New creates an unresolved channel for the given service/characteristic pair.
func New(central radio.Central, serviceUUID, charUUID string, sink Sink, logger *logrus.Logger) *CharacteristicChannel {
	if logger == nil {
		logger = logrus.New()
	}
	return &CharacteristicChannel{
		central:     central,
		serviceUUID: radio.NormalizeUUID(serviceUUID),
		charUUID:    radio.NormalizeUUID(charUUID),
		sink:        sink,
		logger:      logger,
	}
}

// UUID returns the normalized characteristic UUID.
func (c *CharacteristicChannel) UUID() string {
	return c.charUUID
}

// Resolve binds the channel to the characteristic on peer. It starts a new
// Ready period, so Subscribe becomes effective once more.
func (c *CharacteristicChannel) Resolve(peer string) {
	c.peer = peer
	c.resolved = true
	c.subscribed = false

	c.logger.WithFields(logrus.Fields{
		"peer":      peer,
		"char_uuid": c.charUUID,
	}).Debug("Characteristic resolved")
}

// Reset drops the characteristic handle after the link went away.
func (c *CharacteristicChannel) Reset() {
	if !c.resolved {
		return
	}
	c.logger.WithField("peer", c.peer).Debug("Characteristic reset")
	c.peer = ""
	c.resolved = false
	c.subscribed = false
}

// Ready reports whether the characteristic is resolved.
func (c *CharacteristicChannel) Ready() bool {
	return c.resolved
}

// Peer returns the peer the channel is bound to.
func (c *CharacteristicChannel) Peer() string {
	return c.peer
}

// Counters returns a copy of the traffic counters.
func (c *CharacteristicChannel) Counters() Counters {
	return c.counters
}

// Write sends text with an acknowledged write. The acknowledgement arrives
// later through HandleWriteResult.
func (c *CharacteristicChannel) Write(text string) error {
	if text == "" || !utf8.ValidString(text) {
		c.sink.Status(StatusInvalidInput)
		return ErrInvalidPayload
	}
	if !c.resolved {
		c.sink.Status(StatusInvalidInput)
		return ErrNotReady
	}

	c.logger.WithFields(logrus.Fields{
		"peer":      c.peer,
		"char_uuid": c.charUUID,
		"payload":   text,
	}).Debug("Writing characteristic")

	c.central.WriteValue(c.peer, c.serviceUUID, c.charUUID, []byte(text), true)
	c.counters.Writes++
	return nil
}

// Read requests the current value; it is delivered through HandleValue.
func (c *CharacteristicChannel) Read() error {
	if !c.resolved {
		c.sink.Status(StatusNotFound)
		return ErrNotReady
	}
	c.central.ReadValue(c.peer, c.serviceUUID, c.charUUID)
	c.counters.Reads++
	return nil
}

// Subscribe enables notifications once per Ready period. Further calls are
// no-ops until the next Resolve.
func (c *CharacteristicChannel) Subscribe() error {
	if !c.resolved {
		return ErrNotReady
	}
	if c.subscribed {
		return nil
	}
	c.central.SetNotify(c.peer, c.serviceUUID, c.charUUID, true)
	c.subscribed = true
	return nil
}

// HandleValue processes a read response or notification.
func (c *CharacteristicChannel) HandleValue(value []byte, err error) {
	if err != nil {
		c.sink.Status(fmt.Sprintf(statusReadErrFmt, err))
		return
	}
	if !utf8.Valid(value) {
		c.counters.Dropped++
		c.logger.WithFields(logrus.Fields{
			"peer": c.peer,
			"size": len(value),
		}).Warn("Dropping undecodable value")
		c.sink.Status(fmt.Sprintf(statusUndecodableFmt, len(value)))
		return
	}
	c.counters.Received++
	c.sink.Received(string(value))
}

// HandleWriteResult surfaces the acknowledgement of a previous Write.
func (c *CharacteristicChannel) HandleWriteResult(err error) {
	if err != nil {
		c.counters.WriteFailures++
		c.sink.Status(StatusWriteErrPrefix + err.Error())
		return
	}
	c.sink.Status(StatusWriteOK)
}

// HandleNotifyState surfaces the outcome of Subscribe. A failed subscription
// may be retried with another Subscribe call.
func (c *CharacteristicChannel) HandleNotifyState(enabled bool, err error) {
	if err != nil {
		c.subscribed = false
		c.sink.Status(fmt.Sprintf(statusNotifyErrFmt, err))
		return
	}
	if enabled {
		c.sink.Status(StatusSubscribed)
	} else {
		c.sink.Status(StatusUnsubscribed)
	}
}
