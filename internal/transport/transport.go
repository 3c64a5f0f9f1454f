// Package transport owns the connection lifecycle to the paired rig: radio
// power state, connect and cancel, and GATT discovery of the rig service and
// its command characteristic.
//
// A Session is a plain state machine. It is not safe for concurrent use;
// the session controller drives it, including the Handle* radio callbacks,
// from a single goroutine.
package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/scanlink/internal/accessory"
	"github.com/srg/scanlink/internal/radio"
)

// Status messages.
const (
	MsgConnecting       = "Connecting..."
	MsgWaitingForRadio  = "Waiting for Bluetooth..."
	MsgConnected        = "Connected"
	MsgDiscovering      = "Discovering services..."
	MsgServiceFound     = "Service found. Discovering characteristics..."
	MsgReady            = "Ready to read/write"
	MsgDisconnected     = "Disconnected"
	MsgNoAccessory      = "No accessory selected"
	MsgAccessoryRemoved = "Accessory removed"
)

// Observer is notified of transport changes on the driving goroutine.
type Observer interface {
	// StatusChanged is called for every state change and status message.
	StatusChanged(st Status)
	// LinkReady is called with the peer id right before the state becomes Ready.
	LinkReady(peer string)
	// LinkLost is called whenever an established or pending link is dropped.
	LinkLost()
}

// Scheduler runs fn after d on the goroutine that drives the Session.
type Scheduler func(d time.Duration, fn func())

// Options configures a Session.
type Options struct {
	ServiceUUID        string
	CharacteristicUUID string

	// AutoReconnect issues one new connect after an unexpected drop from Ready.
	AutoReconnect  bool
	ReconnectDelay time.Duration
	// Scheduler is required for AutoReconnect.
	Scheduler Scheduler
}

// Session is the connection state machine for one target accessory.
type Session struct {
	central  radio.Central
	opts     Options
	observer Observer
	logger   *logrus.Logger

	power  radio.PowerState
	status Status
	target accessory.Identity
	peer   string

	// pending is set while a Connect waits for the radio to report power.
	pending bool
	// generation invalidates scheduled reconnects after user actions.
	generation int
}

// New creates an idle Session.
func New(central radio.Central, observer Observer, opts Options, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if opts.AutoReconnect && opts.Scheduler == nil {
		logger.Warn("Auto-reconnect requires a scheduler, disabling it")
		opts.AutoReconnect = false
	}
	return &Session{
		central:  central,
		opts:     opts,
		observer: observer,
		logger:   logger,
		status:   Status{State: Idle},
	}
}

func (s *Session) Status() Status { return s.status }

func (s *Session) State() State { return s.status.State }

// Target returns the accessory of the current or last connection attempt.
func (s *Session) Target() accessory.Identity { return s.target }

// Peer returns the id of the linked peer, or "" when there is no link.
func (s *Session) Peer() string { return s.peer }

func (s *Session) Power() radio.PowerState { return s.power }

// Annotate replaces the status message without changing the state.
func (s *Session) Annotate(msg string) {
	s.setMessage(msg)
}

// Connect starts a connection attempt to id. The outcome is reported through
// the Observer; a nil error only means the request was accepted.
func (s *Session) Connect(id accessory.Identity) error {
	if id.IsZero() {
		s.setMessage(MsgNoAccessory)
		return accessory.ErrNoAccessory
	}
	switch {
	case s.status.State == Ready && s.target.ID == id.ID:
		return nil
	case s.status.State == Ready:
		// a different accessory was picked while linked
		s.Disconnect()
	case s.status.State.InFlight():
		return ErrBusy
	}
	if s.power != radio.PowerUnknown && !s.power.Available() {
		s.setMessage(unavailableMessage(s.power))
		return fmt.Errorf("%w: %s", ErrRadioUnavailable, s.power)
	}

	s.target = id
	s.generation++
	s.setState(Connecting, MsgConnecting)

	if s.power == radio.PowerUnknown {
		s.pending = true
		s.setMessage(MsgWaitingForRadio)
		return nil
	}
	s.issueConnect()
	return nil
}

func (s *Session) issueConnect() {
	s.pending = false
	s.logger.WithField("accessory", s.target.String()).Info("Connecting to accessory")
	s.central.Connect(s.target.ID)
}

// Disconnect cancels an active or pending connection. It is a no-op when
// there is nothing to cancel.
func (s *Session) Disconnect() {
	s.generation++
	if !s.status.State.Active() {
		return
	}

	if s.pending {
		s.pending = false
	} else {
		s.central.CancelConnection(s.target.ID)
	}
	s.dropLink()
	s.setState(Disconnected, MsgDisconnected)
}

// Forget disconnects and clears the target. The session returns to Idle.
func (s *Session) Forget() {
	s.Disconnect()
	if s.target.IsZero() && s.status.State == Idle {
		return
	}
	s.target = accessory.Identity{}
	s.setState(Idle, MsgAccessoryRemoved)
}

// HandlePowerState processes an adapter power change.
func (s *Session) HandlePowerState(ps radio.PowerState) {
	prev := s.power
	s.power = ps
	if prev != ps {
		s.logger.WithField("power", ps.String()).Info("Bluetooth state changed")
	}

	switch {
	case ps == radio.PoweredOn:
		if s.pending {
			s.issueConnect()
		}
	case ps == radio.PowerUnknown:
		// transient while the adapter resets
	case s.pending:
		s.pending = false
		s.setState(Disconnected, unavailableMessage(ps))
	case s.status.State.Active():
		s.dropLink()
		s.setState(Disconnected, unavailableMessage(ps))
	default:
		s.setMessage(unavailableMessage(ps))
	}
}

// HandleConnected processes a successful link and starts discovery.
func (s *Session) HandleConnected(id string) {
	if id != s.target.ID || s.status.State != Connecting || s.pending {
		if id == s.target.ID && s.status.State.Active() {
			return
		}
		s.logger.WithField("peer", id).Debug("Cancelling stale connection")
		s.central.CancelConnection(id)
		return
	}

	s.peer = id
	s.setState(Connected, MsgConnected)
	s.setState(DiscoveringServices, MsgDiscovering)
	s.central.DiscoverServices(id, []string{s.opts.ServiceUUID})
}

// HandleConnectFailed processes a failed connection attempt.
func (s *Session) HandleConnectFailed(id string, err error) {
	if id != s.target.ID || s.status.State != Connecting {
		return
	}
	s.fail(connectionError(err))
}

// HandleDisconnected processes a link drop reported by the radio.
func (s *Session) HandleDisconnected(id string, err error) {
	if s.peer == "" || id != s.peer {
		return
	}

	wasReady := s.status.State == Ready
	s.dropLink()

	msg := MsgDisconnected
	if err != nil {
		msg = fmt.Sprintf("%s: %v", MsgDisconnected, err)
	}
	s.setState(Disconnected, msg)

	if wasReady && s.opts.AutoReconnect {
		s.scheduleReconnect()
	}
}

// HandleServicesDiscovered continues with characteristic discovery.
func (s *Session) HandleServicesDiscovered(id string, services []string, err error) {
	if id != s.peer || s.status.State != DiscoveringServices {
		return
	}
	if err != nil && !isNotFound(err) {
		s.abort(connectionError(err))
		return
	}
	if err != nil || !radio.ContainsUUID(services, s.opts.ServiceUUID) {
		s.abort(ErrServiceNotFound)
		return
	}

	s.setMessage(MsgServiceFound)
	s.central.DiscoverCharacteristics(id, s.opts.ServiceUUID, []string{s.opts.CharacteristicUUID})
}

// HandleCharacteristicsDiscovered completes discovery and moves to Ready.
func (s *Session) HandleCharacteristicsDiscovered(id, service string, chars []string, err error) {
	if id != s.peer || s.status.State != DiscoveringServices || !radio.SameUUID(service, s.opts.ServiceUUID) {
		return
	}
	if err != nil && !isNotFound(err) {
		s.abort(connectionError(err))
		return
	}
	if err != nil || !radio.ContainsUUID(chars, s.opts.CharacteristicUUID) {
		s.abort(ErrCharacteristicNotFound)
		return
	}

	s.observer.LinkReady(id)
	s.setState(Ready, MsgReady)
}

func (s *Session) abort(err error) {
	if s.peer != "" {
		s.central.CancelConnection(s.peer)
	}
	s.dropLink()
	s.fail(err)
}

func (s *Session) dropLink() {
	s.peer = ""
	s.observer.LinkLost()
}

func (s *Session) scheduleReconnect() {
	gen := s.generation
	target := s.target
	s.logger.WithFields(logrus.Fields{
		"accessory": target.String(),
		"delay":     s.opts.ReconnectDelay,
	}).Info("Scheduling reconnect")

	s.opts.Scheduler(s.opts.ReconnectDelay, func() {
		if gen != s.generation || s.target != target || !s.status.State.AcceptsConnect() {
			return
		}
		if err := s.Connect(target); err != nil {
			s.logger.WithError(err).Warn("Reconnect not issued")
		}
	})
}

func (s *Session) setState(state State, msg string) {
	prev := s.status.State
	s.status.State = state
	if state != Failed {
		s.status.Reason = ""
	}
	s.status.Message = msg

	if prev != state {
		s.logger.WithFields(logrus.Fields{
			"accessory": s.target.String(),
			"from":      prev.String(),
			"state":     state.String(),
		}).Debug("Connection state changed")
	}
	s.observer.StatusChanged(s.status)
}

func (s *Session) setMessage(msg string) {
	s.status.Message = msg
	s.observer.StatusChanged(s.status)
}

func (s *Session) fail(err error) {
	s.logger.WithError(err).WithField("accessory", s.target.String()).Warn("Connection failed")
	s.status.Reason = err.Error()
	s.setState(Failed, failureMessage(err))
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrServiceNotFound):
		return "Service not found"
	case errors.Is(err, ErrCharacteristicNotFound):
		return "Characteristic not found"
	default:
		return fmt.Sprintf("Failed to connect: %v", err)
	}
}

func unavailableMessage(ps radio.PowerState) string {
	return fmt.Sprintf("Bluetooth unavailable (%s)", ps)
}

func isNotFound(err error) bool {
	var nf *radio.NotFoundError
	return errors.As(err, &nf)
}

type nopObserver struct{}

func (nopObserver) StatusChanged(Status) {}
func (nopObserver) LinkReady(string)     {}
func (nopObserver) LinkLost()            {}
