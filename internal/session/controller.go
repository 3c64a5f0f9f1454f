// Package session provides the Controller, the single entry point to the
// scanning rig link.
//
// The Controller owns one goroutine that drains a FIFO mailbox. Public
// methods post a closure and wait for it; radio callbacks post without
// waiting. Transport, channel and protocol state is only touched from that
// goroutine, so none of it needs locks, and observers see one ordered stream
// of Updates.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/scanlink/internal/accessory"
	"github.com/srg/scanlink/internal/channel"
	"github.com/srg/scanlink/internal/groutine"
	"github.com/srg/scanlink/internal/protocol"
	"github.com/srg/scanlink/internal/radio"
	"github.com/srg/scanlink/internal/transport"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("session controller closed")

// DefaultEventBuffer is the per-subscriber Update buffer.
const DefaultEventBuffer = 256

// Options configures a Controller.
type Options struct {
	ServiceUUID        string
	CharacteristicUUID string
	AutoReconnect      bool
	ReconnectDelay     time.Duration
	EventBuffer        int
	Logger             *logrus.Logger
}

// Controller is the facade over accessory registry, transport, channel and
// protocol.
type Controller struct {
	central  radio.Central
	registry *accessory.Registry
	opts     Options
	logger   *logrus.Logger

	transport *transport.Session
	channel   *channel.CharacteristicChannel
	protocol  *protocol.Protocol

	box       *mailbox
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// loop-owned
	subs      map[*Subscription]struct{}
	sessionID string
	final     transport.Status
}

// New creates a Controller and starts its loop. The controller registers
// itself as the central's delegate.
func New(central radio.Central, registry *accessory.Registry, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}

	c := &Controller{
		central:  central,
		registry: registry,
		opts:     opts,
		logger:   opts.Logger,
		box:      newMailbox(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		subs:     make(map[*Subscription]struct{}),
	}

	hooks := loopHooks{c}
	c.transport = transport.New(central, hooks, transport.Options{
		ServiceUUID:        opts.ServiceUUID,
		CharacteristicUUID: opts.CharacteristicUUID,
		AutoReconnect:      opts.AutoReconnect,
		ReconnectDelay:     opts.ReconnectDelay,
		Scheduler:          c.after,
	}, opts.Logger)
	c.channel = channel.New(central, opts.ServiceUUID, opts.CharacteristicUUID, hooks, opts.Logger)
	c.protocol = protocol.New(c.channel, opts.Logger)

	registry.OnRemove(func(id accessory.Identity) {
		c.post(func() {
			if c.transport.Target().ID == id.ID {
				c.forget()
			}
		})
	})

	groutine.Go(context.Background(), "session-controller", c.run)
	central.SetDelegate(radioDelegate{c})
	return c
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	c.logger.WithField("goroutine", groutine.Name(ctx)).Debug("Session loop started")

	for {
		select {
		case <-c.stop:
			c.final = c.transport.Status()
			for sub := range c.subs {
				sub.ring.close()
			}
			c.subs = nil
			return
		case <-c.box.ready():
			for _, fn := range c.box.drain() {
				fn()
			}
		}
	}
}

func (c *Controller) post(fn func()) bool {
	return c.box.post(fn)
}

// call runs fn on the loop and waits for it. It must not be used from the loop.
func (c *Controller) call(fn func()) error {
	ran := make(chan struct{})
	if !c.post(func() {
		fn()
		close(ran)
	}) {
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { c.post(fn) })
}

func (c *Controller) entry() *logrus.Entry {
	return c.logger.WithFields(logrus.Fields{
		"session":   c.sessionID,
		"accessory": c.transport.Target().String(),
	})
}

// Connect requests a connection to the paired accessory. A nil error means
// the request was accepted; progress is reported through Subscribe.
func (c *Controller) Connect() error {
	var err error
	if cerr := c.call(func() { err = c.connect() }); cerr != nil {
		return cerr
	}
	return err
}

func (c *Controller) connect() error {
	id, ok := c.registry.CurrentIdentity()
	if !ok {
		return c.transport.Connect(accessory.Identity{})
	}
	if c.sessionID == "" || c.transport.Target().ID != id.ID {
		c.sessionID = uuid.NewString()
	}
	err := c.transport.Connect(id)
	if err != nil {
		c.entry().WithError(err).Info("Connect request dropped")
	}
	return err
}

// Disconnect cancels an active or pending connection. It is idempotent.
func (c *Controller) Disconnect() {
	_ = c.call(c.transport.Disconnect)
}

// RemoveAccessory disconnects and forgets the paired accessory. Connect
// fails with accessory.ErrNoAccessory until a new one is picked.
func (c *Controller) RemoveAccessory() error {
	var err error
	if cerr := c.call(func() {
		id, ok := c.registry.CurrentIdentity()
		c.forget()
		if ok {
			err = c.registry.Remove(id)
		}
	}); cerr != nil {
		return cerr
	}
	return err
}

func (c *Controller) forget() {
	c.transport.Forget()
	c.channel.Reset()
	c.sessionID = ""
}

// Send transmits cmd. It fails with channel.ErrNotReady unless the session
// is Ready; such a command never reaches the radio.
func (c *Controller) Send(cmd protocol.Command) error {
	var err error
	if cerr := c.call(func() { err = c.protocol.Send(cmd) }); cerr != nil {
		return cerr
	}
	return err
}

// Read requests the characteristic value; it arrives as an EventReceived Update.
func (c *Controller) Read() error {
	var err error
	if cerr := c.call(func() { err = c.channel.Read() }); cerr != nil {
		return cerr
	}
	return err
}

// CurrentState returns the connection state.
func (c *Controller) CurrentState() transport.State {
	return c.Status().State
}

// Status returns the state with its status message.
func (c *Controller) Status() transport.Status {
	var st transport.Status
	if err := c.call(func() { st = c.transport.Status() }); err != nil {
		<-c.done
		return c.final
	}
	return st
}

// Session returns a snapshot of the session aggregate.
func (c *Controller) Session() Info {
	var info Info
	err := c.call(func() {
		info = Info{
			ID:      c.sessionID,
			Status:  c.transport.Status(),
			Power:   c.transport.Power(),
			Traffic: c.channel.Counters(),
		}
		info.Accessory, _ = c.registry.CurrentIdentity()
	})
	if err != nil {
		<-c.done
		info.Status = c.final
	}
	return info
}

// Subscribe returns a stream that starts with the current state.
func (c *Controller) Subscribe() *Subscription {
	sub := &Subscription{c: c, ring: newRingChannel[Update](c.opts.EventBuffer)}
	err := c.call(func() {
		c.subs[sub] = struct{}{}
		sub.ring.send(c.update(StateChanged, c.transport.Status(), protocol.Event{}))
	})
	if err != nil {
		sub.ring.close()
	}
	return sub
}

// Close stops the loop and closes all subscriptions. The central is left
// open; its owner closes it.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.box.close()
		close(c.stop)
		<-c.done
	})
}

func (c *Controller) update(kind UpdateKind, st transport.Status, ev protocol.Event) Update {
	return Update{Kind: kind, Status: st, Event: ev, Session: c.sessionID, Time: time.Now()}
}

func (c *Controller) publish(u Update) {
	for sub := range c.subs {
		if sub.ring.send(u) {
			c.entry().WithField("dropped", sub.ring.Dropped()).Debug("Subscriber too slow, dropped oldest update")
		}
	}
}

// loopHooks receives transport and channel notifications on the loop.
type loopHooks struct{ c *Controller }

func (h loopHooks) StatusChanged(st transport.Status) {
	h.c.publish(h.c.update(StateChanged, st, protocol.Event{}))
}

func (h loopHooks) LinkReady(peer string) {
	h.c.channel.Resolve(peer)
	if err := h.c.channel.Subscribe(); err != nil {
		h.c.entry().WithError(err).Warn("Failed to enable notifications")
	}
}

func (h loopHooks) LinkLost() {
	h.c.channel.Reset()
}

func (h loopHooks) Status(msg string) {
	h.c.transport.Annotate(msg)
}

func (h loopHooks) Received(text string) {
	ev := protocol.Interpret(text)
	h.c.entry().WithFields(logrus.Fields{
		"kind": ev.Kind.String(),
		"raw":  ev.Raw,
	}).Debug("Inbound signal")
	h.c.publish(h.c.update(EventReceived, h.c.transport.Status(), ev))
}

// radioDelegate marshals radio callbacks onto the loop.
type radioDelegate struct{ c *Controller }

func (d radioDelegate) PowerStateChanged(state radio.PowerState) {
	d.c.post(func() { d.c.transport.HandlePowerState(state) })
}

func (d radioDelegate) Connected(id string) {
	d.c.post(func() { d.c.transport.HandleConnected(id) })
}

func (d radioDelegate) ConnectFailed(id string, err error) {
	d.c.post(func() { d.c.transport.HandleConnectFailed(id, err) })
}

func (d radioDelegate) Disconnected(id string, err error) {
	d.c.post(func() { d.c.transport.HandleDisconnected(id, err) })
}

func (d radioDelegate) ServicesDiscovered(id string, services []string, err error) {
	d.c.post(func() { d.c.transport.HandleServicesDiscovered(id, services, err) })
}

func (d radioDelegate) CharacteristicsDiscovered(id, service string, chars []string, err error) {
	d.c.post(func() { d.c.transport.HandleCharacteristicsDiscovered(id, service, chars, err) })
}

func (d radioDelegate) ValueUpdated(id, char string, value []byte, err error) {
	value = append([]byte(nil), value...)
	d.c.post(func() {
		if d.c.forChannel(id, char) {
			d.c.channel.HandleValue(value, err)
		}
	})
}

func (d radioDelegate) WriteCompleted(id, char string, err error) {
	d.c.post(func() {
		if d.c.forChannel(id, char) {
			d.c.channel.HandleWriteResult(err)
		}
	})
}

func (d radioDelegate) NotifyStateChanged(id, char string, enabled bool, err error) {
	d.c.post(func() {
		if d.c.forChannel(id, char) {
			d.c.channel.HandleNotifyState(enabled, err)
		}
	})
}

func (c *Controller) forChannel(id, char string) bool {
	return c.channel.Ready() && id == c.channel.Peer() && radio.SameUUID(char, c.channel.UUID())
}
