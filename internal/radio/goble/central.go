package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/scanlink/internal/groutine"
	"github.com/srg/scanlink/internal/radio"
)

const (
	// DefaultConnectTimeout bounds a single dial attempt.
	DefaultConnectTimeout = 30 * time.Second

	// eventBuffer is the depth of the delegate callback queue.
	eventBuffer = 64

	// opBuffer is the depth of the GATT operation queue.
	opBuffer = 32
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = newPlatformDevice

// Options configures the go-ble central.
type Options struct {
	ConnectTimeout time.Duration
}

// peer holds the live handles for one peripheral.
type peer struct {
	id       string
	client   ble.Client
	cancel   context.CancelFunc // cancels a pending dial
	closing  bool
	services map[string]*ble.Service
	chars    map[string]*ble.Characteristic
}

// Central implements radio.Central on top of go-ble.
//
// GATT requests are executed one at a time on an operation goroutine and
// every result is handed to the delegate from a single callback goroutine,
// so the delegate observes events in the order the radio produced them.
type Central struct {
	opts   Options
	logger *logrus.Logger

	mu       sync.Mutex
	dev      ble.Device
	state    radio.PowerState
	delegate radio.Delegate
	peers    map[string]*peer

	ops    chan func()
	events chan func(radio.Delegate)
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCentral creates a go-ble central. Call Open to bring the adapter up.
func NewCentral(opts Options, logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Central{
		opts:   opts,
		logger: logger,
		peers:  make(map[string]*peer),
		ops:    make(chan func(), opBuffer),
		events: make(chan func(radio.Delegate), eventBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	groutine.Go(ctx, "goble-ops", c.runOps)
	groutine.Go(ctx, "goble-callbacks", c.runCallbacks)
	return c
}

// Open creates the platform device and reports the resulting power state.
// A failure leaves the central in a non-powered state rather than returning
// an unusable value; the error is still returned for diagnostics.
func (c *Central) Open() error {
	dev, err := DeviceFactory()

	c.mu.Lock()
	if err != nil {
		c.state = powerStateFor(err)
	} else {
		c.dev = dev
		c.state = radio.PoweredOn
	}
	state := c.state
	c.mu.Unlock()

	c.logger.WithField("power_state", state).Debug("Bluetooth adapter state")
	c.emit(func(d radio.Delegate) { d.PowerStateChanged(state) })

	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	return nil
}

// Close cancels pending work, drops every peripheral and stops the device.
func (c *Central) Close() error {
	c.mu.Lock()
	dev := c.dev
	peers := c.peers
	c.peers = make(map[string]*peer)
	c.dev = nil
	c.state = radio.PoweredOff
	c.mu.Unlock()

	for _, p := range peers {
		if p.cancel != nil {
			p.cancel()
		}
		if p.client != nil {
			_ = p.client.CancelConnection()
		}
	}

	c.cancel()
	if dev != nil {
		return dev.Stop()
	}
	return nil
}

func (c *Central) SetDelegate(d radio.Delegate) {
	c.mu.Lock()
	c.delegate = d
	state := c.state
	c.mu.Unlock()

	if state != radio.PowerUnknown {
		c.emit(func(d radio.Delegate) { d.PowerStateChanged(state) })
	}
}

func (c *Central) State() radio.PowerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Central) Connect(id string) {
	c.mu.Lock()
	dev := c.dev
	if dev == nil {
		c.mu.Unlock()
		c.emit(func(d radio.Delegate) { d.ConnectFailed(id, radio.ErrPoweredOff) })
		return
	}
	dialCtx, cancel := context.WithTimeout(c.ctx, c.opts.ConnectTimeout)
	p := &peer{
		id:       id,
		cancel:   cancel,
		services: make(map[string]*ble.Service),
		chars:    make(map[string]*ble.Characteristic),
	}
	c.peers[id] = p
	c.mu.Unlock()

	c.logger.WithField("address", id).Info("Connecting to BLE device...")

	c.enqueue(func() {
		defer cancel()

		client, err := dev.Dial(dialCtx, ble.NewAddr(id))

		c.mu.Lock()
		current := c.peers[id]
		stale := current != p || p.closing
		if err == nil && !stale {
			p.client = client
			p.cancel = nil
		}
		c.mu.Unlock()

		if err != nil {
			if stale {
				return
			}
			c.dropPeer(id, p)
			c.logger.WithFields(logrus.Fields{
				"address": id,
				"error":   err,
			}).Error("Failed to dial BLE device")
			c.emit(func(d radio.Delegate) { d.ConnectFailed(id, NormalizeError(err)) })
			return
		}

		if stale {
			// Cancelled while dialing.
			_ = client.CancelConnection()
			return
		}

		groutine.Go(c.ctx, "goble-disconnect-monitor", func(ctx context.Context) {
			c.monitor(ctx, p, client)
		})

		c.logger.WithField("address", id).Info("BLE device connected")
		c.emit(func(d radio.Delegate) { d.Connected(id) })
	})
}

// monitor reports the link loss signalled by the client's Disconnected channel.
func (c *Central) monitor(ctx context.Context, p *peer, client ble.Client) {
	select {
	case <-client.Disconnected():
	case <-ctx.Done():
		return
	}

	c.mu.Lock()
	userInitiated := p.closing
	current := c.peers[p.id] == p
	if current {
		delete(c.peers, p.id)
	}
	c.mu.Unlock()

	// A newer Connect for the same address owns the id now.
	if !current {
		c.logger.WithField("address", p.id).Debug("Ignoring disconnection of a superseded link")
		return
	}

	var cause error
	if !userInitiated {
		cause = radio.ErrNotConnected
		c.logger.WithField("address", p.id).Warn("BLE device reported disconnection")
	} else {
		c.logger.WithField("address", p.id).Info("BLE device disconnected")
	}
	c.emit(func(d radio.Delegate) { d.Disconnected(p.id, cause) })
}

func (c *Central) CancelConnection(id string) {
	c.mu.Lock()
	p, ok := c.peers[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	p.closing = true
	cancel := p.cancel
	client := p.client
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if client == nil {
		// The dial never completed; nothing will close the link for us.
		c.dropPeer(id, p)
		c.emit(func(d radio.Delegate) { d.Disconnected(id, nil) })
		return
	}

	c.enqueue(func() {
		if err := client.CancelConnection(); err != nil {
			c.logger.WithFields(logrus.Fields{
				"address": id,
				"error":   err,
			}).Warn("BLE device disconnected with errors")
		}
	})
}

func (c *Central) DiscoverServices(id string, services []string) {
	c.enqueue(func() {
		p, client, err := c.connectedPeer(id)
		if err != nil {
			c.emit(func(d radio.Delegate) { d.ServicesDiscovered(id, nil, err) })
			return
		}

		filter, err := parseUUIDs(services)
		if err != nil {
			c.emit(func(d radio.Delegate) { d.ServicesDiscovered(id, nil, err) })
			return
		}

		found, err := client.DiscoverServices(filter)
		if err != nil {
			err = NormalizeError(err)
			c.emit(func(d radio.Delegate) { d.ServicesDiscovered(id, nil, err) })
			return
		}

		uuids := make([]string, 0, len(found))
		c.mu.Lock()
		for _, s := range found {
			uuid := radio.NormalizeUUID(s.UUID.String())
			p.services[uuid] = s
			uuids = append(uuids, uuid)
		}
		c.mu.Unlock()

		c.logger.WithFields(logrus.Fields{
			"address":  id,
			"services": len(uuids),
		}).Debug("Services discovered")
		c.emit(func(d radio.Delegate) { d.ServicesDiscovered(id, uuids, nil) })
	})
}

func (c *Central) DiscoverCharacteristics(id, service string, chars []string) {
	c.enqueue(func() {
		p, client, err := c.connectedPeer(id)
		if err != nil {
			c.emit(func(d radio.Delegate) { d.CharacteristicsDiscovered(id, service, nil, err) })
			return
		}

		c.mu.Lock()
		svc, ok := p.services[radio.NormalizeUUID(service)]
		c.mu.Unlock()
		if !ok {
			err := &radio.NotFoundError{Resource: "service", UUID: service}
			c.emit(func(d radio.Delegate) { d.CharacteristicsDiscovered(id, service, nil, err) })
			return
		}

		filter, err := parseUUIDs(chars)
		if err != nil {
			c.emit(func(d radio.Delegate) { d.CharacteristicsDiscovered(id, service, nil, err) })
			return
		}

		found, err := client.DiscoverCharacteristics(filter, svc)
		if err != nil {
			err = NormalizeError(err)
			c.emit(func(d radio.Delegate) { d.CharacteristicsDiscovered(id, service, nil, err) })
			return
		}

		uuids := make([]string, 0, len(found))
		for _, ch := range found {
			// Subscribing needs the CCCD handle on Linux.
			if ch.Property&(ble.CharNotify|ble.CharIndicate) != 0 {
				if _, err := client.DiscoverDescriptors(nil, ch); err != nil {
					c.logger.WithFields(logrus.Fields{
						"char_uuid": ch.UUID.String(),
						"error":     err,
					}).Debug("Descriptor discovery failed")
				}
			}
			uuid := radio.NormalizeUUID(ch.UUID.String())
			c.mu.Lock()
			p.chars[uuid] = ch
			c.mu.Unlock()
			uuids = append(uuids, uuid)
		}

		c.emit(func(d radio.Delegate) { d.CharacteristicsDiscovered(id, service, uuids, nil) })
	})
}

func (c *Central) ReadValue(id, service, char string) {
	c.enqueue(func() {
		client, ch, err := c.characteristic(id, char)
		if err != nil {
			c.emit(func(d radio.Delegate) { d.ValueUpdated(id, char, nil, err) })
			return
		}

		data, err := client.ReadCharacteristic(ch)
		c.emit(func(d radio.Delegate) { d.ValueUpdated(id, char, data, NormalizeError(err)) })
	})
}

func (c *Central) WriteValue(id, service, char string, data []byte, withResponse bool) {
	payload := append([]byte(nil), data...)
	c.enqueue(func() {
		client, ch, err := c.characteristic(id, char)
		if err != nil {
			c.emit(func(d radio.Delegate) { d.WriteCompleted(id, char, err) })
			return
		}

		err = NormalizeError(client.WriteCharacteristic(ch, payload, !withResponse))
		c.logger.WithFields(logrus.Fields{
			"char_uuid": char,
			"bytes":     len(payload),
			"error":     err,
		}).Debug("Wrote characteristic")
		c.emit(func(d radio.Delegate) { d.WriteCompleted(id, char, err) })
	})
}

func (c *Central) SetNotify(id, service, char string, enabled bool) {
	c.enqueue(func() {
		client, ch, err := c.characteristic(id, char)
		if err != nil {
			c.emit(func(d radio.Delegate) { d.NotifyStateChanged(id, char, enabled, err) })
			return
		}

		if enabled {
			err = client.Subscribe(ch, false, func(data []byte) {
				value := append([]byte(nil), data...)
				c.emit(func(d radio.Delegate) { d.ValueUpdated(id, char, value, nil) })
			})
		} else {
			err = client.Unsubscribe(ch, false)
		}
		err = NormalizeError(err)
		c.emit(func(d radio.Delegate) { d.NotifyStateChanged(id, char, enabled, err) })
	})
}

func (c *Central) Scan(ctx context.Context, services []string, handler func(radio.Advertisement)) error {
	c.mu.Lock()
	dev := c.dev
	c.mu.Unlock()
	if dev == nil {
		return radio.ErrPoweredOff
	}

	c.logger.WithField("services", services).Info("Starting BLE scan...")
	err := dev.Scan(ctx, false, func(a ble.Advertisement) {
		adv := toAdvertisement(a)
		if len(services) > 0 {
			matched := false
			for _, s := range services {
				if adv.HasService(s) {
					matched = true
					break
				}
			}
			if !matched {
				return
			}
		}
		handler(adv)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", NormalizeError(err))
	}
	return nil
}

func (c *Central) connectedPeer(id string) (*peer, ble.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[id]
	if !ok {
		return nil, nil, radio.ErrUnknownPeer
	}
	if p.client == nil || p.closing {
		return nil, nil, radio.ErrNotConnected
	}
	return p, p.client, nil
}

func (c *Central) characteristic(id, char string) (ble.Client, *ble.Characteristic, error) {
	p, client, err := c.connectedPeer(id)
	if err != nil {
		return nil, nil, err
	}
	c.mu.Lock()
	ch, ok := p.chars[radio.NormalizeUUID(char)]
	c.mu.Unlock()
	if !ok {
		return nil, nil, &radio.NotFoundError{Resource: "characteristic", UUID: char}
	}
	return client, ch, nil
}

// dropPeer forgets p if it is still the registered peer for id.
func (c *Central) dropPeer(id string, p *peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peers[id] == p {
		delete(c.peers, id)
	}
}

func (c *Central) enqueue(op func()) {
	select {
	case c.ops <- op:
	case <-c.ctx.Done():
	}
}

func (c *Central) emit(fn func(radio.Delegate)) {
	select {
	case c.events <- fn:
	case <-c.ctx.Done():
	}
}

func (c *Central) runOps(ctx context.Context) {
	for {
		select {
		case op := <-c.ops:
			op()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Central) runCallbacks(ctx context.Context) {
	for {
		select {
		case fn := <-c.events:
			c.mu.Lock()
			d := c.delegate
			c.mu.Unlock()
			if d != nil {
				fn(d)
			}
		case <-ctx.Done():
			return
		}
	}
}

func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	out := make([]ble.UUID, 0, len(uuids))
	for _, s := range uuids {
		u, err := ble.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func toAdvertisement(a ble.Advertisement) radio.Advertisement {
	services := make([]string, 0, len(a.Services()))
	for _, u := range a.Services() {
		services = append(services, radio.NormalizeUUID(u.String()))
	}
	return radio.Advertisement{
		ID:       a.Addr().String(),
		Name:     a.LocalName(),
		RSSI:     a.RSSI(),
		Services: services,
	}
}

// Compile-time check that Central implements radio.Central.
var _ radio.Central = (*Central)(nil)
