// Package tinygo implements radio.Central with tinygo.org/x/bluetooth.
//
// On macOS peripheral identifiers are CoreBluetooth UUIDs, on Linux they are
// MAC addresses; both are passed through as opaque strings.
package tinygo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/scanlink/internal/groutine"
	"github.com/srg/scanlink/internal/radio"
	"tinygo.org/x/bluetooth"
)

type peer struct {
	device  *bluetooth.Device
	closing bool
	service map[string]bluetooth.DeviceService
	chars   map[string]bluetooth.DeviceCharacteristic
}

// Central wraps a tinygo bluetooth adapter.
type Central struct {
	adapter *bluetooth.Adapter
	enable  func() error
	logger  *logrus.Logger

	mu       sync.Mutex
	state    radio.PowerState
	delegate radio.Delegate
	peers    map[string]*peer

	ops    chan func()
	events chan func(radio.Delegate)
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCentral creates a central on the default adapter.
func NewCentral(logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Central{
		adapter: bluetooth.DefaultAdapter,
		enable:  bluetooth.DefaultAdapter.Enable,
		logger:  logger,
		peers:   make(map[string]*peer),
		ops:     make(chan func(), 32),
		events:  make(chan func(radio.Delegate), 64),
		ctx:     ctx,
		cancel:  cancel,
	}
	groutine.Go(ctx, "tinygo-ops", c.runOps)
	groutine.Go(ctx, "tinygo-callbacks", c.runCallbacks)
	return c
}

// Open enables the adapter and reports the resulting power state.
func (c *Central) Open() error {
	err := c.enable()

	state := radio.PoweredOn
	if err != nil {
		state = radio.Unsupported
		if strings.Contains(strings.ToLower(err.Error()), "off") {
			state = radio.PoweredOff
		}
	}

	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.emit(func(d radio.Delegate) { d.PowerStateChanged(state) })

	if err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}
	if !ackWrites {
		c.logger.Warn("Acknowledged writes are unavailable on this platform with the tinygo backend")
	}

	c.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		c.mu.Lock()
		p, ok := c.peers[id]
		if ok {
			delete(c.peers, id)
		}
		c.mu.Unlock()
		if !ok {
			return
		}
		var cause error
		if !p.closing {
			cause = radio.ErrNotConnected
		}
		c.emit(func(d radio.Delegate) { d.Disconnected(id, cause) })
	})
	return nil
}

// Close disconnects every peripheral and stops the worker goroutines.
func (c *Central) Close() error {
	c.mu.Lock()
	peers := c.peers
	c.peers = make(map[string]*peer)
	c.mu.Unlock()

	for _, p := range peers {
		if p.device != nil {
			_ = p.device.Disconnect()
		}
	}
	c.cancel()
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
	p := &peer{
		service: make(map[string]bluetooth.DeviceService),
		chars:   make(map[string]bluetooth.DeviceCharacteristic),
	}
	c.mu.Lock()
	c.peers[id] = p
	c.mu.Unlock()

	c.enqueue(func() {
		var addr bluetooth.Address
		addr.Set(id)

		device, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})

		c.mu.Lock()
		stale := c.peers[id] != p || p.closing
		if err == nil && !stale {
			p.device = &device
		}
		if err != nil && !stale {
			delete(c.peers, id)
		}
		c.mu.Unlock()

		switch {
		case err != nil && !stale:
			c.emit(func(d radio.Delegate) { d.ConnectFailed(id, err) })
		case err == nil && stale:
			_ = device.Disconnect()
		case err == nil:
			c.logger.WithField("address", id).Info("BLE device connected")
			c.emit(func(d radio.Delegate) { d.Connected(id) })
		}
	})
}

func (c *Central) CancelConnection(id string) {
	c.mu.Lock()
	p, ok := c.peers[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	p.closing = true
	device := p.device
	if device == nil {
		delete(c.peers, id)
	}
	c.mu.Unlock()

	if device == nil {
		c.emit(func(d radio.Delegate) { d.Disconnected(id, nil) })
		return
	}
	c.enqueue(func() {
		if err := device.Disconnect(); err != nil {
			c.logger.WithFields(logrus.Fields{"address": id, "error": err}).Warn("Disconnect failed")
		}
	})
}

func (c *Central) DiscoverServices(id string, services []string) {
	c.enqueue(func() {
		p, err := c.connected(id)
		if err != nil {
			c.emit(func(d radio.Delegate) { d.ServicesDiscovered(id, nil, err) })
			return
		}
		filter, err := parseUUIDs(services)
		if err != nil {
			c.emit(func(d radio.Delegate) { d.ServicesDiscovered(id, nil, err) })
			return
		}
		found, err := p.device.DiscoverServices(filter)
		if err != nil {
			c.emit(func(d radio.Delegate) { d.ServicesDiscovered(id, nil, err) })
			return
		}
		uuids := make([]string, 0, len(found))
		c.mu.Lock()
		for _, s := range found {
			uuid := radio.NormalizeUUID(s.UUID().String())
			p.service[uuid] = s
			uuids = append(uuids, uuid)
		}
		c.mu.Unlock()
		c.emit(func(d radio.Delegate) { d.ServicesDiscovered(id, uuids, nil) })
	})
}

func (c *Central) DiscoverCharacteristics(id, service string, chars []string) {
	c.enqueue(func() {
		p, err := c.connected(id)
		if err != nil {
			c.emit(func(d radio.Delegate) { d.CharacteristicsDiscovered(id, service, nil, err) })
			return
		}
		c.mu.Lock()
		svc, ok := p.service[radio.NormalizeUUID(service)]
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
		found, err := svc.DiscoverCharacteristics(filter)
		if err != nil {
			c.emit(func(d radio.Delegate) { d.CharacteristicsDiscovered(id, service, nil, err) })
			return
		}
		uuids := make([]string, 0, len(found))
		c.mu.Lock()
		for _, ch := range found {
			uuid := radio.NormalizeUUID(ch.UUID().String())
			p.chars[uuid] = ch
			uuids = append(uuids, uuid)
		}
		c.mu.Unlock()
		c.emit(func(d radio.Delegate) { d.CharacteristicsDiscovered(id, service, uuids, nil) })
	})
}

func (c *Central) ReadValue(id, service, char string) {
	c.enqueue(func() {
		ch, err := c.characteristic(id, char)
		if err != nil {
			c.emit(func(d radio.Delegate) { d.ValueUpdated(id, char, nil, err) })
			return
		}
		buf := make([]byte, 512)
		n, err := ch.Read(buf)
		value := buf[:n]
		c.emit(func(d radio.Delegate) { d.ValueUpdated(id, char, value, err) })
	})
}

func (c *Central) WriteValue(id, service, char string, data []byte, withResponse bool) {
	payload := append([]byte(nil), data...)
	c.enqueue(func() {
		ch, err := c.characteristic(id, char)
		if err == nil {
			if withResponse {
				err = writeWithResponse(ch, payload)
			} else {
				_, err = ch.WriteWithoutResponse(payload)
			}
		}
		c.emit(func(d radio.Delegate) { d.WriteCompleted(id, char, err) })
	})
}

func (c *Central) SetNotify(id, service, char string, enabled bool) {
	c.enqueue(func() {
		ch, err := c.characteristic(id, char)
		if err == nil {
			if enabled {
				err = ch.EnableNotifications(func(buf []byte) {
					value := append([]byte(nil), buf...)
					c.emit(func(d radio.Delegate) { d.ValueUpdated(id, char, value, nil) })
				})
			} else {
				err = ch.EnableNotifications(nil)
			}
		}
		c.emit(func(d radio.Delegate) { d.NotifyStateChanged(id, char, enabled, err) })
	})
}

func (c *Central) Scan(ctx context.Context, services []string, handler func(radio.Advertisement)) error {
	filter, err := parseUUIDs(services)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	groutine.Go(ctx, "tinygo-scan-stop", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			_ = c.adapter.StopScan()
		case <-done:
		}
	})

	err = c.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		var matched []string
		for i, u := range filter {
			if result.HasServiceUUID(u) {
				matched = append(matched, radio.NormalizeUUID(services[i]))
			}
		}
		if len(filter) > 0 && len(matched) == 0 {
			return
		}
		handler(radio.Advertisement{
			ID:       result.Address.String(),
			Name:     result.LocalName(),
			RSSI:     int(result.RSSI),
			Services: matched,
		})
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

func (c *Central) connected(id string) (*peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[id]
	if !ok {
		return nil, radio.ErrUnknownPeer
	}
	if p.device == nil || p.closing {
		return nil, radio.ErrNotConnected
	}
	return p, nil
}

func (c *Central) characteristic(id, char string) (bluetooth.DeviceCharacteristic, error) {
	p, err := c.connected(id)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	c.mu.Lock()
	ch, ok := p.chars[radio.NormalizeUUID(char)]
	c.mu.Unlock()
	if !ok {
		return bluetooth.DeviceCharacteristic{}, &radio.NotFoundError{Resource: "characteristic", UUID: char}
	}
	return ch, nil
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

// parseUUIDs converts dashed or compact UUID strings into tinygo UUIDs.
func parseUUIDs(uuids []string) ([]bluetooth.UUID, error) {
	out := make([]bluetooth.UUID, 0, len(uuids))
	for _, s := range uuids {
		u, err := bluetooth.ParseUUID(dashed(s))
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		out = append(out, u)
	}
	return out, nil
}

// dashed restores the 8-4-4-4-12 layout that bluetooth.ParseUUID expects.
func dashed(uuid string) string {
	n := radio.NormalizeUUID(uuid)
	if len(n) == 4 {
		n = "0000" + n + "00001000800000805f9b34fb"
	}
	if len(n) != 32 {
		return uuid
	}
	return n[0:8] + "-" + n[8:12] + "-" + n[12:16] + "-" + n[16:20] + "-" + n[20:32]
}

var _ radio.Central = (*Central)(nil)
