// Package rigsim simulates the scanning rig behind a radio.Central so the
// session core and the CLI can run without hardware.
//
// The firmware model follows the rig: a digit written to the command
// characteristic selects a state, and every state change is notified as the
// state name. On top of that the simulator drives the capture cycle the way
// the physical rig does: CAPTURING flips the page and returns to READY, or to
// DONE after the configured number of pages. Entering READY and DONE is also
// announced with the SCAN_READY and SCAN_COMPLETE signals.
package rigsim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/scanlink/internal/groutine"
	"github.com/srg/scanlink/internal/protocol"
	"github.com/srg/scanlink/internal/radio"
)

// Options configures the simulated rig. Zero values take the defaults, so
// use a tiny positive Latency rather than 0 for fast tests.
type Options struct {
	ID                 string        `default:"SIM:00:00:00:00:01"`
	Name               string        `default:"Scanner"`
	RSSI               int           `default:"-42"`
	ServiceUUID        string        `default:"4fafc201-1fb5-459e-8fcc-c5c9c331914b"`
	CharacteristicUUID string        `default:"beb5483e-36e1-4688-b7f5-ea07361b26a8"`
	Latency            time.Duration `default:"20ms"`
	StepDelay          time.Duration `default:"500ms"`
	// Pages ends a guided scan with DONE after that many captures; 0 never ends.
	Pages  int `default:"0"`
	Logger *logrus.Logger
}

// gapService is advertised next to the rig service.
const gapService = "1800"

// digit commands understood by the firmware
var digitStates = map[byte]protocol.RigState{
	'0': protocol.RigIdle,
	'1': protocol.RigInitialize,
	'2': protocol.RigReady,
	'3': protocol.RigCapturing,
	'4': protocol.RigFlipping,
	'5': protocol.RigDone,
	'9': protocol.RigError,
}

// Rig is a radio.Central with exactly one simulated peripheral.
type Rig struct {
	opts   Options
	logger *logrus.Logger

	events chan func(radio.Delegate)
	stop   chan struct{}
	once   sync.Once

	delegate atomic.Pointer[delegateRef]

	mu        sync.Mutex
	connected bool
	notifying bool
	state     protocol.RigState
	captured  int
	timer     *time.Timer
}

type delegateRef struct{ d radio.Delegate }

var _ radio.Central = (*Rig)(nil)

// New starts a simulated rig. Zero fields of opts take their defaults.
func New(opts Options) *Rig {
	defaults.SetDefaults(&opts)
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	r := &Rig{
		opts:   opts,
		logger: opts.Logger,
		events: make(chan func(radio.Delegate), 256),
		stop:   make(chan struct{}),
		state:  protocol.RigIdle,
	}
	groutine.Go(context.Background(), "rigsim-events", r.pump)
	return r
}

// Identity returns the simulated peripheral id and name.
func (r *Rig) Identity() (id, name string) {
	return r.opts.ID, r.opts.Name
}

// FirmwareState returns the rig's current state.
func (r *Rig) FirmwareState() protocol.RigState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Close stops event delivery and pending firmware timers.
func (r *Rig) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		if r.timer != nil {
			r.timer.Stop()
		}
		r.mu.Unlock()
		close(r.stop)
	})
}

func (r *Rig) pump(ctx context.Context) {
	r.logger.WithField("goroutine", groutine.Name(ctx)).Debug("Simulated rig started")
	for {
		select {
		case <-r.stop:
			return
		case fn := <-r.events:
			if r.opts.Latency > 0 {
				time.Sleep(r.opts.Latency)
			}
			if ref := r.delegate.Load(); ref != nil && ref.d != nil {
				fn(ref.d)
			}
		}
	}
}

func (r *Rig) emit(fn func(radio.Delegate)) {
	select {
	case r.events <- fn:
	case <-r.stop:
	}
}

func (r *Rig) SetDelegate(d radio.Delegate) {
	r.delegate.Store(&delegateRef{d: d})
	r.emit(func(d radio.Delegate) { d.PowerStateChanged(radio.PoweredOn) })
}

func (r *Rig) State() radio.PowerState {
	return radio.PoweredOn
}

func (r *Rig) Connect(id string) {
	if id != r.opts.ID {
		r.emit(func(d radio.Delegate) { d.ConnectFailed(id, radio.ErrUnknownPeer) })
		return
	}
	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()
	r.logger.WithField("peer", id).Debug("Simulated rig connected")
	r.emit(func(d radio.Delegate) { d.Connected(id) })
}

func (r *Rig) CancelConnection(id string) {
	r.mu.Lock()
	was := r.connected && id == r.opts.ID
	if was {
		r.connected = false
		r.notifying = false
	}
	r.mu.Unlock()
	if was {
		r.emit(func(d radio.Delegate) { d.Disconnected(id, nil) })
	}
}

// Drop simulates an unexpected link loss.
func (r *Rig) Drop(err error) {
	r.mu.Lock()
	was := r.connected
	r.connected = false
	r.notifying = false
	r.mu.Unlock()
	if was {
		id := r.opts.ID
		r.emit(func(d radio.Delegate) { d.Disconnected(id, err) })
	}
}

func (r *Rig) isConnected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected && id == r.opts.ID
}

func (r *Rig) DiscoverServices(id string, services []string) {
	if !r.isConnected(id) {
		r.emit(func(d radio.Delegate) { d.ServicesDiscovered(id, nil, radio.ErrNotConnected) })
		return
	}
	found := filter([]string{gapService, r.opts.ServiceUUID}, services)
	r.emit(func(d radio.Delegate) { d.ServicesDiscovered(id, found, nil) })
}

func (r *Rig) DiscoverCharacteristics(id, service string, chars []string) {
	if !r.isConnected(id) {
		r.emit(func(d radio.Delegate) { d.CharacteristicsDiscovered(id, service, nil, radio.ErrNotConnected) })
		return
	}
	if !radio.SameUUID(service, r.opts.ServiceUUID) {
		err := &radio.NotFoundError{Resource: "service", UUID: service}
		r.emit(func(d radio.Delegate) { d.CharacteristicsDiscovered(id, service, nil, err) })
		return
	}
	found := filter([]string{r.opts.CharacteristicUUID}, chars)
	r.emit(func(d radio.Delegate) { d.CharacteristicsDiscovered(id, service, found, nil) })
}

func (r *Rig) ReadValue(id, service, char string) {
	if !r.isConnected(id) {
		r.emit(func(d radio.Delegate) { d.ValueUpdated(id, char, nil, radio.ErrNotConnected) })
		return
	}
	value := []byte(r.FirmwareState())
	r.emit(func(d radio.Delegate) { d.ValueUpdated(id, char, value, nil) })
}

func (r *Rig) WriteValue(id, service, char string, data []byte, withResponse bool) {
	if !r.isConnected(id) {
		if withResponse {
			r.emit(func(d radio.Delegate) { d.WriteCompleted(id, char, radio.ErrNotConnected) })
		}
		return
	}
	if withResponse {
		r.emit(func(d radio.Delegate) { d.WriteCompleted(id, char, nil) })
	}
	if len(data) == 0 {
		return
	}

	st, ok := digitStates[data[0]]
	if !ok {
		r.logger.WithField("payload", string(data)).Warn("Simulated rig ignored invalid command")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if st == protocol.RigInitialize {
		r.captured = 0
	}
	r.enterLocked(st)
}

func (r *Rig) SetNotify(id, service, char string, enabled bool) {
	if !r.isConnected(id) {
		r.emit(func(d radio.Delegate) { d.NotifyStateChanged(id, char, enabled, radio.ErrNotConnected) })
		return
	}
	r.mu.Lock()
	r.notifying = enabled
	r.mu.Unlock()
	r.emit(func(d radio.Delegate) { d.NotifyStateChanged(id, char, enabled, nil) })
}

func (r *Rig) Scan(ctx context.Context, services []string, handler func(radio.Advertisement)) error {
	adv := radio.Advertisement{
		ID:       r.opts.ID,
		Name:     r.opts.Name,
		RSSI:     r.opts.RSSI,
		Services: []string{r.opts.ServiceUUID},
	}
	if len(services) == 0 || radio.ContainsUUID(services, r.opts.ServiceUUID) {
		handler(adv)
	}
	<-ctx.Done()
	return nil
}

// enterLocked moves the firmware to st, notifies, and arms the next step of
// the capture cycle. r.mu must be held.
func (r *Rig) enterLocked(st protocol.RigState) {
	if r.state == st {
		return
	}
	r.state = st
	r.logger.WithField("state", string(st)).Debug("Simulated rig state changed")

	r.notifyLocked(string(st))
	switch st {
	case protocol.RigReady:
		r.notifyLocked(protocol.KeywordScanReady)
	case protocol.RigDone:
		r.notifyLocked(protocol.KeywordScanComplete)
	}

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	switch st {
	case protocol.RigCapturing:
		r.captured++
		r.after(protocol.RigFlipping)
	case protocol.RigFlipping:
		if r.opts.Pages > 0 && r.captured >= r.opts.Pages {
			r.after(protocol.RigDone)
		} else {
			r.after(protocol.RigReady)
		}
	}
}

func (r *Rig) after(next protocol.RigState) {
	r.timer = time.AfterFunc(r.opts.StepDelay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.enterLocked(next)
	})
}

func (r *Rig) notifyLocked(text string) {
	if !r.connected || !r.notifying {
		return
	}
	id, char := r.opts.ID, r.opts.CharacteristicUUID
	value := []byte(text)
	// the pump never takes r.mu, so emitting under the lock is safe
	r.emit(func(d radio.Delegate) { d.ValueUpdated(id, char, value, nil) })
}

func filter(have, want []string) []string {
	if len(want) == 0 {
		return append([]string(nil), have...)
	}
	var out []string
	for _, h := range have {
		if radio.ContainsUUID(want, h) {
			out = append(out, h)
		}
	}
	return out
}
