package testutils

import (
	"context"
	"sync"

	"github.com/srg/scanlink/internal/radio"
)

// Operations recorded by FakeCentral.
const (
	OpConnect                 = "connect"
	OpCancel                  = "cancel"
	OpDiscoverServices        = "discover_services"
	OpDiscoverCharacteristics = "discover_characteristics"
	OpRead                    = "read"
	OpWrite                   = "write"
	OpNotify                  = "notify"
)

// Call is one request issued against FakeCentral.
type Call struct {
	Op           string
	ID           string
	Service      string
	Char         string
	UUIDs        []string
	Data         []byte
	WithResponse bool
	Enabled      bool
}

// FakeCentral is a radio.Central that records every request and lets the
// test play the radio's part by emitting Delegate events explicitly.
// It is safe for concurrent use.
type FakeCentral struct {
	mu       sync.Mutex
	delegate radio.Delegate
	power    radio.PowerState
	calls    []Call

	// Adverts are reported by Scan, which then waits for ctx.
	Adverts []radio.Advertisement
	ScanErr error
}

func NewFakeCentral() *FakeCentral {
	return &FakeCentral{}
}

var _ radio.Central = (*FakeCentral)(nil)

func (f *FakeCentral) SetDelegate(d radio.Delegate) {
	f.mu.Lock()
	f.delegate = d
	power := f.power
	f.mu.Unlock()

	if d != nil && power != radio.PowerUnknown {
		d.PowerStateChanged(power)
	}
}

func (f *FakeCentral) State() radio.PowerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.power
}

func (f *FakeCentral) Connect(id string) {
	f.record(Call{Op: OpConnect, ID: id})
}

func (f *FakeCentral) CancelConnection(id string) {
	f.record(Call{Op: OpCancel, ID: id})
}

func (f *FakeCentral) DiscoverServices(id string, services []string) {
	f.record(Call{Op: OpDiscoverServices, ID: id, UUIDs: services})
}

func (f *FakeCentral) DiscoverCharacteristics(id, service string, chars []string) {
	f.record(Call{Op: OpDiscoverCharacteristics, ID: id, Service: service, UUIDs: chars})
}

func (f *FakeCentral) ReadValue(id, service, char string) {
	f.record(Call{Op: OpRead, ID: id, Service: service, Char: char})
}

func (f *FakeCentral) WriteValue(id, service, char string, data []byte, withResponse bool) {
	f.record(Call{Op: OpWrite, ID: id, Service: service, Char: char, Data: append([]byte(nil), data...), WithResponse: withResponse})
}

func (f *FakeCentral) SetNotify(id, service, char string, enabled bool) {
	f.record(Call{Op: OpNotify, ID: id, Service: service, Char: char, Enabled: enabled})
}

func (f *FakeCentral) Scan(ctx context.Context, services []string, handler func(radio.Advertisement)) error {
	f.mu.Lock()
	adverts := append([]radio.Advertisement(nil), f.Adverts...)
	scanErr := f.ScanErr
	f.mu.Unlock()

	if scanErr != nil {
		return scanErr
	}
	for _, adv := range adverts {
		if len(services) == 0 || matchesAny(adv, services) {
			handler(adv)
		}
	}
	<-ctx.Done()
	return nil
}

func matchesAny(adv radio.Advertisement, services []string) bool {
	for _, s := range services {
		if adv.HasService(s) {
			return true
		}
	}
	return false
}

func (f *FakeCentral) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// Calls returns the recorded requests, optionally filtered by op.
func (f *FakeCentral) Calls(op ...string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Call, 0, len(f.calls))
	for _, c := range f.calls {
		if len(op) == 0 || c.Op == op[0] {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many requests of op were recorded.
func (f *FakeCentral) Count(op string) int {
	return len(f.Calls(op))
}

// Writes returns the payloads written, in order.
func (f *FakeCentral) Writes() []string {
	var out []string
	for _, c := range f.Calls(OpWrite) {
		out = append(out, string(c.Data))
	}
	return out
}

// ResetCalls forgets all recorded requests.
func (f *FakeCentral) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *FakeCentral) emit(fn func(d radio.Delegate)) {
	f.mu.Lock()
	d := f.delegate
	f.mu.Unlock()
	if d != nil {
		fn(d)
	}
}

// SetPower changes the adapter state and reports it.
func (f *FakeCentral) SetPower(state radio.PowerState) {
	f.mu.Lock()
	f.power = state
	f.mu.Unlock()
	f.emit(func(d radio.Delegate) { d.PowerStateChanged(state) })
}

func (f *FakeCentral) EmitConnected(id string) {
	f.emit(func(d radio.Delegate) { d.Connected(id) })
}

func (f *FakeCentral) EmitConnectFailed(id string, err error) {
	f.emit(func(d radio.Delegate) { d.ConnectFailed(id, err) })
}

func (f *FakeCentral) EmitDisconnected(id string, err error) {
	f.emit(func(d radio.Delegate) { d.Disconnected(id, err) })
}

func (f *FakeCentral) EmitServices(id string, services []string, err error) {
	f.emit(func(d radio.Delegate) { d.ServicesDiscovered(id, services, err) })
}

func (f *FakeCentral) EmitCharacteristics(id, service string, chars []string, err error) {
	f.emit(func(d radio.Delegate) { d.CharacteristicsDiscovered(id, service, chars, err) })
}

func (f *FakeCentral) EmitValue(id, char string, value []byte, err error) {
	f.emit(func(d radio.Delegate) { d.ValueUpdated(id, char, value, err) })
}

func (f *FakeCentral) EmitWriteResult(id, char string, err error) {
	f.emit(func(d radio.Delegate) { d.WriteCompleted(id, char, err) })
}

func (f *FakeCentral) EmitNotifyState(id, char string, enabled bool, err error) {
	f.emit(func(d radio.Delegate) { d.NotifyStateChanged(id, char, enabled, err) })
}
