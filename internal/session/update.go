package session

import (
	"fmt"
	"time"

	"github.com/srg/scanlink/internal/accessory"
	"github.com/srg/scanlink/internal/channel"
	"github.com/srg/scanlink/internal/protocol"
	"github.com/srg/scanlink/internal/radio"
	"github.com/srg/scanlink/internal/transport"
)

// UpdateKind tells which part of an Update is meaningful.
type UpdateKind int

const (
	// StateChanged carries a new state or status message in Status.
	StateChanged UpdateKind = iota
	// EventReceived carries an interpreted inbound signal in Event.
	EventReceived
)

func (k UpdateKind) String() string {
	if k == EventReceived {
		return "event"
	}
	return "state"
}

// Update is one element of the controller's observable stream.
type Update struct {
	Kind    UpdateKind
	Status  transport.Status
	Event   protocol.Event
	Session string
	Time    time.Time
}

func (u Update) String() string {
	if u.Kind == EventReceived {
		return fmt.Sprintf("event %s", u.Event)
	}
	return fmt.Sprintf("state %s: %s", u.Status, u.Status.Message)
}

// Info is a snapshot of the session aggregate.
type Info struct {
	// ID identifies the session in logs; empty before the first connect.
	ID        string
	Accessory accessory.Identity
	Status    transport.Status
	Power     radio.PowerState
	Traffic   channel.Counters
}

// Subscription delivers Updates in order. A slow reader loses the oldest
// Updates once its buffer is full; Dropped reports how many.
type Subscription struct {
	c    *Controller
	ring *ringChannel[Update]
}

// C returns the update stream. It is closed by Close or when the controller
// shuts down.
func (s *Subscription) C() <-chan Update {
	return s.ring.C()
}

// Dropped returns how many Updates were discarded on overflow.
func (s *Subscription) Dropped() int64 {
	return s.ring.Dropped()
}

// Close stops delivery and closes C.
func (s *Subscription) Close() {
	_ = s.c.call(func() {
		if _, ok := s.c.subs[s]; ok {
			delete(s.c.subs, s)
			s.ring.close()
		}
	})
}
