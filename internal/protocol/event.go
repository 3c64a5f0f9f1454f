package protocol

import (
	"fmt"
	"strings"
)

// Keywords the rig embeds in its notifications.
const (
	KeywordScanReady    = "SCAN_READY"
	KeywordScanComplete = "SCAN_COMPLETE"
)

// EventKind classifies an inbound signal.
type EventKind int

const (
	// StatusText is any payload without a recognized keyword.
	StatusText EventKind = iota
	// ReadyForCapture means the rig has positioned the page.
	ReadyForCapture
	// CaptureWindowClosed means the rig finished the capture sequence.
	CaptureWindowClosed
)

func (k EventKind) String() string {
	switch k {
	case ReadyForCapture:
		return "ready_for_capture"
	case CaptureWindowClosed:
		return "capture_window_closed"
	default:
		return "status_text"
	}
}

// RigState is a state name reported by the rig firmware.
type RigState string

const (
	RigIdle       RigState = "IDLE"
	RigInitialize RigState = "INITIALIZE"
	RigReady      RigState = "READY"
	RigCapturing  RigState = "CAPTURING"
	RigFlipping   RigState = "FLIPPING"
	RigDone       RigState = "DONE"
	RigError      RigState = "ERROR"
)

var rigStates = map[RigState]struct{}{
	RigIdle: {}, RigInitialize: {}, RigReady: {}, RigCapturing: {},
	RigFlipping: {}, RigDone: {}, RigError: {},
}

// ParseRigState returns the firmware state named exactly by s.
func ParseRigState(s string) (RigState, bool) {
	st := RigState(s)
	_, ok := rigStates[st]
	return st, ok
}

// Event is the semantic meaning of one inbound signal.
type Event struct {
	Kind EventKind
	Raw  string
	// RigState is set for StatusText events whose text is a firmware state name.
	RigState RigState
}

func (e Event) String() string {
	if e.Kind == StatusText {
		return fmt.Sprintf("%s(%q)", e.Kind, e.Raw)
	}
	return e.Kind.String()
}

// Interpret maps inbound text to an Event. It is pure: equal input yields
// equal output. SCAN_READY takes precedence when both keywords appear.
func Interpret(text string) Event {
	switch {
	case strings.Contains(text, KeywordScanReady):
		return Event{Kind: ReadyForCapture, Raw: text}
	case strings.Contains(text, KeywordScanComplete):
		return Event{Kind: CaptureWindowClosed, Raw: text}
	}

	ev := Event{Kind: StatusText, Raw: text}
	if st, ok := ParseRigState(strings.TrimSpace(text)); ok {
		ev.RigState = st
	}
	return ev
}
