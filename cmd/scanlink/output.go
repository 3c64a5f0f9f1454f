package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/srg/scanlink/internal/protocol"
	"github.com/srg/scanlink/internal/session"
	"github.com/srg/scanlink/internal/transport"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const timeLayout = "15:04:05.000"

// updatePrinter renders session Updates either as aligned text lines or as
// one JSON object per line with a stable key order.
type updatePrinter struct {
	out  io.Writer
	json bool

	state   *color.Color
	ready   *color.Color
	failed  *color.Color
	event   *color.Color
	closing *color.Color
}

func newUpdatePrinter(out io.Writer, asJSON, colored bool) *updatePrinter {
	p := &updatePrinter{
		out:     out,
		json:    asJSON,
		state:   color.New(color.FgBlue),
		ready:   color.New(color.FgGreen, color.Bold),
		failed:  color.New(color.FgRed, color.Bold),
		event:   color.New(color.FgCyan),
		closing: color.New(color.FgYellow, color.Bold),
	}
	for _, c := range []*color.Color{p.state, p.ready, p.failed, p.event, p.closing} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Print writes one update.
func (p *updatePrinter) Print(u session.Update) error {
	if p.json {
		return p.printJSON(u)
	}

	ts := u.Time.Format(timeLayout)
	if u.Kind == session.EventReceived {
		c := p.event
		if u.Event.Kind == protocol.CaptureWindowClosed {
			c = p.closing
		}
		_, err := fmt.Fprintf(p.out, "%s %-5s %s %s\n", ts, "event", c.Sprintf("%-21s", u.Event.Kind), u.Event.Raw)
		return err
	}

	c := p.state
	switch u.Status.State {
	case transport.Ready:
		c = p.ready
	case transport.Failed:
		c = p.failed
	}
	_, err := fmt.Fprintf(p.out, "%s %-5s %s %s\n", ts, "state", c.Sprintf("%-21s", u.Status), u.Status.Message)
	return err
}

func (p *updatePrinter) printJSON(u session.Update) error {
	om := orderedmap.New[string, any]()
	om.Set("time", u.Time.Format(time.RFC3339Nano))
	om.Set("kind", u.Kind.String())
	if u.Session != "" {
		om.Set("session", u.Session)
	}
	if u.Kind == session.EventReceived {
		om.Set("event", u.Event.Kind.String())
		om.Set("raw", u.Event.Raw)
		if u.Event.RigState != "" {
			om.Set("rig_state", string(u.Event.RigState))
		}
	} else {
		om.Set("state", u.Status.State.String())
		if u.Status.Reason != "" {
			om.Set("reason", u.Status.Reason)
		}
		om.Set("message", u.Status.Message)
	}
	return p.writeJSON(om)
}

// Notice prints a line that is not an Update, such as a command echo.
func (p *updatePrinter) Notice(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if p.json {
		om := orderedmap.New[string, any]()
		om.Set("time", time.Now().Format(time.RFC3339Nano))
		om.Set("kind", "notice")
		om.Set("message", msg)
		return p.writeJSON(om)
	}
	_, err := fmt.Fprintf(p.out, "%s %-5s %s\n", time.Now().Format(timeLayout), "-", msg)
	return err
}

func (p *updatePrinter) writeJSON(om *orderedmap.OrderedMap[string, any]) error {
	data, err := json.Marshal(om)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(p.out, "%s\n", data)
	return err
}
