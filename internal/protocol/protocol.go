// Package protocol implements the rig's text command vocabulary.
//
// Outbound commands are single characters. Inbound text is interpreted by
// case-sensitive substring containment, so framing around a keyword does not
// prevent a match.
package protocol

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/scanlink/internal/channel"
)

// Command is one of the single-character tokens understood by the rig.
type Command string

const (
	// ManualCapture starts the manual capture flow.
	ManualCapture Command = "1"
	// GuidedCapture starts the scanner-guided capture flow.
	GuidedCapture Command = "2"
	// Shutter confirms a capture.
	Shutter Command = "3"
)

var commandNames = map[Command]string{
	ManualCapture: "manual",
	GuidedCapture: "guided",
	Shutter:       "shutter",
}

// Commands lists the vocabulary in wire order.
func Commands() []Command {
	return []Command{ManualCapture, GuidedCapture, Shutter}
}

// Valid reports whether c belongs to the vocabulary.
func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

// Name returns the human name of the command.
func (c Command) Name() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return "unknown"
}

func (c Command) String() string {
	return fmt.Sprintf("%s(%q)", c.Name(), string(c))
}

// ParseCommand accepts either the wire token or the command name.
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)
	if c := Command(s); c.Valid() {
		return c, nil
	}
	for c, name := range commandNames {
		if strings.EqualFold(s, name) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown command %q (expected 1, 2, 3, manual, guided or shutter)", channel.ErrInvalidPayload, s)
}

// Encode returns the wire form of c.
func Encode(c Command) (string, error) {
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown command %q", channel.ErrInvalidPayload, string(c))
	}
	return string(c), nil
}

// Writer is the outbound half of the characteristic channel.
type Writer interface {
	Write(text string) error
}

// Protocol sends commands over a Writer.
type Protocol struct {
	w      Writer
	logger *logrus.Logger
}

func New(w Writer, logger *logrus.Logger) *Protocol {
	if logger == nil {
		logger = logrus.New()
	}
	return &Protocol{w: w, logger: logger}
}

// Send encodes cmd and writes it. Delivery is best effort: the rig does not
// acknowledge commands, only the write itself is confirmed.
func (p *Protocol) Send(cmd Command) error {
	wire, err := Encode(cmd)
	if err != nil {
		return err
	}
	if err := p.w.Write(wire); err != nil {
		p.logger.WithError(err).WithField("command", cmd.Name()).Debug("Command not sent")
		return err
	}
	p.logger.WithField("command", cmd.Name()).Info("Command sent")
	return nil
}
