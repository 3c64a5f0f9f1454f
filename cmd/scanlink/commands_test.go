package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/srg/scanlink/internal/channel"
	"github.com/srg/scanlink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const simID = "SIM:00:00:00:00:01"

type CommandsTestSuite struct {
	CommandTestSuite
}

func (s *CommandsTestSuite) TestPickAddressStatusForget() {
	// GOAL: Verify the stored rig survives between invocations and is removed by forget
	//
	// TEST SCENARIO: pick --address → status shows it → forget → status shows none

	out, err := s.ExecuteCommand(nil, "pick", "--address", "AA:BB:CC:DD:EE:FF", "--name", "Desk rig")
	s.Require().NoError(err, "pick MUST succeed")
	testutils.NewTextAsserter(s.T()).Assert(out, "Paired with Desk rig (AA:BB:CC:DD:EE:FF)")

	out, err = s.ExecuteCommand(nil, "status")
	s.Require().NoError(err, "status MUST succeed")
	row := func(k string, v any) string { return fmt.Sprintf("%-22s%v", k+":", v) }
	testutils.NewTextAsserter(s.T()).Assert(out, strings.Join([]string{
		row("paired", true),
		row("rig", "Desk rig (AA:BB:CC:DD:EE:FF)"),
		row("backend", "goble"),
		row("service_uuid", "4fafc201-1fb5-459e-8fcc-c5c9c331914b"),
		row("characteristic_uuid", "beb5483e-36e1-4688-b7f5-ea07361b26a8"),
		row("auto_reconnect", false),
		row("registry", s.registryPath),
	}, "\n"))

	out, err = s.ExecuteCommand(nil, "forget")
	s.Require().NoError(err, "forget MUST succeed")
	testutils.NewTextAsserter(s.T()).Assert(out, "Forgot Desk rig (AA:BB:CC:DD:EE:FF)")

	out, err = s.ExecuteCommand(nil, "status", "--json")
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(out, `{"paired": false, "rig": "none", "backend": "goble"}`)
	s.NotContains(out, `"accessory"`, "unpaired status MUST NOT carry an accessory object")

	out, err = s.ExecuteCommand(nil, "forget")
	s.Require().NoError(err, "forget with nothing paired MUST NOT fail")
	testutils.NewTextAsserter(s.T()).Assert(out, "No rig paired")
}

func (s *CommandsTestSuite) TestStatus_SimulatedJSON() {
	s.WriteConfig("auto_reconnect: true\n")

	out, err := s.ExecuteCommand(nil, "status", "--simulate", "--json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"paired": true,
		"rig": "Scanner (SIM:00:00:00:00:01)",
		"accessory": {"id": "SIM:00:00:00:00:01", "name": "Scanner"},
		"backend": "simulator",
		"service_uuid": "<<ANY>>",
		"characteristic_uuid": "<<ANY>>",
		"auto_reconnect": true,
		"registry": "memory"
	}`)
	s.Less(strings.Index(out, `"paired"`), strings.Index(out, `"registry"`), "keys MUST keep display order")
}

func (s *CommandsTestSuite) TestStatus_InvalidBackend() {
	_, err := s.ExecuteCommand(nil, "status", "--backend", "bluez")
	s.Require().Error(err)
	s.Contains(err.Error(), "backend")
}

func (s *CommandsTestSuite) TestPick_SimulatedScan() {
	// GOAL: Verify the picker lists the advertised rig and stores the chosen entry
	//
	// TEST SCENARIO: scan simulated radio → answer 1 → rig is paired

	out, err := s.ExecuteCommand(strings.NewReader("1\n"), "pick", "--simulate", "--scan-timeout", "50ms")
	s.Require().NoError(err, "pick MUST succeed")

	s.Contains(out, "Found 1 rig(s):")
	s.Contains(out, "1) Scanner")
	s.Contains(out, simID)
	s.Contains(out, "RSSI -42")
	s.Contains(out, "Paired with Scanner (SIM:00:00:00:00:01)")
}

func (s *CommandsTestSuite) TestPick_Cancelled() {
	out, err := s.ExecuteCommand(strings.NewReader("\n"), "pick", "--simulate", "--scan-timeout", "50ms")
	s.Require().NoError(err, "dismissing the picker MUST NOT be an error")
	s.Contains(out, "Selection cancelled; keeping Scanner (SIM:00:00:00:00:01)")
}

func (s *CommandsTestSuite) TestPick_InvalidThenValidChoice() {
	out, err := s.ExecuteCommand(strings.NewReader("7\n1\n"), "pick", "--simulate", "--scan-timeout", "50ms")
	s.Require().NoError(err)
	s.Contains(out, `"7" is not a valid choice`)
	s.Contains(out, "Paired with Scanner")
}

func (s *CommandsTestSuite) TestSend_InvalidCommand() {
	_, err := s.ExecuteCommand(nil, "send", "zoom")
	s.Require().Error(err)
	s.ErrorIs(err, channel.ErrInvalidPayload, "an unknown command MUST be rejected before connecting")
	s.Contains(FormatUserError(err), "invalid command")
}

func (s *CommandsTestSuite) TestSend_Shutter() {
	// GOAL: Verify send connects, writes one command and reports the write confirmation
	//
	// TEST SCENARIO: send shutter to simulated rig → "sent" notice → write confirmed

	out, err := s.ExecuteCommand(nil, "send", "shutter", "--simulate")
	s.Require().NoError(err, "send MUST succeed")

	s.Contains(out, `sent shutter("3")`)
	s.Contains(out, channel.StatusWriteOK)
	s.Less(strings.Index(out, "sent shutter"), strings.Index(out, channel.StatusWriteOK),
		"the write confirmation MUST follow the send notice")
}

func (s *CommandsTestSuite) TestSend_WaitStopsOnScanComplete() {
	// GOAL: Verify --wait streams rig signals and stops at SCAN_COMPLETE
	//
	// TEST SCENARIO: one-page rig, send shutter → CAPTURING → FLIPPING → DONE → SCAN_COMPLETE → exit

	s.env.simulator.Pages = 1

	out, err := s.ExecuteCommand(nil, "send", "3", "--simulate", "--wait", "10s", "--json")
	s.Require().NoError(err, "send MUST succeed")

	lines := s.Lines(out)
	s.Require().NotEmpty(lines)
	testutils.NewJSONAsserter(s.T()).Assert(lines[len(lines)-1],
		`{"kind": "event", "event": "capture_window_closed", "raw": "SCAN_COMPLETE"}`)

	var states []string
	for _, l := range lines {
		var rec map[string]any
		s.Require().NoError(json.Unmarshal([]byte(l), &rec), "every line MUST be JSON: %s", l)
		if rs, ok := rec["rig_state"].(string); ok {
			states = append(states, rs)
		}
	}
	s.Equal([]string{"CAPTURING", "FLIPPING", "DONE"}, states)
}

func (s *CommandsTestSuite) TestWatch_InteractiveLines() {
	// GOAL: Verify input lines are held until the link settles and then executed in order
	//
	// TEST SCENARIO: stdin "bogus", "s", EOF → error line, session summary while ready, quit

	out, err := s.ExecuteCommand(strings.NewReader("bogus\ns\n"), "watch", "--simulate", "--stdin")
	s.Require().NoError(err, "watch MUST exit cleanly at end of input")

	s.Contains(out, "ready")
	s.Contains(out, `! invalid command`)
	s.Contains(out, `unknown command "bogus"`)
	s.Contains(out, "rig=Scanner (SIM:00:00:00:00:01) state=ready power=powered_on writes=0")
	s.Less(strings.Index(out, "Ready to read/write"), strings.Index(out, "state=ready"),
		"commands MUST run only after the link is ready")
}

func (s *CommandsTestSuite) TestWatch_AutoCapture() {
	// GOAL: Verify a full guided scan driven from watch
	//
	// TEST SCENARIO: guided → SCAN_READY → shutter (x2 pages) → SCAN_COMPLETE → exit

	pr, pw := io.Pipe()
	defer pw.Close()
	go func() { _, _ = io.WriteString(pw, "guided\n") }()

	out, err := s.ExecuteCommand(pr, "watch", "--simulate", "--stdin", "--auto-capture", "--json")
	s.Require().NoError(err, "watch MUST end after SCAN_COMPLETE")

	var sent []string
	var events []string
	for _, l := range s.Lines(out) {
		var rec map[string]any
		s.Require().NoError(json.Unmarshal([]byte(l), &rec), "every line MUST be JSON: %s", l)
		switch rec["kind"] {
		case "notice":
			sent = append(sent, rec["message"].(string))
		case "event":
			if ev := rec["event"].(string); ev != "status_text" {
				events = append(events, ev)
			}
		}
	}

	s.Equal([]string{`sent guided("2")`, `sent shutter("3")`, `sent shutter("3")`}, sent)
	s.Equal([]string{"ready_for_capture", "ready_for_capture", "capture_window_closed"}, events)
}

func TestCommandsTestSuite(t *testing.T) {
	suite.Run(t, new(CommandsTestSuite))
}
