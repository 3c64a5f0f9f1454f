package rigsim_test

import (
	"testing"
	"time"

	"github.com/srg/scanlink/internal/accessory"
	"github.com/srg/scanlink/internal/protocol"
	"github.com/srg/scanlink/internal/rigsim"
	"github.com/srg/scanlink/internal/session"
	"github.com/srg/scanlink/internal/testutils"
	"github.com/srg/scanlink/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, sub *session.Subscription, kind protocol.EventKind) protocol.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case u, ok := <-sub.C():
			require.True(t, ok, "stream closed")
			if u.Kind == session.EventReceived && u.Event.Kind == kind {
				return u.Event
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestControllerAgainstSimulatedRig(t *testing.T) {
	// GOAL: Verify a guided scan of two pages runs end to end against the simulated firmware
	//
	// TEST SCENARIO: connect → Ready → "2" → ReadyForCapture → "3" → ReadyForCapture → "3" → CaptureWindowClosed
	logger := testutils.QuietLogger(t)
	rig := rigsim.New(rigsim.Options{Latency: time.Microsecond, StepDelay: 2 * time.Millisecond, Pages: 2, Logger: logger})
	defer rig.Close()

	id, name := rig.Identity()
	reg, err := accessory.NewRegistry(&accessory.MemoryStore{}, nil, logger)
	require.NoError(t, err)
	require.NoError(t, reg.Set(accessory.Identity{ID: id, Name: name}))

	ctrl := session.New(rig, reg, session.Options{
		ServiceUUID:        "4fafc201-1fb5-459e-8fcc-c5c9c331914b",
		CharacteristicUUID: "beb5483e-36e1-4688-b7f5-ea07361b26a8",
		Logger:             logger,
	})
	defer ctrl.Close()
	sub := ctrl.Subscribe()

	require.NoError(t, ctrl.Connect())
	testutils.Eventually(t, 3*time.Second, func() bool {
		return ctrl.CurrentState() == transport.Ready
	}, "session MUST become ready")
	// notifications are enabled asynchronously; wait for the rig to see it
	testutils.Eventually(t, 3*time.Second, func() bool {
		return ctrl.Status().Message == "Notifications enabled"
	}, "notifications MUST be enabled")

	require.NoError(t, ctrl.Send(protocol.GuidedCapture))
	nextEvent(t, sub, protocol.ReadyForCapture)

	require.NoError(t, ctrl.Send(protocol.Shutter))
	nextEvent(t, sub, protocol.ReadyForCapture)

	require.NoError(t, ctrl.Send(protocol.Shutter))
	ev := nextEvent(t, sub, protocol.CaptureWindowClosed)
	assert.Equal(t, protocol.KeywordScanComplete, ev.Raw)
	assert.Equal(t, protocol.RigDone, rig.FirmwareState())

	ctrl.Disconnect()
	assert.Equal(t, transport.Disconnected, ctrl.CurrentState())
}
