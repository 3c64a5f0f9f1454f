package protocol

import (
	"errors"
	"testing"

	"github.com/srg/scanlink/internal/channel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) Write(text string) error {
	return m.Called(text).Error(0)
}

func TestInterpret(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Event
	}{
		{name: "exact ready", input: "SCAN_READY", expected: Event{Kind: ReadyForCapture, Raw: "SCAN_READY"}},
		{name: "framed ready", input: "xxSCAN_READYyy", expected: Event{Kind: ReadyForCapture, Raw: "xxSCAN_READYyy"}},
		{name: "wrong case", input: "scan_ready", expected: Event{Kind: StatusText, Raw: "scan_ready"}},
		{name: "complete", input: "<SCAN_COMPLETE>", expected: Event{Kind: CaptureWindowClosed, Raw: "<SCAN_COMPLETE>"}},
		{name: "ready wins over complete", input: "SCAN_COMPLETE SCAN_READY", expected: Event{Kind: ReadyForCapture, Raw: "SCAN_COMPLETE SCAN_READY"}},
		{name: "arbitrary text", input: "battery 80%", expected: Event{Kind: StatusText, Raw: "battery 80%"}},
		{name: "empty", input: "", expected: Event{Kind: StatusText, Raw: ""}},
		{name: "firmware state", input: "FLIPPING", expected: Event{Kind: StatusText, Raw: "FLIPPING", RigState: RigFlipping}},
		{name: "firmware state with newline", input: "DONE\n", expected: Event{Kind: StatusText, Raw: "DONE\n", RigState: RigDone}},
		{name: "firmware ready is not a capture signal", input: "READY", expected: Event{Kind: StatusText, Raw: "READY", RigState: RigReady}},
		{name: "lowercase state name", input: "idle", expected: Event{Kind: StatusText, Raw: "idle"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interpret(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, got, Interpret(tt.input), "Interpret MUST be deterministic")
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input    string
		expected Command
	}{
		{"1", ManualCapture},
		{"2", GuidedCapture},
		{"3", Shutter},
		{"manual", ManualCapture},
		{"Guided", GuidedCapture},
		{" shutter ", Shutter},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c, err := ParseCommand(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c)
		})
	}

	for _, bad := range []string{"", "0", "4", "12", "capture"} {
		_, err := ParseCommand(bad)
		assert.ErrorIs(t, err, channel.ErrInvalidPayload, "input %q", bad)
	}
}

func TestCommand_Names(t *testing.T) {
	assert.Equal(t, []Command{ManualCapture, GuidedCapture, Shutter}, Commands())
	assert.Equal(t, "guided", GuidedCapture.Name())
	assert.Equal(t, `shutter("3")`, Shutter.String())
	assert.Equal(t, "unknown", Command("9").Name())
	assert.False(t, Command("9").Valid())
}

func TestProtocol_Send(t *testing.T) {
	t.Run("encodes and writes", func(t *testing.T) {
		w := &mockWriter{}
		w.On("Write", "2").Return(nil).Once()

		require.NoError(t, New(w, nil).Send(GuidedCapture))
		w.AssertExpectations(t)
	})

	t.Run("propagates not ready", func(t *testing.T) {
		w := &mockWriter{}
		w.On("Write", "3").Return(channel.ErrNotReady).Once()

		err := New(w, nil).Send(Shutter)
		assert.ErrorIs(t, err, channel.ErrNotReady)
		w.AssertExpectations(t)
	})

	t.Run("rejects unknown command without writing", func(t *testing.T) {
		w := &mockWriter{}

		err := New(w, nil).Send(Command("x"))
		assert.ErrorIs(t, err, channel.ErrInvalidPayload)
		w.AssertNotCalled(t, "Write", mock.Anything)
	})

	t.Run("write failure", func(t *testing.T) {
		w := &mockWriter{}
		boom := errors.New("link lost")
		w.On("Write", "1").Return(boom)

		assert.ErrorIs(t, New(w, nil).Send(ManualCapture), boom)
	})
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "ready_for_capture", ReadyForCapture.String())
	assert.Equal(t, "capture_window_closed", CaptureWindowClosed.String())
	assert.Equal(t, "status_text", StatusText.String())
	assert.Equal(t, `status_text("hi")`, Event{Kind: StatusText, Raw: "hi"}.String())
}
