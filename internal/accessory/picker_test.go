package accessory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/scanlink/internal/radio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	adverts  []radio.Advertisement
	err      error
	services []string
	block    bool
}

func (s *fakeScanner) Scan(ctx context.Context, services []string, handler func(radio.Advertisement)) error {
	s.services = services
	for _, adv := range s.adverts {
		handler(adv)
	}
	if s.block {
		<-ctx.Done()
	}
	return s.err
}

type mockChooser struct {
	mock.Mock
}

func (m *mockChooser) Choose(ctx context.Context, candidates []radio.Advertisement) (radio.Advertisement, error) {
	args := m.Called(ctx, candidates)
	return args.Get(0).(radio.Advertisement), args.Error(1)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestScanPicker_DeduplicatesAndSortsBySignal(t *testing.T) {
	scanner := &fakeScanner{adverts: []radio.Advertisement{
		{ID: "a", Name: "Rig A", RSSI: -80},
		{ID: "b", Name: "Rig B", RSSI: -40},
		{ID: "a", RSSI: -60},
	}}
	chooser := &mockChooser{}
	expected := []radio.Advertisement{
		{ID: "b", Name: "Rig B", RSSI: -40},
		{ID: "a", Name: "Rig A", RSSI: -60},
	}
	chooser.On("Choose", mock.Anything, expected).Return(expected[1], nil).Once()

	p := &ScanPicker{Scanner: scanner, Chooser: chooser, ServiceUUID: "4fafc201", Timeout: time.Second, Logger: quietLogger()}
	id, err := p.Pick(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Identity{ID: "a", Name: "Rig A"}, id, "later advert MUST keep earlier name")
	assert.Equal(t, []string{"4fafc201"}, scanner.services, "scan MUST filter by the rig service")
	chooser.AssertExpectations(t)
}

// GOAL: Repeated adverts refresh the candidate instead of keeping the first sighting
//
// TEST SCENARIO: "a" is seen three times with changing signal and a late name → candidate shows the last RSSI and name
func TestScanPicker_RepeatedAdvertsRefreshCandidate(t *testing.T) {
	scanner := &fakeScanner{adverts: []radio.Advertisement{
		{ID: "a", RSSI: -90},
		{ID: "b", Name: "Rig B", RSSI: -50},
		{ID: "a", Name: "Rig A", RSSI: -70},
		{ID: "a", RSSI: -30},
	}}
	chooser := &mockChooser{}
	expected := []radio.Advertisement{
		{ID: "a", Name: "Rig A", RSSI: -30},
		{ID: "b", Name: "Rig B", RSSI: -50},
	}
	chooser.On("Choose", mock.Anything, expected).Return(expected[0], nil).Once()

	p := &ScanPicker{Scanner: scanner, Chooser: chooser, Timeout: time.Second, Logger: quietLogger()}
	id, err := p.Pick(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Identity{ID: "a", Name: "Rig A"}, id, "candidate MUST carry the name learned from a later advert")
	chooser.AssertExpectations(t)
}

func TestScanPicker_ChooserDismissed(t *testing.T) {
	chooser := &mockChooser{}
	chooser.On("Choose", mock.Anything, mock.Anything).Return(radio.Advertisement{}, ErrPickerCancelled)

	p := &ScanPicker{
		Scanner: &fakeScanner{adverts: []radio.Advertisement{{ID: "a"}}},
		Chooser: chooser,
		Timeout: time.Second,
		Logger:  quietLogger(),
	}
	_, err := p.Pick(context.Background())
	assert.ErrorIs(t, err, ErrPickerCancelled)
}

func TestScanPicker_EmptyChoiceIsCancellation(t *testing.T) {
	p := &ScanPicker{
		Scanner: &fakeScanner{adverts: []radio.Advertisement{{ID: "a"}}},
		Chooser: ChooserFunc(func(context.Context, []radio.Advertisement) (radio.Advertisement, error) {
			return radio.Advertisement{}, nil
		}),
		Timeout: time.Second,
		Logger:  quietLogger(),
	}
	_, err := p.Pick(context.Background())
	assert.ErrorIs(t, err, ErrPickerCancelled)
}

func TestScanPicker_NoCandidates(t *testing.T) {
	chooser := &mockChooser{}
	p := &ScanPicker{Scanner: &fakeScanner{}, Chooser: chooser, Timeout: time.Second, Logger: quietLogger()}

	_, err := p.Pick(context.Background())
	assert.ErrorIs(t, err, ErrNoCandidates)
	chooser.AssertNotCalled(t, "Choose", mock.Anything, mock.Anything)
}

func TestScanPicker_ScanError(t *testing.T) {
	boom := errors.New("adapter busy")
	p := &ScanPicker{Scanner: &fakeScanner{err: boom}, Chooser: &mockChooser{}, Timeout: time.Second, Logger: quietLogger()}

	_, err := p.Pick(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestScanPicker_CallerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	scanner := &fakeScanner{block: true, err: context.Canceled}
	p := &ScanPicker{Scanner: scanner, Chooser: &mockChooser{}, Timeout: time.Minute, Logger: quietLogger()}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := p.Pick(ctx)
	assert.ErrorIs(t, err, ErrPickerCancelled)
}
