package accessory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/scanlink/internal/radio"
)

// DefaultScanTimeout is how long the picker listens for advertisements.
const DefaultScanTimeout = 10 * time.Second

// ErrNoCandidates is returned when the scan found no advertising accessory.
var ErrNoCandidates = errors.New("no accessories found")

// Picker obtains an accessory identity from the user.
type Picker interface {
	Pick(ctx context.Context) (Identity, error)
}

// Scanner is the scanning half of radio.Central.
type Scanner interface {
	Scan(ctx context.Context, services []string, handler func(radio.Advertisement)) error
}

// Chooser presents the candidates and returns the selected one. Returning
// ErrPickerCancelled means the user dismissed the choice.
type Chooser interface {
	Choose(ctx context.Context, candidates []radio.Advertisement) (radio.Advertisement, error)
}

// ChooserFunc adapts a function to the Chooser interface.
type ChooserFunc func(ctx context.Context, candidates []radio.Advertisement) (radio.Advertisement, error)

func (f ChooserFunc) Choose(ctx context.Context, candidates []radio.Advertisement) (radio.Advertisement, error) {
	return f(ctx, candidates)
}

// ScanPicker discovers accessories advertising the rig service and lets a
// Chooser select one of them.
type ScanPicker struct {
	Scanner     Scanner
	Chooser     Chooser
	ServiceUUID string
	Timeout     time.Duration
	Logger      *logrus.Logger
}

// Pick scans for the configured timeout and hands the candidates, strongest
// signal first, to the Chooser.
func (p *ScanPicker) Pick(ctx context.Context) (Identity, error) {
	logger := p.Logger
	if logger == nil {
		logger = logrus.New()
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}

	seen := hashmap.New[string, *radio.Advertisement]()

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Entries are updated in place; Range does not observe values replaced by Set.
	err := p.Scanner.Scan(scanCtx, []string{p.ServiceUUID}, func(adv radio.Advertisement) {
		fresh := adv
		entry, existing := seen.GetOrInsert(adv.ID, &fresh)
		if !existing {
			logger.WithFields(logrus.Fields{
				"device":  adv.Name,
				"address": adv.ID,
				"rssi":    adv.RSSI,
			}).Info("Discovered accessory")
			return
		}
		entry.RSSI = adv.RSSI
		if adv.Name != "" {
			entry.Name = adv.Name
		}
		if len(adv.Services) > 0 {
			entry.Services = adv.Services
		}
	})

	// The caller going away while scanning is a dismissal, not a failure.
	if ctx.Err() != nil {
		return Identity{}, ErrPickerCancelled
	}
	if err != nil {
		return Identity{}, fmt.Errorf("scan for accessories: %w", err)
	}

	candidates := make([]radio.Advertisement, 0, seen.Len())
	seen.Range(func(_ string, adv *radio.Advertisement) bool {
		candidates = append(candidates, *adv)
		return true
	})
	if len(candidates) == 0 {
		return Identity{}, ErrNoCandidates
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].RSSI != candidates[j].RSSI {
			return candidates[i].RSSI > candidates[j].RSSI
		}
		return candidates[i].ID < candidates[j].ID
	})

	chosen, err := p.Chooser.Choose(ctx, candidates)
	if err != nil {
		return Identity{}, err
	}
	if chosen.ID == "" {
		return Identity{}, ErrPickerCancelled
	}
	return Identity{ID: chosen.ID, Name: chosen.Name}, nil
}
