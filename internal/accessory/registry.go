package accessory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/scanlink/internal/groutine"
)

// PickResult is the outcome of one picker presentation.
type PickResult struct {
	Identity Identity
	Err      error
}

// Cancelled reports whether the user dismissed the picker.
func (r PickResult) Cancelled() bool {
	return errors.Is(r.Err, ErrPickerCancelled)
}

// Registry holds the single paired accessory.
type Registry struct {
	store  Store
	picker Picker
	logger *logrus.Logger

	mu        sync.Mutex
	current   Identity
	listeners []func(Identity)
}

// NewRegistry loads the persisted identity from store. picker may be nil when
// identities are only set programmatically.
func NewRegistry(store Store, picker Picker, logger *logrus.Logger) (*Registry, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if store == nil {
		store = &MemoryStore{}
	}

	id, ok, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load accessory: %w", err)
	}

	r := &Registry{store: store, picker: picker, logger: logger}
	if ok {
		r.current = id
		logger.WithField("accessory", id.String()).Debug("Restored paired accessory")
	}
	return r, nil
}

// PresentPicker shows the picker asynchronously. The returned channel
// receives exactly one result. A selected identity replaces the current one;
// a dismissal leaves it untouched.
func (r *Registry) PresentPicker(ctx context.Context) <-chan PickResult {
	result := make(chan PickResult, 1)

	if r.picker == nil {
		result <- PickResult{Err: errors.New("no accessory picker configured")}
		return result
	}

	groutine.Go(ctx, "accessory-picker", func(ctx context.Context) {
		id, err := r.picker.Pick(ctx)
		switch {
		case errors.Is(err, ErrPickerCancelled):
			r.logger.Info("Accessory picker dismissed")
		case err != nil:
			r.logger.WithError(err).Warn("Accessory picker failed")
		default:
			err = r.Set(id)
		}
		result <- PickResult{Identity: id, Err: err}
	})

	return result
}

// CurrentIdentity returns the paired accessory, if any.
func (r *Registry) CurrentIdentity() (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, !r.current.IsZero()
}

// Set replaces the paired accessory and persists it.
func (r *Registry) Set(id Identity) error {
	if id.IsZero() {
		return fmt.Errorf("accessory identity is empty")
	}
	if err := r.store.Save(id); err != nil {
		return fmt.Errorf("save accessory: %w", err)
	}

	r.mu.Lock()
	r.current = id
	r.mu.Unlock()

	r.logger.WithField("accessory", id.String()).Info("Accessory paired")
	return nil
}

// OnRemove registers fn to be called before an accessory is forgotten.
func (r *Registry) OnRemove(fn func(Identity)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Remove forgets id. Listeners run first so a live connection can be torn
// down while the identity is still known. Removing an accessory that is not
// the current one is a no-op.
func (r *Registry) Remove(id Identity) error {
	r.mu.Lock()
	if r.current.IsZero() || r.current.ID != id.ID {
		r.mu.Unlock()
		return nil
	}
	listeners := append([]func(Identity){}, r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(id)
	}

	if err := r.store.Clear(); err != nil {
		return fmt.Errorf("clear accessory: %w", err)
	}

	r.mu.Lock()
	if r.current.ID == id.ID {
		r.current = Identity{}
	}
	r.mu.Unlock()

	r.logger.WithField("accessory", id.String()).Info("Accessory removed")
	return nil
}
