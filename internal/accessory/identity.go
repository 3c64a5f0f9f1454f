// Package accessory keeps track of the single paired scanning rig.
//
// The Registry owns the identity, persists it through a Store, and obtains
// new identities from a Picker. Removal listeners let the session layer drop
// the live connection when the accessory is forgotten.
package accessory

import (
	"errors"
	"fmt"
)

// ErrPickerCancelled is returned when the user dismisses the picker without
// choosing an accessory. It is not a failure; the current identity is kept.
var ErrPickerCancelled = errors.New("picker dismissed")

// ErrNoAccessory indicates that no accessory has been picked yet.
var ErrNoAccessory = errors.New("no accessory selected")

// Identity is the opaque platform identifier of one peripheral plus the name
// it advertised when it was picked.
type Identity struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool {
	return i.ID == ""
}

func (i Identity) String() string {
	if i.Name == "" || i.Name == i.ID {
		return i.ID
	}
	return fmt.Sprintf("%s (%s)", i.Name, i.ID)
}
