// Package queues describes the GPU queue families a device is opened with.
package queues

import (
	"github.com/ironsmile/vkframe/optional"
)

// FamilyIndices holds the indexes of the queue families needed by a device
// which renders and presents.
type FamilyIndices struct {

	// Graphics is the index of the graphics queue family. Frame submissions go
	// to the first queue of this family.
	Graphics optional.Optional[uint32]

	// Present is the index of the queue family used for presenting to the drawing
	// surface. It is left unset for headless devices.
	Present optional.Optional[uint32]
}

// IsComplete returns true if all families needed by the device have been set.
// When present is false the Present family is not required.
func (f *FamilyIndices) IsComplete(present bool) bool {
	if !f.Graphics.HasValue() {
		return false
	}
	return !present || f.Present.HasValue()
}

// Shared returns true when graphics and presentation use different families
// and images handed between them must be created for concurrent access.
func (f *FamilyIndices) Shared() bool {
	return f.Present.HasValue() && f.Graphics.Get() != f.Present.Get()
}

// Unique returns the distinct family indices which are set, graphics first.
func (f *FamilyIndices) Unique() []uint32 {
	var out []uint32
	if f.Graphics.HasValue() {
		out = append(out, f.Graphics.Get())
	}
	if f.Shared() {
		out = append(out, f.Present.Get())
	}
	return out
}
