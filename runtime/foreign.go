package runtime

import "github.com/wippyai/wasm-sandbox/errors"

// Foreign is an opaque host handle with a compartment-scoped identity.
type Foreign struct {
	GCObject
	id uintptr
}

// NewForeign creates a foreign object in compartment c.
func NewForeign(c *Compartment) (*Foreign, error) {
	f := &Foreign{GCObject: GCObject{kind: KindForeign, compartment: c}}

	c.mu.Lock()
	f.id = c.foreigns.add(f)
	c.mu.Unlock()
	if f.id == InvalidID {
		return nil, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Detail("foreign index space exhausted").Build()
	}
	return f, nil
}

// ID returns the foreign's compartment-scoped ID.
func (f *Foreign) ID() uintptr { return f.id }

// Destroy removes the foreign from its compartment.
func (f *Foreign) Destroy() {
	c := f.compartment
	c.mu.Lock()
	if f.id != InvalidID {
		c.foreigns.remove(f.id)
	}
	c.mu.Unlock()
	f.finalizeObjectUserData()
	f.id = InvalidID
}
