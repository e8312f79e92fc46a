package runtime

import (
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/wasm"
)

// InvalidMutableGlobalIndex marks immutable globals, which have no slot
// in the per-context mutable-global shadow.
const InvalidMutableGlobalIndex = ^uint32(0)

// Global is an instance of a WebAssembly global.
type Global struct {
	GCObject
	id        uintptr
	typ       wasm.GlobalType
	debugName string

	// mutableGlobalIndex is the global's slot in every context's
	// mutable-global array, allocated from the compartment's
	// allocation mask. Immutable globals store their value here in
	// initialValue only.
	mutableGlobalIndex uint32
	initialValue       UntaggedValue
	hasBeenInitialized bool
}

// NewGlobal creates a global in compartment c. Mutable globals claim a
// slot in the compartment's mutable-global allocation mask.
func NewGlobal(c *Compartment, typ wasm.GlobalType, debugName string, initial UntaggedValue) (*Global, error) {
	g := &Global{
		GCObject:           GCObject{kind: KindGlobal, compartment: c},
		typ:                typ,
		debugName:          debugName,
		mutableGlobalIndex: InvalidMutableGlobalIndex,
		initialValue:       initial,
		hasBeenInitialized: true,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if typ.Mutable {
		idx, ok := c.allocMutableGlobalIndex()
		if !ok {
			return nil, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
				Detail("mutable global slots exhausted (%d)", MaxMutableGlobals).Build()
		}
		g.mutableGlobalIndex = idx
		c.initialContextMutableGlobals[idx] = initial
	}

	g.id = c.globals.add(g)
	if g.id == InvalidID {
		if g.mutableGlobalIndex != InvalidMutableGlobalIndex {
			c.freeMutableGlobalIndex(g.mutableGlobalIndex)
		}
		return nil, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Detail("global index space exhausted").Build()
	}
	return g, nil
}

// ID returns the global's compartment-scoped ID.
func (g *Global) ID() uintptr { return g.id }

// Type returns the global's value type and mutability.
func (g *Global) Type() wasm.GlobalType { return g.typ }

// DebugName returns the global's debug name.
func (g *Global) DebugName() string { return g.debugName }

// MutableGlobalIndex returns the global's slot in the per-context
// mutable-global array, or InvalidMutableGlobalIndex for immutable
// globals.
func (g *Global) MutableGlobalIndex() uint32 { return g.mutableGlobalIndex }

// InitialValue returns the value the global was created with.
func (g *Global) InitialValue() UntaggedValue { return g.initialValue }

// Destroy removes the global from its compartment and releases its
// mutable-global slot.
func (g *Global) Destroy() {
	c := g.compartment

	c.mu.Lock()
	if g.id != InvalidID {
		c.globals.remove(g.id)
	}
	if g.mutableGlobalIndex != InvalidMutableGlobalIndex {
		c.freeMutableGlobalIndex(g.mutableGlobalIndex)
		g.mutableGlobalIndex = InvalidMutableGlobalIndex
	}
	c.mu.Unlock()

	g.finalizeObjectUserData()
	g.id = InvalidID
}

// cloneGlobal reproduces g in newC with the same ID and the same
// mutable-global slot. The caller holds the source compartment's lock
// and has already copied the allocation mask and the initial context
// mutable-global image.
func cloneGlobal(g *Global, newC *Compartment) *Global {
	n := &Global{
		GCObject:           GCObject{kind: KindGlobal, compartment: newC},
		typ:                g.typ,
		debugName:          g.debugName,
		mutableGlobalIndex: g.mutableGlobalIndex,
		initialValue:       g.initialValue,
		hasBeenInitialized: g.hasBeenInitialized,
	}

	newC.mu.Lock()
	n.id = newC.globals.add(n)
	newC.mu.Unlock()
	return n
}
