package runtime

import "github.com/wippyai/wasm-sandbox/errors"

// Context is the execution state for one thread running in a
// compartment. Its runtime-data slot holds the thread's mutable-global
// shadow, seeded from the compartment's initial image.
type Context struct {
	GCObject
	id          uintptr
	runtimeData *ContextRuntimeData
}

// NewContext creates a context in compartment c and commits its
// runtime-data slot.
func NewContext(c *Compartment) (*Context, error) {
	ctx := &Context{GCObject: GCObject{kind: KindContext, compartment: c}}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx.id = c.contexts.add(ctx)
	if ctx.id == InvalidID {
		return nil, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Detail("context index space exhausted").Build()
	}

	data, err := commitContext(c.region, c.runtimeData, ctx.id)
	if err != nil {
		c.contexts.remove(ctx.id)
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "commit context slot")
	}
	data.MutableGlobals = c.initialContextMutableGlobals
	ctx.runtimeData = data
	return ctx, nil
}

// ID returns the context's compartment-scoped ID.
func (ctx *Context) ID() uintptr { return ctx.id }

// RuntimeData returns the context's mutable-global shadow.
func (ctx *Context) RuntimeData() *ContextRuntimeData { return ctx.runtimeData }

// Destroy removes the context from its compartment.
func (ctx *Context) Destroy() {
	c := ctx.compartment
	c.mu.Lock()
	if ctx.id != InvalidID {
		c.contexts.remove(ctx.id)
	}
	c.mu.Unlock()
	ctx.finalizeObjectUserData()
	ctx.id = InvalidID
}
