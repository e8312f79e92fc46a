// Package runtime implements the mutable object model of the sandbox:
// tables, memories, globals, exception types, instances, contexts, and
// foreigns, owned by compartments, plus functions, which float between
// compartments.
//
// # Compartments
//
// A compartment is an isolation domain. Every object except Function
// belongs to exactly one compartment for its whole lifetime and is
// identified there by a stable ID:
//
//	c, _ := runtime.NewCompartment()
//	mem, _ := runtime.NewMemory(c, typ, "main memory", quota)
//	obj, ok := c.Lookup(runtime.KindMemory, mem.ID())
//
// CloneCompartment produces an isomorphic snapshot: same IDs per kind,
// same mutable-global slots, distinct allocations. Objects from the
// source resolve to their copies with RemapToClonedCompartment.
//
// # Functions
//
// Functions have no single owning compartment. A function is "in" a
// compartment when that compartment maps the function's instance ID to
// an instance compiled from the same code module; functions with no
// instance are in every compartment. See IsInCompartment.
//
// # Sandboxing
//
// Each memory reserves far more virtual address space than it commits
// (MemoryReservedBytes), so a 32-bit address plus a 32-bit offset
// always lands in the reservation, and uncommitted tail pages fault.
// Table cells store function pointers biased by the out-of-bounds
// sentinel's address, so zero-filled cells decode to the sentinel.
//
// # Quotas
//
// ResourceQuota bounds memory pages and table elements with
// overflow-checked accounting. A quota may be shared across objects.
package runtime
