package runtime

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/wasm"
)

// outOfBoundsElement is the sentinel for uninitialized or out-of-bounds
// table cells. Every stored element is biased by this function's
// address, so zero-initialized cells resolve back to the sentinel when
// the bias is re-added.
var outOfBoundsElement = NewFunction("out-of-bounds table element", InvalidID, 0, nil)

// OutOfBoundsElement returns the sentinel function stored, in biased
// form, in every uninitialized table cell.
func OutOfBoundsElement() *Function { return outOfBoundsElement }

// biasFunction encodes f for table-cell storage. The arithmetic wraps;
// unbiasFunction inverts it.
func biasFunction(f *Function) uintptr {
	return uintptr(unsafe.Pointer(f)) - uintptr(unsafe.Pointer(outOfBoundsElement))
}

func unbiasFunction(biased uintptr) *Function {
	return (*Function)(unsafe.Add(unsafe.Pointer(outOfBoundsElement), int(biased)))
}

// TableElement is one table cell: an atomic biased function pointer,
// never a nullable pointer.
type TableElement struct {
	biased atomic.Uintptr
}

// DefaultTableReservedElements bounds tables that declare no maximum.
const DefaultTableReservedElements = 1 << 20

// Table is an instance of a WebAssembly table.
type Table struct {
	GCObject
	id        uintptr
	typ       wasm.TableType
	debugName string

	elements            []TableElement
	numReservedBytes    uintptr
	numReservedElements uintptr

	resizingMu  sync.RWMutex
	numElements atomic.Uint64

	quota *ResourceQuota
}

// NewTable creates a table in compartment c and registers it under a
// fresh ID.
func NewTable(c *Compartment, typ wasm.TableType, debugName string, quota *ResourceQuota) (*Table, error) {
	reserved := uintptr(DefaultTableReservedElements)
	if typ.Limits.HasMax && uintptr(typ.Limits.Max) < reserved {
		reserved = uintptr(typ.Limits.Max)
	}

	t := &Table{
		GCObject:            GCObject{kind: KindTable, compartment: c},
		typ:                 typ,
		debugName:           debugName,
		elements:            make([]TableElement, reserved),
		numReservedBytes:    reserved * unsafe.Sizeof(TableElement{}),
		numReservedElements: reserved,
		quota:               quota,
	}

	c.mu.Lock()
	t.id = c.tables.add(t)
	if t.id != InvalidID && t.id < MaxTables {
		c.runtimeData.TableBases[t.id] = uintptr(unsafe.Pointer(&t.elements[0]))
	}
	c.mu.Unlock()
	if t.id == InvalidID {
		return nil, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Detail("table index space exhausted").Build()
	}

	if _, err := t.Grow(typ.Limits.Min); err != nil {
		t.Destroy()
		return nil, err
	}
	return t, nil
}

// ID returns the table's compartment-scoped ID.
func (t *Table) ID() uintptr { return t.id }

// Type returns the table's element type and limits.
func (t *Table) Type() wasm.TableType { return t.typ }

// DebugName returns the table's debug name.
func (t *Table) DebugName() string { return t.debugName }

// NumElements returns the current element count.
func (t *Table) NumElements() uint64 { return t.numElements.Load() }

// Grow adds delta elements and returns the previous element count.
func (t *Table) Grow(delta uint32) (uint64, error) {
	t.resizingMu.Lock()
	defer t.resizingMu.Unlock()

	old := t.numElements.Load()
	if delta == 0 {
		return old, nil
	}

	newCount := old + uint64(delta)
	if newCount < old {
		return old, errors.Trap("out of bounds table access")
	}
	if t.typ.Limits.HasMax && newCount > uint64(t.typ.Limits.Max) {
		return old, errors.Trap("out of bounds table access")
	}
	if newCount > uint64(t.numReservedElements) {
		return old, errors.Trap("out of bounds table access")
	}
	if t.quota != nil && !t.quota.TableElems.Allocate(uint64(delta)) {
		return old, errors.QuotaExceeded("table elements", uint64(delta), t.quota.TableElems.Max())
	}

	// The new cells are already zero, which is the biased encoding of
	// the out-of-bounds sentinel.
	t.numElements.Store(newCount)
	return old, nil
}

// Get returns the function stored at index. Out-of-bounds indices and
// uninitialized cells resolve to the out-of-bounds sentinel.
func (t *Table) Get(index uint64) *Function {
	if index >= t.numElements.Load() {
		return outOfBoundsElement
	}
	return unbiasFunction(t.elements[index].biased.Load())
}

// Set stores f at index and returns the previous occupant. A nil f
// clears the cell back to the sentinel.
func (t *Table) Set(index uint64, f *Function) (*Function, error) {
	if index >= t.numElements.Load() {
		return nil, errors.Trap("out of bounds table access")
	}
	if f == nil {
		f = outOfBoundsElement
	}
	old := t.elements[index].biased.Swap(biasFunction(f))
	return unbiasFunction(old), nil
}

// Destroy removes the table from its compartment and returns its quota
// allocation.
func (t *Table) Destroy() {
	c := t.compartment

	c.mu.Lock()
	if t.id != InvalidID {
		c.tables.remove(t.id)
		if t.id < MaxTables {
			c.runtimeData.TableBases[t.id] = 0
		}
	}
	c.mu.Unlock()

	if t.quota != nil {
		if n := t.numElements.Swap(0); n > 0 {
			t.quota.TableElems.Free(n)
		}
	}
	t.finalizeObjectUserData()
	t.id = InvalidID
}

// cloneTable reproduces t in newC with the same ID and contents. The
// caller holds the source compartment's lock.
func cloneTable(t *Table, newC *Compartment) (*Table, error) {
	n := &Table{
		GCObject:            GCObject{kind: KindTable, compartment: newC},
		typ:                 t.typ,
		debugName:           t.debugName,
		elements:            make([]TableElement, t.numReservedElements),
		numReservedBytes:    t.numReservedBytes,
		numReservedElements: t.numReservedElements,
		quota:               t.quota,
	}

	count := t.numElements.Load()
	if n.quota != nil && count > 0 && !n.quota.TableElems.Allocate(count) {
		return nil, errors.QuotaExceeded("table elements", count, n.quota.TableElems.Max())
	}
	for i := uint64(0); i < count; i++ {
		n.elements[i].biased.Store(t.elements[i].biased.Load())
	}
	n.numElements.Store(count)

	newC.mu.Lock()
	n.id = newC.tables.add(n)
	if n.id != InvalidID && n.id < MaxTables {
		newC.runtimeData.TableBases[n.id] = uintptr(unsafe.Pointer(&n.elements[0]))
	}
	newC.mu.Unlock()
	if n.id == InvalidID {
		return nil, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Detail("table index space exhausted").Build()
	}
	return n, nil
}
