package runtime

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/internal/vmem"
	"github.com/wippyai/wasm-sandbox/wasm"
)

// MemoryReservedBytes is the virtual reservation per linear memory:
// the full 32-bit address space plus an equal guard span, so any
// 32-bit address plus any 32-bit static offset lands inside the
// reservation. Accesses beyond the committed pages hit unmapped guard
// territory and fault. This is what lets compiled code skip explicit
// bounds checks.
const MemoryReservedBytes = uintptr(1) << 33

// Memory is an instance of a WebAssembly linear memory.
type Memory struct {
	GCObject
	id        uintptr
	typ       wasm.MemoryType
	debugName string

	region           *vmem.Region
	numReservedBytes uintptr

	resizingMu sync.RWMutex
	numPages   atomic.Uint64

	quota *ResourceQuota
}

// NewMemory creates a memory in compartment c, reserves its guarded
// address range, and commits the initial pages.
func NewMemory(c *Compartment, typ wasm.MemoryType, debugName string, quota *ResourceQuota) (*Memory, error) {
	region, err := vmem.Reserve(MemoryReservedBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "reserve memory sandbox")
	}
	if region.Size() < MemoryReservedBytes {
		region.Release()
		panic("runtime: memory reservation smaller than the sandbox requires")
	}

	m := &Memory{
		GCObject:         GCObject{kind: KindMemory, compartment: c},
		typ:              typ,
		debugName:        debugName,
		region:           region,
		numReservedBytes: region.Size(),
		quota:            quota,
	}

	c.mu.Lock()
	m.id = c.memories.add(m)
	if m.id != InvalidID && m.id < MaxMemories {
		c.runtimeData.MemoryBases[m.id] = m.Base()
	}
	c.mu.Unlock()
	if m.id == InvalidID {
		region.Release()
		return nil, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Detail("memory index space exhausted").Build()
	}

	if _, err := m.Grow(typ.Limits.Min); err != nil {
		m.Destroy()
		return nil, err
	}
	return m, nil
}

// ID returns the memory's compartment-scoped ID.
func (m *Memory) ID() uintptr { return m.id }

// Type returns the memory's limits.
func (m *Memory) Type() wasm.MemoryType { return m.typ }

// DebugName returns the memory's debug name.
func (m *Memory) DebugName() string { return m.debugName }

// NumPages returns the committed page count.
func (m *Memory) NumPages() uint64 { return m.numPages.Load() }

// Base returns the address of the first byte of the reservation.
func (m *Memory) Base() uintptr {
	return uintptr(unsafe.Pointer(&m.region.Bytes()[0]))
}

// Bytes returns the committed prefix of the memory.
func (m *Memory) Bytes() []byte {
	return m.region.Bytes()[:m.numPages.Load()*wasm.PageSize]
}

// Grow commits deltaPages additional pages and returns the previous
// page count.
func (m *Memory) Grow(deltaPages uint32) (uint64, error) {
	m.resizingMu.Lock()
	defer m.resizingMu.Unlock()

	old := m.numPages.Load()
	if deltaPages == 0 {
		return old, nil
	}

	newPages := old + uint64(deltaPages)
	if newPages > wasm.MaxPages {
		return old, errors.Trap("out of bounds memory access")
	}
	if m.typ.Limits.HasMax && newPages > uint64(m.typ.Limits.Max) {
		return old, errors.Trap("out of bounds memory access")
	}
	if newPages*wasm.PageSize > uint64(m.numReservedBytes) {
		return old, errors.Trap("out of bounds memory access")
	}
	if m.quota != nil && !m.quota.MemoryPages.Allocate(uint64(deltaPages)) {
		return old, errors.QuotaExceeded("pages", uint64(deltaPages), m.quota.MemoryPages.Max())
	}

	if err := m.region.Commit(uintptr(old)*wasm.PageSize, uintptr(deltaPages)*wasm.PageSize); err != nil {
		if m.quota != nil {
			m.quota.MemoryPages.Free(uint64(deltaPages))
		}
		return old, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "commit pages")
	}

	m.numPages.Store(newPages)
	return old, nil
}

// Destroy removes the memory from its compartment, returns its quota
// allocation, and releases the reservation.
func (m *Memory) Destroy() {
	c := m.compartment

	c.mu.Lock()
	if m.id != InvalidID {
		c.memories.remove(m.id)
		if m.id < MaxMemories {
			c.runtimeData.MemoryBases[m.id] = 0
		}
	}
	c.mu.Unlock()

	if m.quota != nil {
		if n := m.numPages.Swap(0); n > 0 {
			m.quota.MemoryPages.Free(n)
		}
	}
	if m.region != nil {
		m.region.Release()
		m.region = nil
	}
	m.finalizeObjectUserData()
	m.id = InvalidID
}

// cloneMemory reproduces m in newC with the same ID and contents. The
// caller holds the source compartment's lock.
func cloneMemory(m *Memory, newC *Compartment) (*Memory, error) {
	region, err := vmem.Reserve(MemoryReservedBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "reserve memory sandbox")
	}

	n := &Memory{
		GCObject:         GCObject{kind: KindMemory, compartment: newC},
		typ:              m.typ,
		debugName:        m.debugName,
		region:           region,
		numReservedBytes: region.Size(),
		quota:            m.quota,
	}

	pages := m.numPages.Load()
	if pages > 0 {
		if n.quota != nil && !n.quota.MemoryPages.Allocate(pages) {
			region.Release()
			return nil, errors.QuotaExceeded("pages", pages, n.quota.MemoryPages.Max())
		}
		if err := region.Commit(0, uintptr(pages)*wasm.PageSize); err != nil {
			region.Release()
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "commit pages")
		}
		copy(region.Bytes()[:pages*wasm.PageSize], m.region.Bytes()[:pages*wasm.PageSize])
		n.numPages.Store(pages)
	}

	newC.mu.Lock()
	n.id = newC.memories.add(n)
	if n.id != InvalidID && n.id < MaxMemories {
		newC.runtimeData.MemoryBases[n.id] = n.Base()
	}
	newC.mu.Unlock()
	if n.id == InvalidID {
		region.Release()
		return nil, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Detail("memory index space exhausted").Build()
	}
	return n, nil
}
