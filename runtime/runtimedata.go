package runtime

import (
	"unsafe"

	"github.com/wippyai/wasm-sandbox/internal/vmem"
)

// Index-space capacities. Tables, memories, and contexts have dense
// slots in the compartment runtime data, so their counts are bounded;
// globals, exception types, instances, and foreigns are bounded only by
// the ID space.
const (
	MaxTables         = 4096
	MaxMemories       = 255
	MaxContexts       = 512
	MaxMutableGlobals = 256
)

// CompartmentReservedBytes is the aligned virtual reservation backing a
// compartment's runtime data. The 4GiB alignment lets compiled code
// recover the runtime-data base from any interior pointer by masking.
const (
	CompartmentReservedBytes        = uintptr(1) << 32
	CompartmentRuntimeDataAlignLog2 = 32
)

// UntaggedValue is a Wasm value without its type tag, wide enough for
// v128.
type UntaggedValue struct {
	Lo uint64
	Hi uint64
}

// ContextRuntimeData is the per-context slot in the compartment's
// runtime data region: the mutable-global shadow for one thread of
// execution.
type ContextRuntimeData struct {
	MutableGlobals [MaxMutableGlobals]UntaggedValue
}

// CompartmentRuntimeData is the layout of the compartment reservation.
// The head of the region, through the end of the base-pointer arrays,
// is committed at creation; context slots are committed as contexts are
// created.
type CompartmentRuntimeData struct {
	MemoryBases [MaxMemories]uintptr
	TableBases  [MaxTables]uintptr
	Contexts    [MaxContexts]ContextRuntimeData
}

// contextsOffset is the committed-at-creation prefix of the region.
var contextsOffset = unsafe.Offsetof(CompartmentRuntimeData{}.Contexts)

func newCompartmentRuntimeData() (*vmem.Region, *CompartmentRuntimeData, error) {
	region, err := vmem.ReserveAligned(CompartmentReservedBytes, CompartmentRuntimeDataAlignLog2)
	if err != nil {
		return nil, nil, err
	}
	if err := region.Commit(0, contextsOffset); err != nil {
		region.Release()
		return nil, nil, err
	}
	data := (*CompartmentRuntimeData)(unsafe.Pointer(&region.Bytes()[0]))
	return region, data, nil
}

// commitContext commits the runtime-data slot for one context and
// returns it.
func commitContext(region *vmem.Region, data *CompartmentRuntimeData, id uintptr) (*ContextRuntimeData, error) {
	size := unsafe.Sizeof(ContextRuntimeData{})
	offset := contextsOffset + id*size
	if err := region.Commit(offset, size); err != nil {
		return nil, err
	}
	return &data.Contexts[id], nil
}
