package jit

// Arch selects the code paths the lowerer may specialize per target.
type Arch uint8

const (
	ArchGeneric Arch = iota
	ArchX86
	ArchX86_64
	ArchAArch64
)

func (a Arch) isX86() bool { return a == ArchX86 || a == ArchX86_64 }

// MemArg is a memory operator's immediate: static offset, alignment
// hint, and memory index.
type MemArg struct {
	Offset      uint32
	AlignLog2   uint32
	MemoryIndex uint32
}

// Emitter lowers Wasm memory operators to IR for one function. It
// keeps the operand stack of the function translator; the surrounding
// translator pushes operand values and calls one method per operator.
type Emitter struct {
	B    *Builder
	Arch Arch

	// InstanceID is baked into segment intrinsics.
	InstanceID uint64

	// MemoryIDs maps a module's memory index to its compartment memory
	// ID, passed to intrinsics that reach back into the runtime.
	MemoryIDs []uint64

	stack []ValueID
}

// NewEmitter builds an emitter over a fresh IR builder.
func NewEmitter(arch Arch, instanceID uint64, memoryIDs []uint64) *Emitter {
	return &Emitter{
		B:          &Builder{},
		Arch:       arch,
		InstanceID: instanceID,
		MemoryIDs:  memoryIDs,
	}
}

// Push places a value on the operand stack.
func (e *Emitter) Push(v ValueID) { e.stack = append(e.stack, v) }

// Pop removes and returns the top of the operand stack.
func (e *Emitter) Pop() ValueID {
	if len(e.stack) == 0 {
		panic("jit: operand stack underflow")
	}
	v := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	return v
}

// boundedAddress forms the 64-bit sandboxed byte offset for a 32-bit
// address plus static offset. The zero extension is mandatory: pointer
// arithmetic would otherwise sign-extend the address and escape the
// sandbox. The memory reservation is large enough that any zext(addr)
// + zext(offset) lands in mapped-or-guard territory, so no bounds
// check is emitted.
func (e *Emitter) boundedAddress(address ValueID, offset uint32) ValueID {
	bounded := e.B.Push(Instr{Op: OpZExt, Type: TypeI64, Args: []ValueID{address}})
	if offset != 0 {
		off32 := e.B.Const(TypeI32, uint64(offset))
		off64 := e.B.Push(Instr{Op: OpZExt, Type: TypeI64, Args: []ValueID{off32}})
		bounded = e.B.Push(Instr{Op: OpAdd, Type: TypeI64, Args: []ValueID{bounded, off64}})
	}
	return bounded
}

// coerceAddressToPointer loads the memory's base pointer and forms a
// typed pointer to the bounded address.
func (e *Emitter) coerceAddressToPointer(bounded ValueID, memType Type, memoryIndex uint32) ValueID {
	base := e.B.Push(Instr{Op: OpReadBaseVar, Type: TypePtr, Imm: uint64(memoryIndex)})
	bytePtr := e.B.Push(Instr{Op: OpPtrAdd, Type: TypePtr, Args: []ValueID{base, bounded}})
	return e.B.Push(Instr{Op: OpPtrCast, Type: memType, Args: []ValueID{bytePtr}})
}

func (e *Emitter) memoryID(memoryIndex uint32) ValueID {
	id := uint64(memoryIndex)
	if int(memoryIndex) < len(e.MemoryIDs) {
		id = e.MemoryIDs[memoryIndex]
	}
	return e.B.Const(TypeI64, id)
}

// conv is the scalar conversion applied after a load or before a
// store.
type conv uint8

const (
	convNone conv = iota
	convSExt
	convZExt
	convTrunc
	convSplat
	convWidenS // half-vector sign-extended to the full vector
	convWidenU
)

func (e *Emitter) applyConv(c conv, v ValueID, to Type) ValueID {
	switch c {
	case convSExt:
		return e.B.Push(Instr{Op: OpSExt, Type: to, Args: []ValueID{v}})
	case convZExt:
		return e.B.Push(Instr{Op: OpZExt, Type: to, Args: []ValueID{v}})
	case convTrunc:
		return e.B.Push(Instr{Op: OpTrunc, Type: to, Args: []ValueID{v}})
	case convSplat:
		return e.B.Push(Instr{Op: OpSplat, Type: to, Args: []ValueID{v}})
	case convWidenS:
		return e.B.Push(Instr{Op: OpSExt, Type: to, Args: []ValueID{v}})
	case convWidenU:
		return e.B.Push(Instr{Op: OpZExt, Type: to, Args: []ValueID{v}})
	}
	return v
}

// emitLoad is the shared lowering of all plain loads: bounded address,
// typed pointer, then a load that never trusts the alignment hint (a
// mis-hinted aligned access can fault on some ISAs, while an unaligned
// hint merely loses speed) and is volatile so the backend cannot
// reorder or elide sandbox accesses.
func (e *Emitter) emitLoad(imm MemArg, memType, destType Type, c conv) {
	address := e.Pop()
	bounded := e.boundedAddress(address, imm.Offset)
	pointer := e.coerceAddressToPointer(bounded, memType, imm.MemoryIndex)
	load := e.B.Push(Instr{Op: OpLoad, Type: memType, Args: []ValueID{pointer}, Align: 1, Volatile: true})
	e.Push(e.applyConv(c, load, destType))
}

func (e *Emitter) emitStore(imm MemArg, memType Type, c conv) {
	value := e.Pop()
	address := e.Pop()
	bounded := e.boundedAddress(address, imm.Offset)
	pointer := e.coerceAddressToPointer(bounded, memType, imm.MemoryIndex)
	memValue := e.applyConv(c, value, memType)
	e.B.Push(Instr{Op: OpStore, Args: []ValueID{memValue, pointer}, Align: 1, Volatile: true})
}
