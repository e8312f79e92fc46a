package jit

// Atomic operators. Unlike plain accesses, the alignment hint is
// trusted: a misaligned atomic is defined to trap, so every atomic op
// is preceded by an explicit misalignment check and then emitted with
// the hinted alignment.

// trapIfMisalignedAtomic emits the conditional misalignedAtomicTrap
// call guarding an atomic access. Alignment 1 needs no check.
func (e *Emitter) trapIfMisalignedAtomic(bounded ValueID, alignLog2 uint32) {
	if alignLog2 == 0 {
		return
	}
	mask := e.B.Const(TypeI64, (uint64(1)<<alignLog2)-1)
	low := e.B.Push(Instr{Op: OpAnd, Type: TypeI64, Args: []ValueID{bounded, mask}})
	zero := e.B.Const(TypeI64, 0)
	misaligned := e.B.Push(Instr{Op: OpICmpNE, Type: TypeI1, Args: []ValueID{low, zero}})
	e.B.Push(Instr{
		Op:   OpCondTrap,
		Sym:  "misalignedAtomicTrap",
		Args: []ValueID{misaligned, bounded},
	})
}

// AtomicFence lowers atomic.fence; only sequential consistency exists.
func (e *Emitter) AtomicFence() {
	e.B.Push(Instr{Op: OpFence, Ordering: OrderingSeqCst})
}

func (e *Emitter) emitAtomicLoad(imm MemArg, memType, destType Type, c conv) {
	address := e.Pop()
	bounded := e.boundedAddress(address, imm.Offset)
	e.trapIfMisalignedAtomic(bounded, imm.AlignLog2)
	pointer := e.coerceAddressToPointer(bounded, memType, imm.MemoryIndex)
	load := e.B.Push(Instr{
		Op:       OpLoad,
		Type:     memType,
		Args:     []ValueID{pointer},
		Align:    1 << imm.AlignLog2,
		Volatile: true,
		Ordering: OrderingSeqCst,
	})
	e.Push(e.applyConv(c, load, destType))
}

func (e *Emitter) emitAtomicStore(imm MemArg, memType Type, c conv) {
	value := e.Pop()
	address := e.Pop()
	bounded := e.boundedAddress(address, imm.Offset)
	e.trapIfMisalignedAtomic(bounded, imm.AlignLog2)
	pointer := e.coerceAddressToPointer(bounded, memType, imm.MemoryIndex)
	memValue := e.applyConv(c, value, memType)
	e.B.Push(Instr{
		Op:       OpStore,
		Args:     []ValueID{memValue, pointer},
		Align:    1 << imm.AlignLog2,
		Volatile: true,
		Ordering: OrderingSeqCst,
	})
}

// I32AtomicLoad lowers i32.atomic.load.
func (e *Emitter) I32AtomicLoad(imm MemArg) { e.emitAtomicLoad(imm, TypeI32, TypeI32, convNone) }

// I64AtomicLoad lowers i64.atomic.load.
func (e *Emitter) I64AtomicLoad(imm MemArg) { e.emitAtomicLoad(imm, TypeI64, TypeI64, convNone) }

// I32AtomicLoad8U lowers i32.atomic.load8_u.
func (e *Emitter) I32AtomicLoad8U(imm MemArg) { e.emitAtomicLoad(imm, TypeI8, TypeI32, convZExt) }

// I32AtomicLoad16U lowers i32.atomic.load16_u.
func (e *Emitter) I32AtomicLoad16U(imm MemArg) { e.emitAtomicLoad(imm, TypeI16, TypeI32, convZExt) }

// I64AtomicLoad8U lowers i64.atomic.load8_u.
func (e *Emitter) I64AtomicLoad8U(imm MemArg) { e.emitAtomicLoad(imm, TypeI8, TypeI64, convZExt) }

// I64AtomicLoad16U lowers i64.atomic.load16_u.
func (e *Emitter) I64AtomicLoad16U(imm MemArg) { e.emitAtomicLoad(imm, TypeI16, TypeI64, convZExt) }

// I64AtomicLoad32U lowers i64.atomic.load32_u.
func (e *Emitter) I64AtomicLoad32U(imm MemArg) { e.emitAtomicLoad(imm, TypeI32, TypeI64, convZExt) }

// I32AtomicStore lowers i32.atomic.store.
func (e *Emitter) I32AtomicStore(imm MemArg) { e.emitAtomicStore(imm, TypeI32, convNone) }

// I64AtomicStore lowers i64.atomic.store.
func (e *Emitter) I64AtomicStore(imm MemArg) { e.emitAtomicStore(imm, TypeI64, convNone) }

// I32AtomicStore8 lowers i32.atomic.store8.
func (e *Emitter) I32AtomicStore8(imm MemArg) { e.emitAtomicStore(imm, TypeI8, convTrunc) }

// I32AtomicStore16 lowers i32.atomic.store16.
func (e *Emitter) I32AtomicStore16(imm MemArg) { e.emitAtomicStore(imm, TypeI16, convTrunc) }

// I64AtomicStore8 lowers i64.atomic.store8.
func (e *Emitter) I64AtomicStore8(imm MemArg) { e.emitAtomicStore(imm, TypeI8, convTrunc) }

// I64AtomicStore16 lowers i64.atomic.store16.
func (e *Emitter) I64AtomicStore16(imm MemArg) { e.emitAtomicStore(imm, TypeI16, convTrunc) }

// I64AtomicStore32 lowers i64.atomic.store32.
func (e *Emitter) I64AtomicStore32(imm MemArg) { e.emitAtomicStore(imm, TypeI32, convTrunc) }

// emitAtomicRMW lowers one read-modify-write at any width, wrapping
// the operand and result with the width conversions.
func (e *Emitter) emitAtomicRMW(imm MemArg, kind RMWKind, memType, valueType Type, memToValue, valueToMem conv) {
	value := e.Pop()
	address := e.Pop()
	bounded := e.boundedAddress(address, imm.Offset)
	e.trapIfMisalignedAtomic(bounded, imm.AlignLog2)
	pointer := e.coerceAddressToPointer(bounded, memType, imm.MemoryIndex)
	operand := e.applyConv(valueToMem, value, memType)
	rmw := e.B.Push(Instr{
		Op:       OpAtomicRMW,
		Type:     memType,
		RMWOp:    kind,
		Args:     []ValueID{pointer, operand},
		Align:    1 << imm.AlignLog2,
		Volatile: true,
		Ordering: OrderingSeqCst,
	})
	e.Push(e.applyConv(memToValue, rmw, valueType))
}

// emitAtomicCmpXchg lowers a compare-exchange at any width.
func (e *Emitter) emitAtomicCmpXchg(imm MemArg, memType, valueType Type, memToValue, valueToMem conv) {
	replacement := e.applyConv(valueToMem, e.Pop(), memType)
	expected := e.applyConv(valueToMem, e.Pop(), memType)
	address := e.Pop()
	bounded := e.boundedAddress(address, imm.Offset)
	e.trapIfMisalignedAtomic(bounded, imm.AlignLog2)
	pointer := e.coerceAddressToPointer(bounded, memType, imm.MemoryIndex)
	cmpxchg := e.B.Push(Instr{
		Op:       OpAtomicCmpXchg,
		Type:     memType,
		Args:     []ValueID{pointer, expected, replacement},
		Align:    1 << imm.AlignLog2,
		Volatile: true,
		Ordering: OrderingSeqCst,
	})
	previous := e.B.Push(Instr{Op: OpExtractValue, Type: memType, Args: []ValueID{cmpxchg}})
	e.Push(e.applyConv(memToValue, previous, valueType))
}

// I32AtomicRMW lowers a full-width i32 RMW.
func (e *Emitter) I32AtomicRMW(imm MemArg, kind RMWKind) {
	e.emitAtomicRMW(imm, kind, TypeI32, TypeI32, convNone, convNone)
}

// I32AtomicRMW8U lowers an 8-bit i32 RMW.
func (e *Emitter) I32AtomicRMW8U(imm MemArg, kind RMWKind) {
	e.emitAtomicRMW(imm, kind, TypeI8, TypeI32, convZExt, convTrunc)
}

// I32AtomicRMW16U lowers a 16-bit i32 RMW.
func (e *Emitter) I32AtomicRMW16U(imm MemArg, kind RMWKind) {
	e.emitAtomicRMW(imm, kind, TypeI16, TypeI32, convZExt, convTrunc)
}

// I64AtomicRMW lowers a full-width i64 RMW.
func (e *Emitter) I64AtomicRMW(imm MemArg, kind RMWKind) {
	e.emitAtomicRMW(imm, kind, TypeI64, TypeI64, convNone, convNone)
}

// I64AtomicRMW8U lowers an 8-bit i64 RMW.
func (e *Emitter) I64AtomicRMW8U(imm MemArg, kind RMWKind) {
	e.emitAtomicRMW(imm, kind, TypeI8, TypeI64, convZExt, convTrunc)
}

// I64AtomicRMW16U lowers a 16-bit i64 RMW.
func (e *Emitter) I64AtomicRMW16U(imm MemArg, kind RMWKind) {
	e.emitAtomicRMW(imm, kind, TypeI16, TypeI64, convZExt, convTrunc)
}

// I64AtomicRMW32U lowers a 32-bit i64 RMW.
func (e *Emitter) I64AtomicRMW32U(imm MemArg, kind RMWKind) {
	e.emitAtomicRMW(imm, kind, TypeI32, TypeI64, convZExt, convTrunc)
}

// I32AtomicCmpXchg lowers i32.atomic.rmw.cmpxchg.
func (e *Emitter) I32AtomicCmpXchg(imm MemArg) {
	e.emitAtomicCmpXchg(imm, TypeI32, TypeI32, convNone, convNone)
}

// I32AtomicCmpXchg8U lowers i32.atomic.rmw8.cmpxchg_u.
func (e *Emitter) I32AtomicCmpXchg8U(imm MemArg) {
	e.emitAtomicCmpXchg(imm, TypeI8, TypeI32, convZExt, convTrunc)
}

// I32AtomicCmpXchg16U lowers i32.atomic.rmw16.cmpxchg_u.
func (e *Emitter) I32AtomicCmpXchg16U(imm MemArg) {
	e.emitAtomicCmpXchg(imm, TypeI16, TypeI32, convZExt, convTrunc)
}

// I64AtomicCmpXchg lowers i64.atomic.rmw.cmpxchg.
func (e *Emitter) I64AtomicCmpXchg(imm MemArg) {
	e.emitAtomicCmpXchg(imm, TypeI64, TypeI64, convNone, convNone)
}

// I64AtomicCmpXchg8U lowers i64.atomic.rmw8.cmpxchg_u.
func (e *Emitter) I64AtomicCmpXchg8U(imm MemArg) {
	e.emitAtomicCmpXchg(imm, TypeI8, TypeI64, convZExt, convTrunc)
}

// I64AtomicCmpXchg16U lowers i64.atomic.rmw16.cmpxchg_u.
func (e *Emitter) I64AtomicCmpXchg16U(imm MemArg) {
	e.emitAtomicCmpXchg(imm, TypeI16, TypeI64, convZExt, convTrunc)
}

// I64AtomicCmpXchg32U lowers i64.atomic.rmw32.cmpxchg_u.
func (e *Emitter) I64AtomicCmpXchg32U(imm MemArg) {
	e.emitAtomicCmpXchg(imm, TypeI32, TypeI64, convZExt, convTrunc)
}

// AtomicNotify lowers atomic.notify to its intrinsic after the
// misalignment check.
func (e *Emitter) AtomicNotify(imm MemArg) {
	numWaiters := e.Pop()
	address := e.Pop()
	bounded := e.boundedAddress(address, imm.Offset)
	e.trapIfMisalignedAtomic(bounded, imm.AlignLog2)
	result := e.B.Push(Instr{
		Op:   OpIntrinsicCall,
		Sym:  "atomic_notify",
		Type: TypeI32,
		Args: []ValueID{address, numWaiters, e.memoryID(imm.MemoryIndex)},
	})
	e.Push(result)
}

// I32AtomicWait lowers i32.atomic.wait; the intrinsic returns the
// i32 wait result.
func (e *Emitter) I32AtomicWait(imm MemArg) {
	timeout := e.Pop()
	expected := e.Pop()
	address := e.Pop()
	bounded := e.boundedAddress(address, imm.Offset)
	e.trapIfMisalignedAtomic(bounded, imm.AlignLog2)
	result := e.B.Push(Instr{
		Op:   OpIntrinsicCall,
		Sym:  "atomic_wait_i32",
		Type: TypeI32,
		Args: []ValueID{address, expected, timeout, e.memoryID(imm.MemoryIndex)},
	})
	e.Push(result)
}

// I64AtomicWait lowers i64.atomic.wait.
func (e *Emitter) I64AtomicWait(imm MemArg) {
	timeout := e.Pop()
	expected := e.Pop()
	address := e.Pop()
	bounded := e.boundedAddress(address, imm.Offset)
	e.trapIfMisalignedAtomic(bounded, imm.AlignLog2)
	result := e.B.Push(Instr{
		Op:   OpIntrinsicCall,
		Sym:  "atomic_wait_i64",
		Type: TypeI32,
		Args: []ValueID{address, expected, timeout, e.memoryID(imm.MemoryIndex)},
	})
	e.Push(result)
}
