package jit

// Plain load/store operators. Each is the bounded access plus the
// operator's conversion.

// I32Load lowers i32.load.
func (e *Emitter) I32Load(imm MemArg) { e.emitLoad(imm, TypeI32, TypeI32, convNone) }

// I64Load lowers i64.load.
func (e *Emitter) I64Load(imm MemArg) { e.emitLoad(imm, TypeI64, TypeI64, convNone) }

// F32Load lowers f32.load.
func (e *Emitter) F32Load(imm MemArg) { e.emitLoad(imm, TypeF32, TypeF32, convNone) }

// F64Load lowers f64.load.
func (e *Emitter) F64Load(imm MemArg) { e.emitLoad(imm, TypeF64, TypeF64, convNone) }

// I32Load8S lowers i32.load8_s.
func (e *Emitter) I32Load8S(imm MemArg) { e.emitLoad(imm, TypeI8, TypeI32, convSExt) }

// I32Load8U lowers i32.load8_u.
func (e *Emitter) I32Load8U(imm MemArg) { e.emitLoad(imm, TypeI8, TypeI32, convZExt) }

// I32Load16S lowers i32.load16_s.
func (e *Emitter) I32Load16S(imm MemArg) { e.emitLoad(imm, TypeI16, TypeI32, convSExt) }

// I32Load16U lowers i32.load16_u.
func (e *Emitter) I32Load16U(imm MemArg) { e.emitLoad(imm, TypeI16, TypeI32, convZExt) }

// I64Load8S lowers i64.load8_s.
func (e *Emitter) I64Load8S(imm MemArg) { e.emitLoad(imm, TypeI8, TypeI64, convSExt) }

// I64Load8U lowers i64.load8_u.
func (e *Emitter) I64Load8U(imm MemArg) { e.emitLoad(imm, TypeI8, TypeI64, convZExt) }

// I64Load16S lowers i64.load16_s.
func (e *Emitter) I64Load16S(imm MemArg) { e.emitLoad(imm, TypeI16, TypeI64, convSExt) }

// I64Load16U lowers i64.load16_u.
func (e *Emitter) I64Load16U(imm MemArg) { e.emitLoad(imm, TypeI16, TypeI64, convZExt) }

// I64Load32S lowers i64.load32_s.
func (e *Emitter) I64Load32S(imm MemArg) { e.emitLoad(imm, TypeI32, TypeI64, convSExt) }

// I64Load32U lowers i64.load32_u.
func (e *Emitter) I64Load32U(imm MemArg) { e.emitLoad(imm, TypeI32, TypeI64, convZExt) }

// I32Store lowers i32.store.
func (e *Emitter) I32Store(imm MemArg) { e.emitStore(imm, TypeI32, convNone) }

// I64Store lowers i64.store.
func (e *Emitter) I64Store(imm MemArg) { e.emitStore(imm, TypeI64, convNone) }

// F32Store lowers f32.store.
func (e *Emitter) F32Store(imm MemArg) { e.emitStore(imm, TypeF32, convNone) }

// F64Store lowers f64.store.
func (e *Emitter) F64Store(imm MemArg) { e.emitStore(imm, TypeF64, convNone) }

// I32Store8 lowers i32.store8.
func (e *Emitter) I32Store8(imm MemArg) { e.emitStore(imm, TypeI8, convTrunc) }

// I32Store16 lowers i32.store16.
func (e *Emitter) I32Store16(imm MemArg) { e.emitStore(imm, TypeI16, convTrunc) }

// I64Store8 lowers i64.store8.
func (e *Emitter) I64Store8(imm MemArg) { e.emitStore(imm, TypeI8, convTrunc) }

// I64Store16 lowers i64.store16.
func (e *Emitter) I64Store16(imm MemArg) { e.emitStore(imm, TypeI16, convTrunc) }

// I64Store32 lowers i64.store32.
func (e *Emitter) I64Store32(imm MemArg) { e.emitStore(imm, TypeI32, convTrunc) }

// V128Load lowers v128.load.
func (e *Emitter) V128Load(imm MemArg) { e.emitLoad(imm, TypeI64x2, TypeI64x2, convNone) }

// V128Store lowers v128.store.
func (e *Emitter) V128Store(imm MemArg) { e.emitStore(imm, TypeI64x2, convNone) }

// Memory size operators call out to runtime intrinsics with the
// compartment memory ID.

// MemoryGrow lowers memory.grow.
func (e *Emitter) MemoryGrow(memoryIndex uint32) {
	delta := e.Pop()
	result := e.B.Push(Instr{
		Op:   OpIntrinsicCall,
		Sym:  "memory.grow",
		Type: TypeI32,
		Args: []ValueID{delta, e.memoryID(memoryIndex)},
	})
	e.Push(result)
}

// MemorySize lowers memory.size.
func (e *Emitter) MemorySize(memoryIndex uint32) {
	result := e.B.Push(Instr{
		Op:   OpIntrinsicCall,
		Sym:  "memory.size",
		Type: TypeI32,
		Args: []ValueID{e.memoryID(memoryIndex)},
	})
	e.Push(result)
}

// MemoryInit lowers memory.init to its intrinsic.
func (e *Emitter) MemoryInit(dataSegmentIndex, memoryIndex uint32) {
	numBytes := e.Pop()
	sourceOffset := e.Pop()
	destAddress := e.Pop()
	e.B.Push(Instr{
		Op:  OpIntrinsicCall,
		Sym: "memory.init",
		Args: []ValueID{
			destAddress, sourceOffset, numBytes,
			e.B.Const(TypeI64, e.InstanceID),
			e.memoryID(memoryIndex),
			e.B.Const(TypeI64, uint64(dataSegmentIndex)),
		},
	})
}

// DataDrop lowers data.drop to its intrinsic.
func (e *Emitter) DataDrop(dataSegmentIndex uint32) {
	e.B.Push(Instr{
		Op:  OpIntrinsicCall,
		Sym: "data.drop",
		Args: []ValueID{
			e.B.Const(TypeI64, e.InstanceID),
			e.B.Const(TypeI64, uint64(dataSegmentIndex)),
		},
	})
}

// emitByteLoop emits a structured byte loop over [0, count) calling
// body with the induction value. Reverse loops run count-1 down to 0.
func (e *Emitter) emitByteLoop(count ValueID, reverse bool, body func(index ValueID)) {
	begin := e.B.Const(TypeI64, 0)
	index := e.B.Push(Instr{
		Op:      OpLoopBegin,
		Type:    TypeI64,
		Args:    []ValueID{begin, count},
		Reverse: reverse,
	})
	body(index)
	e.B.Push(Instr{Op: OpLoopEnd})
}

func (e *Emitter) emitCopyLoop(sourcePtr, destPtr, count ValueID, reverse bool) {
	e.emitByteLoop(count, reverse, func(index ValueID) {
		src := e.B.Push(Instr{Op: OpPtrAdd, Type: TypePtr, Args: []ValueID{sourcePtr, index}})
		load := e.B.Push(Instr{Op: OpLoad, Type: TypeI8, Args: []ValueID{src}, Align: 1, Volatile: true})
		dst := e.B.Push(Instr{Op: OpPtrAdd, Type: TypePtr, Args: []ValueID{destPtr, index}})
		e.B.Push(Instr{Op: OpStore, Args: []ValueID{load, dst}, Align: 1, Volatile: true})
	})
}

var x86StringClobbers = []string{"memory", "dirflag", "fpsr", "flags"}

// MemoryCopy lowers memory.copy. The copy direction is chosen by
// comparing the bounded addresses: when the source precedes the
// destination a forward copy would clobber bytes it has not read yet,
// so a reverse byte loop is mandatory. The comparison uses bounded
// addresses even though the operands may target different memories;
// the classifier is conservative.
func (e *Emitter) MemoryCopy(destMemoryIndex, sourceMemoryIndex uint32) {
	numBytes := e.Pop()
	sourceAddress := e.Pop()
	destAddress := e.Pop()

	sourceBounded := e.boundedAddress(sourceAddress, 0)
	destBounded := e.boundedAddress(destAddress, 0)

	sourcePtr := e.coerceAddressToPointer(sourceBounded, TypeI8, sourceMemoryIndex)
	destPtr := e.coerceAddressToPointer(destBounded, TypeI8, destMemoryIndex)

	count := e.B.Push(Instr{Op: OpZExt, Type: TypeI64, Args: []ValueID{numBytes}})

	sourceIsBelowDest := e.B.Push(Instr{
		Op: OpICmpULT, Type: TypeI1,
		Args: []ValueID{sourceBounded, destBounded},
	})
	e.B.Push(Instr{Op: OpIfBegin, Args: []ValueID{sourceIsBelowDest}})

	e.emitCopyLoop(sourcePtr, destPtr, count, true)

	e.B.Push(Instr{Op: OpElse})

	if e.Arch.isX86() {
		e.B.Push(Instr{
			Op:       OpInlineAsm,
			Sym:      "rep movsb",
			Args:     []ValueID{destPtr, sourcePtr, count},
			Clobbers: x86StringClobbers,
		})
	} else {
		e.emitCopyLoop(sourcePtr, destPtr, count, false)
	}

	e.B.Push(Instr{Op: OpIfEnd})
}

// MemoryFill lowers memory.fill: rep stosb on x86, a forward byte loop
// elsewhere.
func (e *Emitter) MemoryFill(memoryIndex uint32) {
	numBytes := e.Pop()
	value := e.Pop()
	destAddress := e.Pop()

	destBounded := e.boundedAddress(destAddress, 0)
	destPtr := e.coerceAddressToPointer(destBounded, TypeI8, memoryIndex)
	count := e.B.Push(Instr{Op: OpZExt, Type: TypeI64, Args: []ValueID{numBytes}})
	byteValue := e.B.Push(Instr{Op: OpTrunc, Type: TypeI8, Args: []ValueID{value}})

	if e.Arch.isX86() {
		e.B.Push(Instr{
			Op:       OpInlineAsm,
			Sym:      "rep stosb",
			Args:     []ValueID{destPtr, byteValue, count},
			Clobbers: x86StringClobbers,
		})
		return
	}

	e.emitByteLoop(count, false, func(index ValueID) {
		dst := e.B.Push(Instr{Op: OpPtrAdd, Type: TypePtr, Args: []ValueID{destPtr, index}})
		e.B.Push(Instr{Op: OpStore, Args: []ValueID{byteValue, dst}, Align: 1, Volatile: true})
	})
}
