package jit

import "fmt"

// SIMD memory operators: lane splats, widened loads, and interleaved
// load/store families.

// V8x16LoadSplat lowers v8x16.load_splat.
func (e *Emitter) V8x16LoadSplat(imm MemArg) { e.emitLoad(imm, TypeI8, TypeI8x16, convSplat) }

// V16x8LoadSplat lowers v16x8.load_splat.
func (e *Emitter) V16x8LoadSplat(imm MemArg) { e.emitLoad(imm, TypeI16, TypeI16x8, convSplat) }

// V32x4LoadSplat lowers v32x4.load_splat.
func (e *Emitter) V32x4LoadSplat(imm MemArg) { e.emitLoad(imm, TypeI32, TypeI32x4, convSplat) }

// V64x2LoadSplat lowers v64x2.load_splat.
func (e *Emitter) V64x2LoadSplat(imm MemArg) { e.emitLoad(imm, TypeI64, TypeI64x2, convSplat) }

// I16x8Load8x8S lowers i16x8.load8x8_s: a 64-bit load sign-extended
// lane-wise to 8 lanes.
func (e *Emitter) I16x8Load8x8S(imm MemArg) { e.emitLoad(imm, TypeI8x8, TypeI16x8, convWidenS) }

// I16x8Load8x8U lowers i16x8.load8x8_u.
func (e *Emitter) I16x8Load8x8U(imm MemArg) { e.emitLoad(imm, TypeI8x8, TypeI16x8, convWidenU) }

// I32x4Load16x4S lowers i32x4.load16x4_s.
func (e *Emitter) I32x4Load16x4S(imm MemArg) { e.emitLoad(imm, TypeI16x4, TypeI32x4, convWidenS) }

// I32x4Load16x4U lowers i32x4.load16x4_u.
func (e *Emitter) I32x4Load16x4U(imm MemArg) { e.emitLoad(imm, TypeI16x4, TypeI32x4, convWidenU) }

// I64x2Load32x2S lowers i64x2.load32x2_s.
func (e *Emitter) I64x2Load32x2S(imm MemArg) { e.emitLoad(imm, TypeI32x2, TypeI64x2, convWidenS) }

// I64x2Load32x2U lowers i64x2.load32x2_u.
func (e *Emitter) I64x2Load32x2U(imm MemArg) { e.emitLoad(imm, TypeI32x2, TypeI64x2, convWidenU) }

const maxInterleavedVectors = 4

// LoadInterleaved lowers vNxM.load_interleaved_K: K vectors are read
// from consecutive memory and deinterleaved so that interleaved
// element lane*K+v lands in vector v, lane lane. On aarch64 this is a
// single NEON ld{K}; elsewhere it is K volatile loads plus lane
// shuffles.
func (e *Emitter) LoadInterleaved(imm MemArg, vecType Type, numVectors int) {
	if numVectors < 2 || numVectors > maxInterleavedVectors {
		panic(fmt.Sprintf("jit: load_interleaved_%d out of range", numVectors))
	}
	numLanes := vecType.Lanes()

	address := e.Pop()
	bounded := e.boundedAddress(address, imm.Offset)
	pointer := e.coerceAddressToPointer(bounded, vecType, imm.MemoryIndex)

	if e.Arch == ArchAArch64 {
		results := e.B.Push(Instr{
			Op:   OpNeonMemOp,
			Sym:  fmt.Sprintf("aarch64.neon.ld%d", numVectors),
			Type: vecType,
			Args: []ValueID{pointer},
		})
		for v := 0; v < numVectors; v++ {
			e.Push(e.B.Push(Instr{
				Op:   OpExtractValue,
				Type: vecType,
				Args: []ValueID{results},
				Imm:  uint64(v),
			}))
		}
		return
	}

	loads := make([]ValueID, numVectors)
	for v := 0; v < numVectors; v++ {
		ptr := e.B.Push(Instr{
			Op:   OpPtrAdd,
			Type: TypePtr,
			Args: []ValueID{pointer, e.B.Const(TypeI64, uint64(v)*16)},
		})
		loads[v] = e.B.Push(Instr{
			Op: OpLoad, Type: vecType, Args: []ValueID{ptr},
			Align: 1, Volatile: true,
		})
	}

	for v := 0; v < numVectors; v++ {
		vec := e.B.Push(Instr{Op: OpUndefVector, Type: vecType})
		for lane := 0; lane < numLanes; lane++ {
			interleaved := lane*numVectors + v
			element := e.B.Push(Instr{
				Op:   OpExtractLane,
				Args: []ValueID{loads[interleaved/numLanes]},
				Imm:  uint64(interleaved % numLanes),
			})
			vec = e.B.Push(Instr{
				Op:   OpInsertLane,
				Type: vecType,
				Args: []ValueID{vec, element},
				Imm:  uint64(lane),
			})
		}
		e.Push(vec)
	}
}

// StoreInterleaved lowers vNxM.store_interleaved_K, the inverse
// shuffle of LoadInterleaved.
func (e *Emitter) StoreInterleaved(imm MemArg, vecType Type, numVectors int) {
	if numVectors < 2 || numVectors > maxInterleavedVectors {
		panic(fmt.Sprintf("jit: store_interleaved_%d out of range", numVectors))
	}
	numLanes := vecType.Lanes()

	values := make([]ValueID, numVectors)
	for v := numVectors - 1; v >= 0; v-- {
		values[v] = e.B.Push(Instr{Op: OpBitcast, Type: vecType, Args: []ValueID{e.Pop()}})
	}

	address := e.Pop()
	bounded := e.boundedAddress(address, imm.Offset)
	pointer := e.coerceAddressToPointer(bounded, vecType, imm.MemoryIndex)

	if e.Arch == ArchAArch64 {
		args := append(append([]ValueID{}, values...), pointer)
		e.B.Push(Instr{
			Op:   OpNeonMemOp,
			Sym:  fmt.Sprintf("aarch64.neon.st%d", numVectors),
			Args: args,
		})
		return
	}

	for v := 0; v < numVectors; v++ {
		vec := e.B.Push(Instr{Op: OpUndefVector, Type: vecType})
		for lane := 0; lane < numLanes; lane++ {
			interleaved := v*numLanes + lane
			element := e.B.Push(Instr{
				Op:   OpExtractLane,
				Args: []ValueID{values[interleaved%numVectors]},
				Imm:  uint64(interleaved / numVectors),
			})
			vec = e.B.Push(Instr{
				Op:   OpInsertLane,
				Type: vecType,
				Args: []ValueID{vec, element},
				Imm:  uint64(lane),
			})
		}
		ptr := e.B.Push(Instr{
			Op:   OpPtrAdd,
			Type: TypePtr,
			Args: []ValueID{pointer, e.B.Const(TypeI64, uint64(v)*16)},
		})
		e.B.Push(Instr{
			Op: OpStore, Args: []ValueID{vec, ptr},
			Align: 1, Volatile: true,
		})
	}
}
