package jit

import "fmt"

// The lowerer targets a small SSA-flavored instruction list: every
// instruction produces at most one value, loops and conditionals are
// structured pseudo-instructions, and the backend is expected to map
// them onto its own control flow.

// Op is an IR opcode.
type Op uint8

const (
	OpInvalid Op = iota

	// Scalars.
	OpConst   // Imm: literal, Type: literal type
	OpZExt    // Args[0] widened to Type with zero extension
	OpSExt    // Args[0] widened to Type with sign extension
	OpTrunc   // Args[0] narrowed to Type
	OpBitcast // Args[0] reinterpreted as Type
	OpAdd     // Args[0] + Args[1]
	OpSub     // Args[0] - Args[1]
	OpAnd     // Args[0] & Args[1]
	OpICmpNE  // Args[0] != Args[1]
	OpICmpULT // Args[0] <u Args[1]

	// Pointers.
	OpReadBaseVar // Imm: memory index; reads the memory base pointer variable
	OpPtrAdd      // in-bounds byte offset: Args[0] + Args[1]
	OpPtrCast     // Args[0] cast to pointer-to-Type

	// Memory.
	OpLoad  // *Args[0]; Align, Volatile, Ordering
	OpStore // *Args[1] = Args[0]; Align, Volatile, Ordering

	// Atomics.
	OpFence         // Ordering
	OpAtomicRMW     // RMW op in RMWOp; Args[0]=ptr, Args[1]=operand
	OpAtomicCmpXchg // Args[0]=ptr, Args[1]=expected, Args[2]=replacement

	// Vectors.
	OpSplat       // Args[0] broadcast to Lanes lanes of Type
	OpExtractLane // Args[0] lane Imm
	OpInsertLane  // Args[0] with Args[1] inserted at lane Imm
	OpUndefVector // fresh undefined vector of Type

	// Calls and traps.
	OpIntrinsicCall // Sym: intrinsic name; Args: operands
	OpCondTrap      // Sym: trap intrinsic; Args[0]=condition, rest operands
	OpInlineAsm     // Sym: asm text; Clobbers; Args: operands
	OpNeonMemOp     // Sym: ld2/ld3/ld4/st2/st3/st4; Args: vectors then ptr

	// Structured control.
	OpLoopBegin // Args[0]=begin, Args[1]=end; Reverse; yields the index
	OpLoopEnd
	OpIfBegin // Args[0]=condition
	OpElse
	OpIfEnd

	// Multi-result extraction (NEON loads).
	OpExtractValue // Args[0] member Imm
)

// Type is an IR value type.
type Type uint8

const (
	TypeNone Type = iota
	TypeI1
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeF32
	TypeF64
	TypePtr

	// 64-bit half vectors, the memory types of widened loads.
	TypeI8x8
	TypeI16x4
	TypeI32x2

	// 128-bit vectors.
	TypeI8x16
	TypeI16x8
	TypeI32x4
	TypeI64x2
)

func (t Type) String() string {
	switch t {
	case TypeI1:
		return "i1"
	case TypeI8:
		return "i8"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypePtr:
		return "ptr"
	case TypeI8x8:
		return "i8x8"
	case TypeI16x4:
		return "i16x4"
	case TypeI32x2:
		return "i32x2"
	case TypeI8x16:
		return "i8x16"
	case TypeI16x8:
		return "i16x8"
	case TypeI32x4:
		return "i32x4"
	case TypeI64x2:
		return "i64x2"
	}
	return "none"
}

// Lanes returns the lane count of a vector type, or 0.
func (t Type) Lanes() int {
	switch t {
	case TypeI8x8:
		return 8
	case TypeI16x4:
		return 4
	case TypeI32x2:
		return 2
	case TypeI8x16:
		return 16
	case TypeI16x8:
		return 8
	case TypeI32x4:
		return 4
	case TypeI64x2:
		return 2
	}
	return 0
}

// Ordering is an atomic memory ordering.
type Ordering uint8

const (
	OrderingNone Ordering = iota
	OrderingSeqCst
)

// RMWKind selects an atomic read-modify-write operation.
type RMWKind uint8

const (
	RMWXchg RMWKind = iota
	RMWAdd
	RMWSub
	RMWAnd
	RMWOr
	RMWXor
)

func (k RMWKind) String() string {
	switch k {
	case RMWXchg:
		return "xchg"
	case RMWAdd:
		return "add"
	case RMWSub:
		return "sub"
	case RMWAnd:
		return "and"
	case RMWOr:
		return "or"
	case RMWXor:
		return "xor"
	}
	return "?"
}

// ValueID names an instruction's result.
type ValueID int

// Instr is one IR instruction.
type Instr struct {
	Args     []ValueID
	Clobbers []string
	Sym      string
	Imm      uint64
	Op       Op
	Type     Type
	Align    uint32
	Volatile bool
	Ordering Ordering
	RMWOp    RMWKind
	Reverse  bool
}

// Builder accumulates instructions for one function.
type Builder struct {
	Instrs []Instr
}

// Push appends an instruction and returns its result ID.
func (b *Builder) Push(i Instr) ValueID {
	b.Instrs = append(b.Instrs, i)
	return ValueID(len(b.Instrs) - 1)
}

// Const emits an integer literal of the given type.
func (b *Builder) Const(t Type, v uint64) ValueID {
	return b.Push(Instr{Op: OpConst, Type: t, Imm: v})
}

func (i Instr) String() string {
	s := fmt.Sprintf("%d", i.Op)
	if i.Sym != "" {
		s += " " + i.Sym
	}
	return s
}
