package wast

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wippyai/wasm-sandbox/runtime"
)

// ValueType tags a script-level value.
type ValueType uint8

const (
	TypeNone ValueType = iota
	TypeI32
	TypeI64
	TypeF32
	TypeF64
	TypeV128
	TypeFuncRef
	TypeNullRef
)

func (t ValueType) String() string {
	switch t {
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeV128:
		return "v128"
	case TypeFuncRef:
		return "funcref"
	case TypeNullRef:
		return "nullref"
	}
	return "none"
}

// V128 is a 128-bit SIMD value, little-endian lane order.
type V128 [16]byte

// U64 returns half of the vector as a little-endian u64.
func (v V128) U64(half int) uint64 {
	return binary.LittleEndian.Uint64(v[half*8:])
}

// Value is a typed script-level constant: an action argument or an
// expected result.
type Value struct {
	Func *runtime.Function // TypeFuncRef
	Bits uint64            // i32/i64 bits, f32/f64 bit patterns
	Vec  V128              // TypeV128
	Type ValueType
}

// I32Value builds an i32 value from its bit pattern.
func I32Value(v uint32) Value { return Value{Type: TypeI32, Bits: uint64(v)} }

// I64Value builds an i64 value from its bit pattern.
func I64Value(v uint64) Value { return Value{Type: TypeI64, Bits: v} }

// F32Value builds an f32 value.
func F32Value(v float32) Value {
	return Value{Type: TypeF32, Bits: uint64(math.Float32bits(v))}
}

// F64Value builds an f64 value.
func F64Value(v float64) Value {
	return Value{Type: TypeF64, Bits: math.Float64bits(v)}
}

// V128Value builds a v128 value.
func V128Value(v V128) Value { return Value{Type: TypeV128, Vec: v} }

// FuncRefValue builds a funcref value.
func FuncRefValue(f *runtime.Function) Value { return Value{Type: TypeFuncRef, Func: f} }

// NullRefValue builds the null reference value.
func NullRefValue() Value { return Value{Type: TypeNullRef} }

// I32 returns the value as a u32 bit pattern.
func (v Value) I32() uint32 { return uint32(v.Bits) }

// I64 returns the value as a u64 bit pattern.
func (v Value) I64() uint64 { return v.Bits }

// F32 returns the value as a float32.
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.Bits)) }

// F64 returns the value as a float64.
func (v Value) F64() float64 { return math.Float64frombits(v.Bits) }

func (v Value) String() string {
	switch v.Type {
	case TypeI32:
		return fmt.Sprintf("i32:%d", v.I32())
	case TypeI64:
		return fmt.Sprintf("i64:%d", v.I64())
	case TypeF32:
		return fmt.Sprintf("f32:%g", v.F32())
	case TypeF64:
		return fmt.Sprintf("f64:%g", v.F64())
	case TypeV128:
		return fmt.Sprintf("v128:%x", [16]byte(v.Vec))
	case TypeFuncRef:
		if v.Func != nil {
			return "funcref:" + v.Func.DebugName()
		}
		return "funcref:nil"
	case TypeNullRef:
		return "nullref"
	}
	return "none"
}
