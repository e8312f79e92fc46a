package wast

import (
	"math"
	"testing"

	"github.com/wippyai/wasm-sandbox/internal/sexpr"
)

func parseConstTuple(t *testing.T, source string) []Value {
	t.Helper()
	tokens, lexErrs := sexpr.Lex(source)
	if len(lexErrs) > 0 {
		t.Fatalf("lex errors: %v", lexErrs)
	}
	state := NewParseState(source)
	c := NewCursor(tokens, state)
	values, err := parseConstExpressionTuple(c)
	if err != nil {
		t.Fatalf("parse %q: %v (%v)", source, err, state.ResolveErrors())
	}
	return values
}

func TestParseConstExpressions(t *testing.T) {
	values := parseConstTuple(t, `
		(i32.const 42)
		(i32.const -1)
		(i32.const 0xFF)
		(i64.const -9223372036854775808)
		(f32.const 1.5)
		(f64.const -0x1.8p1)
		(ref.null)
	`)
	if len(values) != 7 {
		t.Fatalf("expected 7 values, got %d", len(values))
	}

	if values[0].Type != TypeI32 || values[0].I32() != 42 {
		t.Errorf("value 0 = %v", values[0])
	}
	if values[1].I32() != 0xFFFFFFFF {
		t.Errorf("i32.const -1 bits = %x", values[1].I32())
	}
	if values[2].I32() != 255 {
		t.Errorf("hex literal = %d", values[2].I32())
	}
	if values[3].Type != TypeI64 || int64(values[3].I64()) != math.MinInt64 {
		t.Errorf("i64 min = %v", values[3])
	}
	if values[4].F32() != 1.5 {
		t.Errorf("f32 = %v", values[4].F32())
	}
	if values[5].F64() != -3.0 {
		t.Errorf("hex float = %v", values[5].F64())
	}
	if values[6].Type != TypeNullRef {
		t.Errorf("ref.null = %v", values[6])
	}
}

func TestParseNaNLiterals(t *testing.T) {
	values := parseConstTuple(t, `
		(f32.const nan)
		(f32.const -nan)
		(f32.const nan:0x200000)
		(f64.const nan:canonical)
		(f64.const nan:arithmetic)
	`)

	if bits := uint32(values[0].Bits); bits != 0x7FC00000 {
		t.Errorf("f32 nan bits = %08x", bits)
	}
	if bits := uint32(values[1].Bits); bits != 0xFFC00000 {
		t.Errorf("f32 -nan bits = %08x", bits)
	}
	if bits := uint32(values[2].Bits); bits != 0x7FA00000 {
		t.Errorf("f32 nan payload bits = %08x", bits)
	}
	for _, v := range values[3:] {
		if !math.IsNaN(v.F64()) {
			t.Errorf("expected NaN, got %v", v.F64())
		}
	}
}

func TestParseV128Const(t *testing.T) {
	values := parseConstTuple(t, `
		(v128.const i8x16 0 1 2 3 4 5 6 7 8 9 10 11 12 13 14 15)
		(v128.const i32x4 1 2 3 4)
		(v128.const f64x2 1.0 2.0)
	`)

	v := values[0].Vec
	for i := 0; i < 16; i++ {
		if v[i] != byte(i) {
			t.Fatalf("i8x16 lane %d = %d", i, v[i])
		}
	}

	v = values[1].Vec
	if v.U64(0) != 0x0000000200000001 || v.U64(1) != 0x0000000400000003 {
		t.Errorf("i32x4 = %x %x", v.U64(0), v.U64(1))
	}

	v = values[2].Vec
	if math.Float64frombits(v.U64(0)) != 1.0 || math.Float64frombits(v.U64(1)) != 2.0 {
		t.Errorf("f64x2 lanes wrong: %x %x", v.U64(0), v.U64(1))
	}
}

func TestHostRefInterning(t *testing.T) {
	a := HostRef(7)
	b := HostRef(7)
	c := HostRef(8)

	if a != b {
		t.Error("equal indices must intern to the same function")
	}
	if a == c {
		t.Error("distinct indices must intern to distinct functions")
	}
	if a.DebugName() != "test!ref.host!7" {
		t.Errorf("debug name = %q", a.DebugName())
	}
	if a.InstanceID != ^uintptr(0) {
		t.Error("host refs have no instance")
	}
	if a.EncodedType != 0 {
		t.Error("host refs have encoded type 0")
	}
}

func TestRefHostIdentityAcrossCommands(t *testing.T) {
	commands := parseOK(t, `
		(module (func (export "f")))
		(invoke "f" (ref.host 7))
		(invoke "f" (ref.host 7))
	`)

	first := commands[1].(*ActionCommand).Action.(*InvokeAction).Arguments[0]
	second := commands[2].(*ActionCommand).Action.(*InvokeAction).Arguments[0]
	if first.Type != TypeFuncRef || second.Type != TypeFuncRef {
		t.Fatalf("ref.host should produce funcrefs: %v %v", first, second)
	}
	if first.Func != second.Func {
		t.Error("ref.host 7 must produce pointer-identical functions across commands")
	}
}

func TestConstExpressionErrors(t *testing.T) {
	tests := []string{
		`(i32.const 4294967296)`,  // out of range
		`(i32.const -2147483649)`, // below signed range
		`(i32.const)`,
		`(frob 1)`,
		`(v128.const i9x9 0)`,
	}
	for _, src := range tests {
		tokens, _ := sexpr.Lex(src)
		state := NewParseState(src)
		c := NewCursor(tokens, state)
		if _, err := parseConstExpressionTuple(c); err == nil {
			t.Errorf("parse %q should fail", src)
		}
	}
}
