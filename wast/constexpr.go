package wast

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/wippyai/wasm-sandbox/internal/sexpr"
	"github.com/wippyai/wasm-sandbox/runtime"
)

// Host-ref interning. ref.host N must yield the same Function identity
// for equal N across the whole process, so test scripts can compare
// funcref results by identity.
var (
	hostRefMu sync.Mutex
	hostRefs  = map[uint32]*runtime.Function{}
)

// HostRef returns the interned synthetic function for index.
func HostRef(index uint32) *runtime.Function {
	hostRefMu.Lock()
	defer hostRefMu.Unlock()

	if f, ok := hostRefs[index]; ok {
		return f
	}
	f := runtime.NewFunction(
		fmt.Sprintf("test!ref.host!%d", index),
		runtime.InvalidID, 0, nil)
	hostRefs[index] = f
	return f
}

// parseConstExpression reads one (tag value) form.
func parseConstExpression(c *CursorState) (Value, error) {
	var result Value
	err := c.Parenthesized(func() error {
		t := c.Peek(0)
		if t.Kind != sexpr.Keyword {
			return c.Errorf(t, "expected const expression")
		}
		switch t.Text {
		case "i32.const":
			c.Next()
			v, err := parseI32(c)
			if err != nil {
				return err
			}
			result = I32Value(v)
		case "i64.const":
			c.Next()
			v, err := parseI64(c)
			if err != nil {
				return err
			}
			result = I64Value(v)
		case "f32.const":
			c.Next()
			bits, err := parseF32Bits(c)
			if err != nil {
				return err
			}
			result = Value{Type: TypeF32, Bits: uint64(bits)}
		case "f64.const":
			c.Next()
			bits, err := parseF64Bits(c)
			if err != nil {
				return err
			}
			result = Value{Type: TypeF64, Bits: bits}
		case "v128.const":
			c.Next()
			vec, err := parseV128(c)
			if err != nil {
				return err
			}
			result = V128Value(vec)
		case "ref.host":
			c.Next()
			idx, err := parseI32(c)
			if err != nil {
				return err
			}
			result = FuncRefValue(HostRef(idx))
		case "ref.null":
			c.Next()
			result = NullRefValue()
		default:
			return c.Errorf(t, "expected const expression")
		}
		return nil
	})
	return result, err
}

// parseConstExpressionTuple reads (constexpr)* until any non-'(' token.
func parseConstExpressionTuple(c *CursorState) ([]Value, error) {
	var values []Value
	for c.Peek(0).Kind == sexpr.LParen {
		v, err := parseConstExpression(c)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func parseI32(c *CursorState) (uint32, error) {
	t := c.Peek(0)
	if t.Kind != sexpr.Number {
		return 0, c.Errorf(t, "expected i32 literal")
	}
	v, ok := sexpr.ParseIntBits(t.Text, 32)
	if !ok {
		return 0, c.Errorf(t, "invalid i32 literal %q", t.Text)
	}
	c.Next()
	return uint32(v), nil
}

func parseI64(c *CursorState) (uint64, error) {
	t := c.Peek(0)
	if t.Kind != sexpr.Number {
		return 0, c.Errorf(t, "expected i64 literal")
	}
	v, ok := sexpr.ParseIntBits(t.Text, 64)
	if !ok {
		return 0, c.Errorf(t, "invalid i64 literal %q", t.Text)
	}
	c.Next()
	return v, nil
}

// Float literals accept decimal and hex floats, inf, and the nan
// family (nan, nan:canonical, nan:arithmetic, nan:0xPAYLOAD).

func parseF32Bits(c *CursorState) (uint32, error) {
	t := c.Peek(0)
	if t.Kind != sexpr.Number && t.Kind != sexpr.Keyword {
		return 0, c.Errorf(t, "expected f32 literal")
	}
	bits, ok := sexpr.ParseFloatBits(t.Text, 32)
	if !ok {
		return 0, c.Errorf(t, "invalid f32 literal %q", t.Text)
	}
	c.Next()
	return uint32(bits), nil
}

func parseF64Bits(c *CursorState) (uint64, error) {
	t := c.Peek(0)
	if t.Kind != sexpr.Number && t.Kind != sexpr.Keyword {
		return 0, c.Errorf(t, "expected f64 literal")
	}
	bits, ok := sexpr.ParseFloatBits(t.Text, 64)
	if !ok {
		return 0, c.Errorf(t, "invalid f64 literal %q", t.Text)
	}
	c.Next()
	return bits, nil
}

// parseV128 reads a shape keyword followed by its lane literals.
func parseV128(c *CursorState) (V128, error) {
	var vec V128

	shape := c.Peek(0)
	if shape.Kind != sexpr.Keyword {
		return vec, c.Errorf(shape, "expected v128 lane shape")
	}

	var numLanes, laneBytes int
	var float bool
	switch shape.Text {
	case "i8x16":
		numLanes, laneBytes = 16, 1
	case "i16x8":
		numLanes, laneBytes = 8, 2
	case "i32x4":
		numLanes, laneBytes = 4, 4
	case "i64x2":
		numLanes, laneBytes = 2, 8
	case "f32x4":
		numLanes, laneBytes, float = 4, 4, true
	case "f64x2":
		numLanes, laneBytes, float = 2, 8, true
	default:
		return vec, c.Errorf(shape, "unknown v128 lane shape %q", shape.Text)
	}
	c.Next()

	for lane := 0; lane < numLanes; lane++ {
		var bits uint64
		if float {
			var err error
			if laneBytes == 4 {
				b, e := parseF32Bits(c)
				bits, err = uint64(b), e
			} else {
				bits, err = parseF64Bits(c)
			}
			if err != nil {
				return vec, err
			}
		} else {
			t := c.Peek(0)
			if t.Kind != sexpr.Number {
				return vec, c.Errorf(t, "expected v128 lane literal")
			}
			v, ok := sexpr.ParseIntBits(t.Text, uint(laneBytes*8))
			if !ok {
				return vec, c.Errorf(t, "invalid v128 lane %q", t.Text)
			}
			c.Next()
			bits = v
		}

		switch laneBytes {
		case 1:
			vec[lane] = byte(bits)
		case 2:
			binary.LittleEndian.PutUint16(vec[lane*2:], uint16(bits))
		case 4:
			binary.LittleEndian.PutUint32(vec[lane*4:], uint32(bits))
		case 8:
			binary.LittleEndian.PutUint64(vec[lane*8:], bits)
		}
	}
	return vec, nil
}
