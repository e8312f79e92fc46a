package wasm

import (
	"strings"
	"testing"
)

// emptyModule is "\00asm\01\00\00\00".
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

func TestParseEmptyModule(t *testing.T) {
	m, err := ParseModule(emptyModule)
	if err != nil {
		t.Fatalf("ParseModule failed: %v", err)
	}
	if len(m.Types) != 0 || len(m.Funcs) != 0 || len(m.Memories) != 0 {
		t.Errorf("empty module should have no sections: %+v", m)
	}
}

func TestParseBadMagic(t *testing.T) {
	_, err := ParseModule([]byte{0x00, 0x61, 0x73, 0x6E, 0x01, 0x00, 0x00, 0x00})
	if err != ErrInvalidMagic {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestParseBadVersion(t *testing.T) {
	_, err := ParseModule([]byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00})
	if err != ErrInvalidVersion {
		t.Fatalf("expected ErrInvalidVersion, got %v", err)
	}
}

func TestParseTruncatedHeader(t *testing.T) {
	_, err := ParseModule([]byte{0x00, 0x61})
	if err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func buildModule(t *testing.T) *Module {
	t.Helper()
	m := &Module{
		Types: []FuncType{
			{Params: []ValType{ValI32, ValI32}, Results: []ValType{ValI32}},
			{},
		},
		Funcs:    []uint32{0, 1},
		Memories: []MemoryType{{Limits: Limits{Min: 1, Max: 2, HasMax: true}}},
		Tables:   []TableType{{Elem: ValFuncRef, Limits: Limits{Min: 1}}},
		Globals: []Global{
			{Type: GlobalType{Type: ValI32, Mutable: true}, Init: []byte{0x41, 0x2A, 0x0B}},
		},
		Exports: []Export{
			{Name: "add", Kind: KindFunc, Index: 0},
			{Name: "mem", Kind: KindMemory, Index: 0},
		},
		Code: []FuncBody{
			{Body: []byte{0x00, 0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B}}, // local.get 0; local.get 1; i32.add; end
			{Body: []byte{0x00, 0x0B}},
		},
	}
	return m
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := buildModule(t)
	encoded := m.Encode()

	decoded, err := ParseModule(encoded)
	if err != nil {
		t.Fatalf("ParseModule on encoded output failed: %v", err)
	}
	if len(decoded.Types) != 2 {
		t.Errorf("expected 2 types, got %d", len(decoded.Types))
	}
	if !decoded.Types[0].Equal(m.Types[0]) {
		t.Errorf("type 0 mismatch: %v vs %v", decoded.Types[0], m.Types[0])
	}
	if len(decoded.Funcs) != 2 || len(decoded.Code) != 2 {
		t.Errorf("expected 2 funcs with bodies, got %d/%d", len(decoded.Funcs), len(decoded.Code))
	}
	if len(decoded.Exports) != 2 || decoded.Exports[0].Name != "add" {
		t.Errorf("exports mismatch: %+v", decoded.Exports)
	}
	if len(decoded.Memories) != 1 || decoded.Memories[0].Limits.Max != 2 {
		t.Errorf("memory mismatch: %+v", decoded.Memories)
	}
	if err := decoded.Validate(); err != nil {
		t.Errorf("round-tripped module should validate: %v", err)
	}
}

func TestParseSectionOutOfOrder(t *testing.T) {
	// Function section (3) before type section (1).
	bad := append([]byte{}, emptyModule...)
	bad = append(bad, SectionFunction, 1, 0)
	bad = append(bad, SectionType, 1, 0)
	_, err := ParseModule(bad)
	if err == nil || !strings.Contains(err.Error(), "out of order") {
		t.Fatalf("expected out-of-order error, got %v", err)
	}
}

func TestParseSectionSizeOverrun(t *testing.T) {
	bad := append([]byte{}, emptyModule...)
	bad = append(bad, SectionType, 0x7F) // declares 127 bytes, none follow
	_, err := ParseModule(bad)
	if err == nil {
		t.Fatal("expected error for overrunning section size")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Module)
		wantErr string
	}{
		{"ok", func(m *Module) {}, ""},
		{
			"bad_type_index",
			func(m *Module) { m.Funcs[0] = 9 },
			"type index",
		},
		{
			"code_count_mismatch",
			func(m *Module) { m.Code = m.Code[:1] },
			"code section",
		},
		{
			"duplicate_export",
			func(m *Module) { m.Exports[1] = m.Exports[0] },
			"duplicate export",
		},
		{
			"export_index_out_of_range",
			func(m *Module) { m.Exports[0].Index = 10 },
			"out of range",
		},
		{
			"memory_min_too_large",
			func(m *Module) { m.Memories[0].Limits.Min = MaxPages + 1 },
			"exceeds 2^16",
		},
		{
			"multiple_memories",
			func(m *Module) { m.Memories = append(m.Memories, MemoryType{}) },
			"multiple memories",
		},
		{
			"start_out_of_range",
			func(m *Module) { idx := uint32(5); m.Start = &idx },
			"start function",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := buildModule(t)
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadClassification(t *testing.T) {
	t.Run("malformed", func(t *testing.T) {
		_, loadErr := Load([]byte{0x00, 0x61})
		if loadErr == nil || loadErr.Type != LoadMalformed {
			t.Fatalf("expected malformed, got %+v", loadErr)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		m := buildModule(t)
		m.Funcs[0] = 9 // type index out of range: decodes fine, fails validation
		_, loadErr := Load(m.Encode())
		if loadErr == nil || loadErr.Type != LoadInvalid {
			t.Fatalf("expected invalid, got %+v", loadErr)
		}
	})

	t.Run("ok", func(t *testing.T) {
		m, loadErr := Load(emptyModule)
		if loadErr != nil {
			t.Fatalf("Load failed: %v", loadErr)
		}
		if m == nil {
			t.Fatal("nil module")
		}
	})
}

func TestLEB128RoundTrip(t *testing.T) {
	uvals := []uint64{0, 1, 127, 128, 624485, 1<<32 - 1}
	for _, v := range uvals {
		buf := AppendLEB128u(nil, v)
		got, err := ReadLEB128u64(sliceReader(buf))
		if err != nil {
			t.Fatalf("ReadLEB128u64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("u round trip %d -> %d", v, got)
		}
	}

	svals := []int64{0, -1, 63, -64, 64, -65, 1 << 40, -(1 << 40)}
	for _, v := range svals {
		buf := AppendLEB128s(nil, v)
		got, err := ReadLEB128s64(sliceReader(buf))
		if err != nil {
			t.Fatalf("ReadLEB128s64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("s round trip %d -> %d", v, got)
		}
	}
}

type byteSlice struct {
	data []byte
	pos  int
}

func sliceReader(b []byte) *byteSlice { return &byteSlice{data: b} }

func (r *byteSlice) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, ErrOverflow
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}
