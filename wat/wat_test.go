package wat

import (
	"testing"

	"github.com/wippyai/wasm-sandbox/wasm"
)

func parse(t *testing.T, src string) *wasm.Module {
	t.Helper()
	m, err := ParseModule(src)
	if err != nil {
		t.Fatalf("ParseModule(%q): %v", src, err)
	}
	return m
}

func TestParseEmptyModule(t *testing.T) {
	m := parse(t, "(module)")
	if len(m.Types) != 0 || len(m.Funcs) != 0 {
		t.Errorf("empty module should be empty: %+v", m)
	}
}

func TestParseModuleWithName(t *testing.T) {
	parse(t, "(module $mymodule)")
}

func TestParseFunc(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		numTypes   int
		numFuncs   int
		numParams  int
		numResults int
	}{
		{
			"empty_func",
			"(module (func))",
			1, 1, 0, 0,
		},
		{
			"func_with_param",
			"(module (func (param i32)))",
			1, 1, 1, 0,
		},
		{
			"func_with_result",
			"(module (func (result i32) (i32.const 0)))",
			1, 1, 0, 1,
		},
		{
			"func_with_params_results",
			"(module (func (param i32 i64) (result f32 f64) (f32.const 0) (f64.const 0)))",
			1, 1, 2, 2,
		},
		{
			"func_with_name",
			"(module (func $add (param i32 i32) (result i32) (i32.add (local.get 0) (local.get 1))))",
			1, 1, 2, 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := parse(t, tt.input)
			if len(m.Types) != tt.numTypes {
				t.Errorf("types = %d, want %d", len(m.Types), tt.numTypes)
			}
			if len(m.Funcs) != tt.numFuncs {
				t.Errorf("funcs = %d, want %d", len(m.Funcs), tt.numFuncs)
			}
			if len(m.Funcs) > 0 {
				ft := m.Types[m.Funcs[0]]
				if len(ft.Params) != tt.numParams {
					t.Errorf("params = %d, want %d", len(ft.Params), tt.numParams)
				}
				if len(ft.Results) != tt.numResults {
					t.Errorf("results = %d, want %d", len(ft.Results), tt.numResults)
				}
			}
		})
	}
}

func TestParseAddBody(t *testing.T) {
	m := parse(t, `(module (func (export "add") (param i32 i32) (result i32)
		(i32.add (local.get 0) (local.get 1))))`)

	if len(m.Code) != 1 {
		t.Fatalf("expected 1 body, got %d", len(m.Code))
	}
	// locals vec (empty) + local.get 0 + local.get 1 + i32.add + end
	want := []byte{0x00, 0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B}
	got := m.Code[0].Body
	if len(got) != len(want) {
		t.Fatalf("body = %x, want %x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("body = %x, want %x", got, want)
		}
	}
	if len(m.Exports) != 1 || m.Exports[0].Name != "add" || m.Exports[0].Kind != wasm.KindFunc {
		t.Errorf("exports = %+v", m.Exports)
	}
}

func TestParseFlatAndFoldedControl(t *testing.T) {
	flat := parse(t, `(module (func (result i32)
		block $out (result i32)
			i32.const 1
			br $out
		end))`)
	folded := parse(t, `(module (func (result i32)
		(block $out (result i32)
			(br $out (i32.const 1)))))`)

	if len(flat.Code) != 1 || len(folded.Code) != 1 {
		t.Fatal("expected one body each")
	}
	// Both encode block (result i32); const 1; br 0; end; end.
	want := []byte{0x00, 0x02, 0x7F, 0x41, 0x01, 0x0C, 0x00, 0x0B, 0x0B}
	for name, body := range map[string][]byte{"flat": flat.Code[0].Body, "folded": folded.Code[0].Body} {
		if len(body) != len(want) {
			t.Fatalf("%s body = %x, want %x", name, body, want)
		}
		for i := range want {
			if body[i] != want[i] {
				t.Fatalf("%s body = %x, want %x", name, body, want)
			}
		}
	}
}

func TestParseIfThenElse(t *testing.T) {
	m := parse(t, `(module (func (param i32) (result i32)
		(if (result i32) (local.get 0)
			(then (i32.const 1))
			(else (i32.const 2)))))`)
	body := m.Code[0].Body
	// locals, local.get 0, if i32, const 1, else, const 2, end, end
	want := []byte{0x00, 0x20, 0x00, 0x04, 0x7F, 0x41, 0x01, 0x05, 0x41, 0x02, 0x0B, 0x0B}
	if len(body) != len(want) {
		t.Fatalf("body = %x, want %x", body, want)
	}
	for i := range want {
		if body[i] != want[i] {
			t.Fatalf("body = %x, want %x", body, want)
		}
	}
}

func TestParseMemoryAndData(t *testing.T) {
	m := parse(t, `(module
		(memory (export "mem") 1 2)
		(data (i32.const 8) "hi" "!"))`)

	if len(m.Memories) != 1 || m.Memories[0].Limits.Min != 1 || m.Memories[0].Limits.Max != 2 {
		t.Errorf("memories = %+v", m.Memories)
	}
	if len(m.Data) != 1 {
		t.Fatalf("expected 1 data segment")
	}
	if string(m.Data[0].Init) != "hi!" {
		t.Errorf("data init = %q", m.Data[0].Init)
	}
	if m.Data[0].Passive {
		t.Error("segment with offset should be active")
	}
}

func TestParsePassiveDataAndMemoryInit(t *testing.T) {
	m := parse(t, `(module
		(memory 1)
		(data $seg "payload")
		(func
			(memory.init $seg (i32.const 0) (i32.const 0) (i32.const 7))
			(data.drop $seg)))`)

	if len(m.Data) != 1 || !m.Data[0].Passive {
		t.Fatalf("expected passive segment: %+v", m.Data)
	}
	if m.DataCount != nil {
		t.Log("data count section emitted by the parser for its data segments")
	}
}

func TestParseTableWithInlineElem(t *testing.T) {
	m := parse(t, `(module
		(func $f)
		(table funcref (elem $f $f)))`)

	if len(m.Tables) != 1 {
		t.Fatalf("expected table")
	}
	tt := m.Tables[0]
	if tt.Limits.Min != 2 || !tt.Limits.HasMax || tt.Limits.Max != 2 {
		t.Errorf("inline elem table should be sized to the segment: %+v", tt.Limits)
	}
	if len(m.Elements) != 1 || len(m.Elements[0].FuncIdxs) != 2 {
		t.Errorf("elements = %+v", m.Elements)
	}
}

func TestParseGlobals(t *testing.T) {
	m := parse(t, `(module
		(global $g (mut i32) (i32.const 42))
		(global i64 (i64.const -1))
		(func (result i32) (global.get $g)))`)

	if len(m.Globals) != 2 {
		t.Fatalf("expected 2 globals")
	}
	if !m.Globals[0].Type.Mutable || m.Globals[0].Type.Type != wasm.ValI32 {
		t.Errorf("global 0 = %+v", m.Globals[0])
	}
	if m.Globals[1].Type.Mutable {
		t.Errorf("global 1 should be immutable")
	}
}

func TestParseImportsPrecedeDefinitions(t *testing.T) {
	m := parse(t, `(module
		(func $defined (call $imported))
		(import "env" "f" (func $imported (param i32))))`)

	if len(m.Imports) != 1 || m.Imports[0].Kind != wasm.KindFunc {
		t.Fatalf("imports = %+v", m.Imports)
	}
	// The call must resolve to index 0 (the import), so the defined
	// function's body is call 0x10 0x00.
	body := m.Code[0].Body
	found := false
	for i := 0; i+1 < len(body); i++ {
		if body[i] == 0x10 && body[i+1] == 0x00 {
			found = true
		}
	}
	if !found {
		t.Errorf("call should reference import index 0: %x", body)
	}
}

func TestParseForwardReferences(t *testing.T) {
	m := parse(t, `(module
		(start $main)
		(elem (i32.const 0) $main)
		(table 1 funcref)
		(func $main))`)

	if m.Start == nil || *m.Start != 0 {
		t.Errorf("start = %v", m.Start)
	}
	if len(m.Elements) != 1 || len(m.Elements[0].FuncIdxs) != 1 {
		t.Errorf("elements = %+v", m.Elements)
	}
}

func TestParseCallIndirect(t *testing.T) {
	m := parse(t, `(module
		(type $t (func (param i32) (result i32)))
		(table 4 funcref)
		(func (param i32) (result i32)
			(call_indirect (type $t) (local.get 0) (i32.const 2))))`)

	if len(m.Types) != 1 {
		t.Fatalf("expected the declared type only, got %d", len(m.Types))
	}
	body := m.Code[0].Body
	found := false
	for i := 0; i+2 < len(body); i++ {
		if body[i] == 0x11 && body[i+1] == 0x00 && body[i+2] == 0x00 {
			found = true
		}
	}
	if !found {
		t.Errorf("call_indirect encoding missing: %x", body)
	}
}

func TestParseMemArgs(t *testing.T) {
	m := parse(t, `(module
		(memory 1)
		(func (param i32) (result i32)
			(i32.load offset=4 align=2 (local.get 0))))`)

	body := m.Code[0].Body
	// i32.load align=2 means alignLog 1: 0x28 0x01 0x04
	found := false
	for i := 0; i+2 < len(body); i++ {
		if body[i] == 0x28 && body[i+1] == 0x01 && body[i+2] == 0x04 {
			found = true
		}
	}
	if !found {
		t.Errorf("memarg encoding missing: %x", body)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unknown_field", "(module (widget))"},
		{"unknown_instruction", "(module (func (i32.frobnicate)))"},
		{"unknown_local", "(module (func (local.get $missing)))"},
		{"unclosed", "(module (func"},
		{"bad_valtype", "(module (func (param i33)))"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseModule(tt.input); err == nil {
				t.Errorf("ParseModule(%q) should fail", tt.input)
			}
		})
	}
}

func TestCompileRoundTripsThroughDecoder(t *testing.T) {
	binary, err := Compile(`(module
		(memory (export "mem") 1)
		(global $g (mut i32) (i32.const 0))
		(func (export "bump") (result i32)
			(global.set $g (i32.add (global.get $g) (i32.const 1)))
			(global.get $g)))`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	m, err := wasm.ParseModuleValidate(binary)
	if err != nil {
		t.Fatalf("compiled module should decode and validate: %v", err)
	}
	if len(m.Exports) != 2 {
		t.Errorf("exports = %+v", m.Exports)
	}
}
