package wasm

import "fmt"

// ValType is a WebAssembly value type encoding.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	}
	return fmt.Sprintf("valtype(0x%02x)", byte(v))
}

// Valid reports whether v is a known value type encoding.
func (v ValType) Valid() bool {
	switch v {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExtern:
		return true
	}
	return false
}

// Module represents a parsed WebAssembly module.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type indices for declared functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount holds the count from the DataCount section (ID 12).
	// Required when data indices appear in code (bulk memory operations).
	DataCount *uint32

	CustomSections []CustomSection
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures are identical.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i, p := range f.Params {
		if o.Params[i] != p {
			return false
		}
	}
	for i, r := range f.Results {
		if o.Results[i] != r {
			return false
		}
	}
	return true
}

func (f FuncType) String() string {
	s := "(func"
	for _, p := range f.Params {
		s += " (param " + p.String() + ")"
	}
	for _, r := range f.Results {
		s += " (result " + r.String() + ")"
	}
	return s + ")"
}

// Limits bounds a table or memory.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
	Shared bool
}

// TableType describes a table's element type and limits.
type TableType struct {
	Elem   ValType
	Limits Limits
}

// MemoryType describes a memory's limits.
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	Type    ValType
	Mutable bool
}

// Global pairs a global type with its constant initializer expression,
// kept as raw bytes (terminated by the 0x0B end opcode).
type Global struct {
	Type GlobalType
	Init []byte
}

// Import is a single imported definition.
type Import struct {
	Module string
	Name   string
	Kind   byte
	Func   uint32 // type index, Kind == KindFunc
	Table  TableType
	Memory MemoryType
	Global GlobalType
}

// Export is a single exported definition.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Element is an element segment. Passive and declarative segments keep
// Active false; active segments carry a table index and offset expression.
type Element struct {
	Flags      uint32
	TableIndex uint32
	Offset     []byte   // constant expression bytes, active segments only
	FuncIdxs   []uint32 // element function indices
	Dropped    bool     // set by elem.drop at runtime
}

// Active reports whether the segment is applied at instantiation.
func (e Element) Active() bool { return e.Flags&0x01 == 0 }

// FuncBody is a function's locals declaration plus expression, raw.
type FuncBody struct {
	Body []byte // locals vector followed by the expression, as encoded
}

// DataSegment is a data segment. Active segments carry a memory index
// and offset expression; passive segments have Passive set.
type DataSegment struct {
	MemoryIndex uint32
	Offset      []byte // constant expression bytes, active segments only
	Init        []byte
	Passive     bool
}

// CustomSection is an uninterpreted custom section.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs counts imported functions.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			n++
		}
	}
	return n
}

// NumImportedGlobals counts imported globals.
func (m *Module) NumImportedGlobals() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindGlobal {
			n++
		}
	}
	return n
}

// NumImportedTables counts imported tables.
func (m *Module) NumImportedTables() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindTable {
			n++
		}
	}
	return n
}

// NumImportedMemories counts imported memories.
func (m *Module) NumImportedMemories() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindMemory {
			n++
		}
	}
	return n
}
