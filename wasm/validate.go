package wasm

import (
	"fmt"
	"unicode/utf8"
)

// Validate checks the module for structural validity.
func (m *Module) Validate() error {
	if err := m.validateTypeIndices(); err != nil {
		return err
	}
	if err := m.validateCodeCount(); err != nil {
		return err
	}
	if err := m.validateExports(); err != nil {
		return err
	}
	if err := m.validateStart(); err != nil {
		return err
	}
	if err := m.validateLimits(); err != nil {
		return err
	}
	if err := m.validateMemoryCount(); err != nil {
		return err
	}
	if err := m.validateSegments(); err != nil {
		return err
	}
	return nil
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))
	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d: type index %d out of range (%d types)", i, typeIdx, numTypes)
		}
	}
	for i, imp := range m.Imports {
		if imp.Kind == KindFunc && imp.Func >= numTypes {
			return fmt.Errorf("import %d: type index %d out of range (%d types)", i, imp.Func, numTypes)
		}
	}
	return nil
}

func (m *Module) validateCodeCount() error {
	if len(m.Funcs) != len(m.Code) {
		return fmt.Errorf("function section declares %d functions but code section has %d bodies",
			len(m.Funcs), len(m.Code))
	}
	return nil
}

func (m *Module) validateExports() error {
	numFuncs := uint32(m.NumImportedFuncs() + len(m.Funcs))
	numTables := uint32(m.NumImportedTables() + len(m.Tables))
	numMemories := uint32(m.NumImportedMemories() + len(m.Memories))
	numGlobals := uint32(m.NumImportedGlobals() + len(m.Globals))

	seen := make(map[string]bool, len(m.Exports))
	for _, e := range m.Exports {
		if !utf8.ValidString(e.Name) {
			return fmt.Errorf("export name %q is not valid UTF-8", e.Name)
		}
		if seen[e.Name] {
			return fmt.Errorf("duplicate export name %q", e.Name)
		}
		seen[e.Name] = true

		var limit uint32
		var what string
		switch e.Kind {
		case KindFunc:
			limit, what = numFuncs, "function"
		case KindTable:
			limit, what = numTables, "table"
		case KindMemory:
			limit, what = numMemories, "memory"
		case KindGlobal:
			limit, what = numGlobals, "global"
		}
		if e.Index >= limit {
			return fmt.Errorf("export %q: %s index %d out of range (%d)", e.Name, what, e.Index, limit)
		}
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}
	numFuncs := uint32(m.NumImportedFuncs() + len(m.Funcs))
	if *m.Start >= numFuncs {
		return fmt.Errorf("start function index %d out of range (%d functions)", *m.Start, numFuncs)
	}
	return nil
}

func (m *Module) validateLimits() error {
	for i, mem := range m.Memories {
		l := mem.Limits
		if l.Min > MaxPages {
			return fmt.Errorf("memory %d: minimum %d pages exceeds 2^16", i, l.Min)
		}
		if l.HasMax && (l.Max > MaxPages || l.Max < l.Min) {
			return fmt.Errorf("memory %d: invalid maximum %d (minimum %d)", i, l.Max, l.Min)
		}
		if l.Shared && !l.HasMax {
			return fmt.Errorf("memory %d: shared memory requires a maximum", i)
		}
	}
	for i, tab := range m.Tables {
		l := tab.Limits
		if l.HasMax && l.Max < l.Min {
			return fmt.Errorf("table %d: maximum %d below minimum %d", i, l.Max, l.Min)
		}
	}
	return nil
}

func (m *Module) validateMemoryCount() error {
	if n := m.NumImportedMemories() + len(m.Memories); n > 1 {
		return fmt.Errorf("multiple memories (%d) are not allowed", n)
	}
	return nil
}

func (m *Module) validateSegments() error {
	numFuncs := uint32(m.NumImportedFuncs() + len(m.Funcs))
	numTables := uint32(m.NumImportedTables() + len(m.Tables))
	numMemories := uint32(m.NumImportedMemories() + len(m.Memories))

	for i, e := range m.Elements {
		if e.Active() && e.TableIndex >= numTables {
			return fmt.Errorf("element %d: table index %d out of range (%d tables)", i, e.TableIndex, numTables)
		}
		for _, f := range e.FuncIdxs {
			if f >= numFuncs {
				return fmt.Errorf("element %d: function index %d out of range (%d functions)", i, f, numFuncs)
			}
		}
	}
	for i, d := range m.Data {
		if !d.Passive && d.MemoryIndex >= numMemories {
			return fmt.Errorf("data %d: memory index %d out of range (%d memories)", i, d.MemoryIndex, numMemories)
		}
	}
	if m.DataCount != nil && int(*m.DataCount) != len(m.Data) {
		return fmt.Errorf("data count section declares %d segments but data section has %d", *m.DataCount, len(m.Data))
	}
	return nil
}

// ParseModuleValidate parses a WebAssembly binary and validates it.
// This is a convenience function combining ParseModule and Validate.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
