package wasm

// Encode serializes the module back to the binary format. The output
// decodes to a semantically equivalent module; custom sections are
// appended after all known sections.
func (m *Module) Encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

	out = appendSection(out, SectionType, m.encodeTypes())
	out = appendSection(out, SectionImport, m.encodeImports())
	out = appendSection(out, SectionFunction, m.encodeFuncs())
	out = appendSection(out, SectionTable, m.encodeTables())
	out = appendSection(out, SectionMemory, m.encodeMemories())
	out = appendSection(out, SectionGlobal, m.encodeGlobals())
	out = appendSection(out, SectionExport, m.encodeExports())
	if m.Start != nil {
		out = appendSection(out, SectionStart, AppendLEB128u(nil, uint64(*m.Start)))
	}
	out = appendSection(out, SectionElement, m.encodeElements())
	if m.DataCount != nil {
		out = appendSection(out, SectionDataCount, AppendLEB128u(nil, uint64(*m.DataCount)))
	}
	out = appendSection(out, SectionCode, m.encodeCode())
	out = appendSection(out, SectionData, m.encodeData())

	for _, cs := range m.CustomSections {
		var payload []byte
		payload = appendString(payload, cs.Name)
		payload = append(payload, cs.Data...)
		out = appendSection(out, SectionCustom, payload)
	}

	return out
}

func appendSection(out []byte, id byte, payload []byte) []byte {
	if len(payload) == 0 {
		return out
	}
	out = append(out, id)
	out = AppendLEB128u(out, uint64(len(payload)))
	return append(out, payload...)
}

func appendString(out []byte, s string) []byte {
	out = AppendLEB128u(out, uint64(len(s)))
	return append(out, s...)
}

func appendLimits(out []byte, l Limits) []byte {
	var flags byte
	if l.HasMax {
		flags |= LimitHasMax
	}
	if l.Shared {
		flags |= LimitShared
	}
	out = append(out, flags)
	out = AppendLEB128u(out, uint64(l.Min))
	if l.HasMax {
		out = AppendLEB128u(out, uint64(l.Max))
	}
	return out
}

func appendValTypes(out []byte, types []ValType) []byte {
	out = AppendLEB128u(out, uint64(len(types)))
	for _, t := range types {
		out = append(out, byte(t))
	}
	return out
}

func (m *Module) encodeTypes() []byte {
	if len(m.Types) == 0 {
		return nil
	}
	out := AppendLEB128u(nil, uint64(len(m.Types)))
	for _, t := range m.Types {
		out = append(out, FuncTypeTag)
		out = appendValTypes(out, t.Params)
		out = appendValTypes(out, t.Results)
	}
	return out
}

func (m *Module) encodeImports() []byte {
	if len(m.Imports) == 0 {
		return nil
	}
	out := AppendLEB128u(nil, uint64(len(m.Imports)))
	for _, imp := range m.Imports {
		out = appendString(out, imp.Module)
		out = appendString(out, imp.Name)
		out = append(out, imp.Kind)
		switch imp.Kind {
		case KindFunc:
			out = AppendLEB128u(out, uint64(imp.Func))
		case KindTable:
			out = append(out, byte(imp.Table.Elem))
			out = appendLimits(out, imp.Table.Limits)
		case KindMemory:
			out = appendLimits(out, imp.Memory.Limits)
		case KindGlobal:
			out = append(out, byte(imp.Global.Type))
			if imp.Global.Mutable {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out
}

func (m *Module) encodeFuncs() []byte {
	if len(m.Funcs) == 0 {
		return nil
	}
	out := AppendLEB128u(nil, uint64(len(m.Funcs)))
	for _, typeIdx := range m.Funcs {
		out = AppendLEB128u(out, uint64(typeIdx))
	}
	return out
}

func (m *Module) encodeTables() []byte {
	if len(m.Tables) == 0 {
		return nil
	}
	out := AppendLEB128u(nil, uint64(len(m.Tables)))
	for _, t := range m.Tables {
		out = append(out, byte(t.Elem))
		out = appendLimits(out, t.Limits)
	}
	return out
}

func (m *Module) encodeMemories() []byte {
	if len(m.Memories) == 0 {
		return nil
	}
	out := AppendLEB128u(nil, uint64(len(m.Memories)))
	for _, mem := range m.Memories {
		out = appendLimits(out, mem.Limits)
	}
	return out
}

func (m *Module) encodeGlobals() []byte {
	if len(m.Globals) == 0 {
		return nil
	}
	out := AppendLEB128u(nil, uint64(len(m.Globals)))
	for _, g := range m.Globals {
		out = append(out, byte(g.Type.Type))
		if g.Type.Mutable {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
		out = append(out, g.Init...)
	}
	return out
}

func (m *Module) encodeExports() []byte {
	if len(m.Exports) == 0 {
		return nil
	}
	out := AppendLEB128u(nil, uint64(len(m.Exports)))
	for _, e := range m.Exports {
		out = appendString(out, e.Name)
		out = append(out, e.Kind)
		out = AppendLEB128u(out, uint64(e.Index))
	}
	return out
}

func (m *Module) encodeElements() []byte {
	if len(m.Elements) == 0 {
		return nil
	}
	out := AppendLEB128u(nil, uint64(len(m.Elements)))
	for _, e := range m.Elements {
		out = AppendLEB128u(out, uint64(e.Flags))
		if e.Flags&0x01 == 0 {
			if e.Flags&0x02 != 0 {
				out = AppendLEB128u(out, uint64(e.TableIndex))
			}
			out = append(out, e.Offset...)
		} else {
			out = append(out, 0) // elemkind: funcref
		}
		out = AppendLEB128u(out, uint64(len(e.FuncIdxs)))
		for _, f := range e.FuncIdxs {
			out = AppendLEB128u(out, uint64(f))
		}
	}
	return out
}

func (m *Module) encodeCode() []byte {
	if len(m.Code) == 0 {
		return nil
	}
	out := AppendLEB128u(nil, uint64(len(m.Code)))
	for _, c := range m.Code {
		out = AppendLEB128u(out, uint64(len(c.Body)))
		out = append(out, c.Body...)
	}
	return out
}

func (m *Module) encodeData() []byte {
	if len(m.Data) == 0 {
		return nil
	}
	out := AppendLEB128u(nil, uint64(len(m.Data)))
	for _, d := range m.Data {
		switch {
		case d.Passive:
			out = AppendLEB128u(out, 1)
		case d.MemoryIndex != 0:
			out = AppendLEB128u(out, 2)
			out = AppendLEB128u(out, uint64(d.MemoryIndex))
		default:
			out = AppendLEB128u(out, 0)
		}
		if !d.Passive {
			out = append(out, d.Offset...)
		}
		out = AppendLEB128u(out, uint64(len(d.Init)))
		out = append(out, d.Init...)
	}
	return out
}
