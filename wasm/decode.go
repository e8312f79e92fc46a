package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// LoadErrorType distinguishes a module rejected while decoding from one
// rejected by validation.
type LoadErrorType int

const (
	// LoadMalformed marks decoding and header errors.
	LoadMalformed LoadErrorType = iota
	// LoadInvalid marks modules that decode but fail validation.
	LoadInvalid
)

// LoadError carries the malformed/invalid classification for a rejected
// binary module.
type LoadError struct {
	Type    LoadErrorType
	Message string
}

func (e *LoadError) Error() string { return e.Message }

// Load decodes and validates a binary module, classifying any rejection
// as malformed (decode) or invalid (validation).
func Load(data []byte) (*Module, *LoadError) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, &LoadError{Type: LoadMalformed, Message: err.Error()}
	}
	if err := m.Validate(); err != nil {
		return nil, &LoadError{Type: LoadInvalid, Message: err.Error()}
	}
	return m, nil
}

// ParseModule parses a WebAssembly binary module
func ParseModule(data []byte) (*Module, error) {
	r := bytes.NewReader(data)

	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	magic := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16 | uint32(header[3])<<24
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version := uint32(header[4]) | uint32(header[5])<<8 | uint32(header[6])<<16 | uint32(header[7])<<24
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}

	var lastSectionID byte
	for {
		sectionID, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("section header: %w", err)
		}

		// Non-custom sections must appear in increasing ID order, with
		// DataCount slotted between Element and Code.
		if sectionID != SectionCustom {
			if sectionOrder(sectionID) <= sectionOrder(lastSectionID) && lastSectionID != 0 {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastSectionID = sectionID
		}

		sectionSize, err := ReadLEB128u(r)
		if err != nil {
			return nil, fmt.Errorf("section size: %w", err)
		}
		if uint32(r.Len()) < sectionSize {
			return nil, fmt.Errorf("section %d: size %d exceeds remaining input", sectionID, sectionSize)
		}
		sectionData := make([]byte, sectionSize)
		if _, err := io.ReadFull(r, sectionData); err != nil {
			return nil, fmt.Errorf("section data: %w", err)
		}
		sr := bytes.NewReader(sectionData)

		if err := parseSection(sectionID, sr, m); err != nil {
			return nil, err
		}
		if sr.Len() != 0 && sectionID != SectionCustom {
			return nil, fmt.Errorf("section %d: %d trailing bytes", sectionID, sr.Len())
		}
	}

	return m, nil
}

func sectionOrder(id byte) int {
	switch id {
	case SectionDataCount:
		return int(SectionElement) + 1
	case SectionCode:
		return int(SectionElement) + 2
	case SectionData:
		return int(SectionElement) + 3
	default:
		return int(id)
	}
}

func parseSection(id byte, r *bytes.Reader, m *Module) error {
	switch id {
	case SectionCustom:
		return parseCustomSection(r, m)
	case SectionType:
		return parseTypeSection(r, m)
	case SectionImport:
		return parseImportSection(r, m)
	case SectionFunction:
		return parseFunctionSection(r, m)
	case SectionTable:
		return parseTableSection(r, m)
	case SectionMemory:
		return parseMemorySection(r, m)
	case SectionGlobal:
		return parseGlobalSection(r, m)
	case SectionExport:
		return parseExportSection(r, m)
	case SectionStart:
		return parseStartSection(r, m)
	case SectionElement:
		return parseElementSection(r, m)
	case SectionCode:
		return parseCodeSection(r, m)
	case SectionData:
		return parseDataSection(r, m)
	case SectionDataCount:
		count, err := ReadLEB128u(r)
		if err != nil {
			return fmt.Errorf("data count section: %w", err)
		}
		m.DataCount = &count
		return nil
	default:
		return fmt.Errorf("unknown section id %d", id)
	}
}

func parseCustomSection(r *bytes.Reader, m *Module) error {
	name, err := readString(r)
	if err != nil {
		return fmt.Errorf("custom section name: %w", err)
	}
	data := make([]byte, r.Len())
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("custom section %q: %w", name, err)
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: data})
	return nil
}

func parseTypeSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return fmt.Errorf("type section: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		tag, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("type %d: %w", i, err)
		}
		if tag != FuncTypeTag {
			return fmt.Errorf("type %d: expected functype tag 0x60, got 0x%02x", i, tag)
		}
		params, err := readValTypes(r)
		if err != nil {
			return fmt.Errorf("type %d params: %w", i, err)
		}
		results, err := readValTypes(r)
		if err != nil {
			return fmt.Errorf("type %d results: %w", i, err)
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func parseImportSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return fmt.Errorf("import section: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		imp := Import{}
		if imp.Module, err = readString(r); err != nil {
			return fmt.Errorf("import %d module: %w", i, err)
		}
		if imp.Name, err = readString(r); err != nil {
			return fmt.Errorf("import %d name: %w", i, err)
		}
		kind, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("import %d kind: %w", i, err)
		}
		imp.Kind = kind
		switch kind {
		case KindFunc:
			if imp.Func, err = ReadLEB128u(r); err != nil {
				return fmt.Errorf("import %d func type: %w", i, err)
			}
		case KindTable:
			if imp.Table, err = readTableType(r); err != nil {
				return fmt.Errorf("import %d table: %w", i, err)
			}
		case KindMemory:
			if imp.Memory.Limits, err = readLimits(r); err != nil {
				return fmt.Errorf("import %d memory: %w", i, err)
			}
		case KindGlobal:
			if imp.Global, err = readGlobalType(r); err != nil {
				return fmt.Errorf("import %d global: %w", i, err)
			}
		default:
			return fmt.Errorf("import %d: unknown kind %d", i, kind)
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return fmt.Errorf("function section: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		typeIdx, err := ReadLEB128u(r)
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		m.Funcs = append(m.Funcs, typeIdx)
	}
	return nil
}

func parseTableSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return fmt.Errorf("table section: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		tt, err := readTableType(r)
		if err != nil {
			return fmt.Errorf("table %d: %w", i, err)
		}
		m.Tables = append(m.Tables, tt)
	}
	return nil
}

func parseMemorySection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return fmt.Errorf("memory section: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		limits, err := readLimits(r)
		if err != nil {
			return fmt.Errorf("memory %d: %w", i, err)
		}
		m.Memories = append(m.Memories, MemoryType{Limits: limits})
	}
	return nil
}

func parseGlobalSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return fmt.Errorf("global section: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
		init, err := readConstExpr(r)
		if err != nil {
			return fmt.Errorf("global %d init: %w", i, err)
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: init})
	}
	return nil
}

func parseExportSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return fmt.Errorf("export section: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		exp := Export{}
		if exp.Name, err = readString(r); err != nil {
			return fmt.Errorf("export %d name: %w", i, err)
		}
		kind, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("export %d kind: %w", i, err)
		}
		if kind > KindGlobal {
			return fmt.Errorf("export %d: unknown kind %d", i, kind)
		}
		exp.Kind = kind
		if exp.Index, err = ReadLEB128u(r); err != nil {
			return fmt.Errorf("export %d index: %w", i, err)
		}
		m.Exports = append(m.Exports, exp)
	}
	return nil
}

func parseStartSection(r *bytes.Reader, m *Module) error {
	idx, err := ReadLEB128u(r)
	if err != nil {
		return fmt.Errorf("start section: %w", err)
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return fmt.Errorf("element section: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		flags, err := ReadLEB128u(r)
		if err != nil {
			return fmt.Errorf("element %d flags: %w", i, err)
		}
		if flags > 3 {
			return fmt.Errorf("element %d: unsupported flags %d", i, flags)
		}
		elem := Element{Flags: flags}
		if flags&0x01 == 0 {
			if flags&0x02 != 0 {
				if elem.TableIndex, err = ReadLEB128u(r); err != nil {
					return fmt.Errorf("element %d table index: %w", i, err)
				}
			}
			if elem.Offset, err = readConstExpr(r); err != nil {
				return fmt.Errorf("element %d offset: %w", i, err)
			}
		} else if flags&0x02 != 0 {
			// Declarative segments carry an elemkind byte.
			if _, err := r.ReadByte(); err != nil {
				return fmt.Errorf("element %d elemkind: %w", i, err)
			}
		} else {
			// Passive segments carry an elemkind byte.
			if kind, err := r.ReadByte(); err != nil {
				return fmt.Errorf("element %d elemkind: %w", i, err)
			} else if kind != 0 {
				return fmt.Errorf("element %d: unsupported elemkind %d", i, kind)
			}
		}
		n, err := ReadLEB128u(r)
		if err != nil {
			return fmt.Errorf("element %d func count: %w", i, err)
		}
		for j := uint32(0); j < n; j++ {
			funcIdx, err := ReadLEB128u(r)
			if err != nil {
				return fmt.Errorf("element %d func %d: %w", i, j, err)
			}
			elem.FuncIdxs = append(elem.FuncIdxs, funcIdx)
		}
		m.Elements = append(m.Elements, elem)
	}
	return nil
}

func parseCodeSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return fmt.Errorf("code section: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		size, err := ReadLEB128u(r)
		if err != nil {
			return fmt.Errorf("code %d size: %w", i, err)
		}
		if uint32(r.Len()) < size {
			return fmt.Errorf("code %d: body size %d exceeds section", i, size)
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return fmt.Errorf("code %d body: %w", i, err)
		}
		if len(body) == 0 || body[len(body)-1] != 0x0B {
			return fmt.Errorf("code %d: body not terminated by end opcode", i)
		}
		m.Code = append(m.Code, FuncBody{Body: body})
	}
	return nil
}

func parseDataSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return fmt.Errorf("data section: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		flags, err := ReadLEB128u(r)
		if err != nil {
			return fmt.Errorf("data %d flags: %w", i, err)
		}
		seg := DataSegment{}
		switch flags {
		case 0:
		case 1:
			seg.Passive = true
		case 2:
			if seg.MemoryIndex, err = ReadLEB128u(r); err != nil {
				return fmt.Errorf("data %d memory index: %w", i, err)
			}
		default:
			return fmt.Errorf("data %d: unsupported flags %d", i, flags)
		}
		if !seg.Passive {
			if seg.Offset, err = readConstExpr(r); err != nil {
				return fmt.Errorf("data %d offset: %w", i, err)
			}
		}
		n, err := ReadLEB128u(r)
		if err != nil {
			return fmt.Errorf("data %d size: %w", i, err)
		}
		if uint32(r.Len()) < n {
			return fmt.Errorf("data %d: size %d exceeds section", i, n)
		}
		seg.Init = make([]byte, n)
		if _, err := io.ReadFull(r, seg.Init); err != nil {
			return fmt.Errorf("data %d init: %w", i, err)
		}
		m.Data = append(m.Data, seg)
	}
	return nil
}

func readValTypes(r *bytes.Reader) ([]ValType, error) {
	count, err := ReadLEB128u(r)
	if err != nil {
		return nil, err
	}
	types := make([]ValType, 0, count)
	for i := uint32(0); i < count; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		vt := ValType(b)
		if !vt.Valid() {
			return nil, fmt.Errorf("invalid value type 0x%02x", b)
		}
		types = append(types, vt)
	}
	return types, nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := ReadLEB128u(r)
	if err != nil {
		return "", err
	}
	if uint32(r.Len()) < n {
		return "", fmt.Errorf("string length %d exceeds input", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readLimits(r *bytes.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&^(LimitHasMax|LimitShared) != 0 {
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}
	l := Limits{HasMax: flags&LimitHasMax != 0, Shared: flags&LimitShared != 0}
	if l.Min, err = ReadLEB128u(r); err != nil {
		return Limits{}, err
	}
	if l.HasMax {
		if l.Max, err = ReadLEB128u(r); err != nil {
			return Limits{}, err
		}
	}
	return l, nil
}

func readTableType(r *bytes.Reader) (TableType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	elem := ValType(b)
	if elem != ValFuncRef && elem != ValExtern {
		return TableType{}, fmt.Errorf("invalid table element type 0x%02x", b)
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{Elem: elem, Limits: limits}, nil
}

func readGlobalType(r *bytes.Reader) (GlobalType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	vt := ValType(b)
	if !vt.Valid() {
		return GlobalType{}, fmt.Errorf("invalid global value type 0x%02x", b)
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid mutability flag %d", mut)
	}
	return GlobalType{Type: vt, Mutable: mut == 1}, nil
}

// readConstExpr reads a constant expression through its terminating end
// opcode, returning the raw bytes including the terminator.
func readConstExpr(r *bytes.Reader) ([]byte, error) {
	var expr []byte
	depth := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("unterminated constant expression: %w", err)
		}
		expr = append(expr, b)
		switch b {
		case 0x0B: // end
			if depth == 0 {
				return expr, nil
			}
			depth--
		case 0x41: // i32.const
			v, err := ReadLEB128s(r)
			if err != nil {
				return nil, err
			}
			expr = AppendLEB128s(expr, int64(v))
		case 0x42: // i64.const
			v, err := ReadLEB128s64(r)
			if err != nil {
				return nil, err
			}
			expr = AppendLEB128s(expr, v)
		case 0x43: // f32.const
			var buf [4]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return nil, err
			}
			expr = append(expr, buf[:]...)
		case 0x44: // f64.const
			var buf [8]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return nil, err
			}
			expr = append(expr, buf[:]...)
		case 0x23, 0xD2: // global.get, ref.func
			v, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			expr = AppendLEB128u(expr, uint64(v))
		case 0xD0: // ref.null
			ht, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			expr = append(expr, ht)
		default:
			return nil, fmt.Errorf("opcode 0x%02x not allowed in constant expression", b)
		}
	}
}
