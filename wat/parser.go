package wat

import (
	"github.com/wippyai/wasm-sandbox/internal/sexpr"
	"github.com/wippyai/wasm-sandbox/wasm"
)

type parser struct {
	src    string
	tokens []sexpr.Token
	pos    int
	mod    *wasm.Module

	types   map[string]uint32
	funcs   map[string]uint32
	tables  map[string]uint32
	mems    map[string]uint32
	globals map[string]uint32
	elems   map[string]uint32
	datas   map[string]uint32

	// Imported entities precede defined ones in each index space, so
	// indices are assigned from a prescan, not from parse order.
	numImportedFuncs   uint32
	numImportedTables  uint32
	numImportedMems    uint32
	numImportedGlobals uint32

	seenImportedFuncs   uint32
	seenImportedTables  uint32
	seenImportedMems    uint32
	seenImportedGlobals uint32
	seenDefinedFuncs    uint32
	seenDefinedTables   uint32
	seenDefinedMems     uint32
	seenDefinedGlobals  uint32
}

func newParser(src string, tokens []sexpr.Token) *parser {
	return &parser{
		src:     src,
		tokens:  tokens,
		mod:     &wasm.Module{},
		types:   make(map[string]uint32),
		funcs:   make(map[string]uint32),
		tables:  make(map[string]uint32),
		mems:    make(map[string]uint32),
		globals: make(map[string]uint32),
		elems:   make(map[string]uint32),
		datas:   make(map[string]uint32),
	}
}

func (p *parser) peek(n int) *sexpr.Token {
	i := p.pos + n
	if i >= len(p.tokens) {
		return &p.tokens[len(p.tokens)-1]
	}
	return &p.tokens[i]
}

func (p *parser) next() *sexpr.Token {
	t := p.peek(0)
	if t.Kind != sexpr.EOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind sexpr.Kind) (*sexpr.Token, error) {
	t := p.peek(0)
	if t.Kind != kind {
		return nil, p.errf(t, "expected %s, got %q", kind, t.Text)
	}
	return p.next(), nil
}

func (p *parser) expectKeyword(word string) error {
	t := p.peek(0)
	if t.Kind != sexpr.Keyword || t.Text != word {
		return p.errf(t, "expected '%s', got %q", word, t.Text)
	}
	p.next()
	return nil
}

func (p *parser) atListStart(word string) bool {
	return p.peek(0).Kind == sexpr.LParen &&
		p.peek(1).Kind == sexpr.Keyword && p.peek(1).Text == word
}

// skipList consumes a balanced list starting at the current '('.
func (p *parser) skipList() {
	depth := 0
	for {
		t := p.next()
		switch t.Kind {
		case sexpr.EOF:
			return
		case sexpr.LParen:
			depth++
		case sexpr.RParen:
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

func (p *parser) optName() string {
	t := p.peek(0)
	if t.Kind != sexpr.Name {
		return ""
	}
	p.next()
	return t.Text
}

func (p *parser) parseModule() (*wasm.Module, error) {
	if _, err := p.expect(sexpr.LParen); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("module"); err != nil {
		return nil, err
	}
	p.optName()

	if err := p.prescan(); err != nil {
		return nil, err
	}

	for p.peek(0).Kind == sexpr.LParen {
		if err := p.parseField(); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(sexpr.RParen); err != nil {
		return nil, err
	}
	if t := p.peek(0); t.Kind != sexpr.EOF {
		return nil, p.errf(t, "unexpected content after module")
	}

	// Bulk memory ops validate data indices against the DataCount
	// section, so emit one whenever data segments exist.
	if len(p.mod.Data) > 0 {
		n := uint32(len(p.mod.Data))
		p.mod.DataCount = &n
	}
	return p.mod, nil
}

type prescanEntry struct {
	name     string
	imported bool
}

// prescan walks the module fields once to assign every named or
// positional entity its final index, so bodies may reference entities
// defined later in the text.
func (p *parser) prescan() error {
	start := p.pos

	var funcs, tables, mems, globals []prescanEntry
	numTypes, numElems, numDatas := uint32(0), uint32(0), uint32(0)

	for p.peek(0).Kind == sexpr.LParen {
		fieldStart := p.pos
		p.next() // '('
		kw := p.peek(0)
		if kw.Kind != sexpr.Keyword {
			return p.errf(kw, "expected module field")
		}
		p.next()

		switch kw.Text {
		case "type":
			// Types are parsed to completion here so later fields can
			// reference them by index regardless of field order; the
			// main pass skips type fields.
			if name := p.optName(); name != "" {
				p.types[name] = numTypes
			}
			numTypes++
			if _, err := p.expect(sexpr.LParen); err != nil {
				return err
			}
			if err := p.expectKeyword("func"); err != nil {
				return err
			}
			ft, err := p.parseFuncTypeFields(nil)
			if err != nil {
				return err
			}
			if _, err := p.expect(sexpr.RParen); err != nil {
				return err
			}
			p.mod.Types = append(p.mod.Types, ft)

		case "import":
			// (import "m" "n" (kind $name? ...))
			if _, err := p.expect(sexpr.String); err != nil {
				return err
			}
			if _, err := p.expect(sexpr.String); err != nil {
				return err
			}
			if _, err := p.expect(sexpr.LParen); err != nil {
				return err
			}
			inner := p.peek(0)
			if inner.Kind != sexpr.Keyword {
				return p.errf(inner, "expected import kind")
			}
			p.next()
			entry := prescanEntry{name: p.optName(), imported: true}
			switch inner.Text {
			case "func":
				funcs = append(funcs, entry)
			case "table":
				tables = append(tables, entry)
			case "memory":
				mems = append(mems, entry)
			case "global":
				globals = append(globals, entry)
			default:
				return p.errf(inner, "unknown import kind %q", inner.Text)
			}

		case "func", "table", "memory", "global":
			entry := prescanEntry{name: p.optName()}
			for p.atListStart("export") {
				p.skipList()
			}
			entry.imported = p.atListStart("import")
			switch kw.Text {
			case "func":
				funcs = append(funcs, entry)
			case "table":
				tables = append(tables, entry)
			case "memory":
				mems = append(mems, entry)
			case "global":
				globals = append(globals, entry)
			}

		case "elem":
			if name := p.optName(); name != "" {
				p.elems[name] = numElems
			}
			numElems++

		case "data":
			if name := p.optName(); name != "" {
				p.datas[name] = numDatas
			}
			numDatas++

		case "export", "start":
			// No index-space entries.

		default:
			return p.errf(kw, "unknown module field %q", kw.Text)
		}

		p.pos = fieldStart
		p.skipList()
	}

	assign := func(entries []prescanEntry, names map[string]uint32) (numImported uint32) {
		for _, e := range entries {
			if e.imported {
				numImported++
			}
		}
		importedIdx, definedIdx := uint32(0), numImported
		for _, e := range entries {
			idx := definedIdx
			if e.imported {
				idx = importedIdx
				importedIdx++
			} else {
				definedIdx++
			}
			if e.name != "" {
				names[e.name] = idx
			}
		}
		return numImported
	}

	p.numImportedFuncs = assign(funcs, p.funcs)
	p.numImportedTables = assign(tables, p.tables)
	p.numImportedMems = assign(mems, p.mems)
	p.numImportedGlobals = assign(globals, p.globals)

	p.pos = start
	return nil
}

func (p *parser) parseField() error {
	if _, err := p.expect(sexpr.LParen); err != nil {
		return err
	}
	kw := p.peek(0)
	p.next()

	var err error
	switch kw.Text {
	case "type":
		err = p.parseTypeField()
	case "import":
		err = p.parseImportField()
	case "func":
		err = p.parseFuncField()
	case "table":
		err = p.parseTableField()
	case "memory":
		err = p.parseMemoryField()
	case "global":
		err = p.parseGlobalField()
	case "export":
		err = p.parseExportField()
	case "start":
		err = p.parseStartField()
	case "elem":
		err = p.parseElemField()
	case "data":
		err = p.parseDataField()
	default:
		return p.errf(kw, "unknown module field %q", kw.Text)
	}
	if err != nil {
		return err
	}

	_, err = p.expect(sexpr.RParen)
	return err
}

func (p *parser) parseTypeField() error {
	// The prescan already appended this type; only consume its tokens.
	p.optName()
	if p.peek(0).Kind == sexpr.LParen {
		p.skipList()
	}
	return nil
}

// parseFuncTypeFields reads (param ...)* (result ...)*; named params
// are recorded into paramNames when given.
func (p *parser) parseFuncTypeFields(paramNames map[string]uint32) (wasm.FuncType, error) {
	var ft wasm.FuncType

	for p.atListStart("param") {
		p.next() // '('
		p.next() // param
		if p.peek(0).Kind == sexpr.Name {
			name := p.next().Text
			vt, err := p.parseValType()
			if err != nil {
				return ft, err
			}
			if paramNames != nil {
				paramNames[name] = uint32(len(ft.Params))
			}
			ft.Params = append(ft.Params, vt)
		} else {
			for p.peek(0).Kind == sexpr.Keyword {
				vt, err := p.parseValType()
				if err != nil {
					return ft, err
				}
				ft.Params = append(ft.Params, vt)
			}
		}
		if _, err := p.expect(sexpr.RParen); err != nil {
			return ft, err
		}
	}

	for p.atListStart("result") {
		p.next()
		p.next()
		for p.peek(0).Kind == sexpr.Keyword {
			vt, err := p.parseValType()
			if err != nil {
				return ft, err
			}
			ft.Results = append(ft.Results, vt)
		}
		if _, err := p.expect(sexpr.RParen); err != nil {
			return ft, err
		}
	}

	return ft, nil
}

func (p *parser) parseValType() (wasm.ValType, error) {
	t := p.peek(0)
	if t.Kind != sexpr.Keyword {
		return 0, p.errf(t, "expected value type")
	}
	var vt wasm.ValType
	switch t.Text {
	case "i32":
		vt = wasm.ValI32
	case "i64":
		vt = wasm.ValI64
	case "f32":
		vt = wasm.ValF32
	case "f64":
		vt = wasm.ValF64
	case "v128":
		vt = wasm.ValV128
	case "funcref":
		vt = wasm.ValFuncRef
	case "externref":
		vt = wasm.ValExtern
	default:
		return 0, p.errf(t, "unknown value type %q", t.Text)
	}
	p.next()
	return vt, nil
}

func (p *parser) parseIdx(names map[string]uint32, what string) (uint32, error) {
	t := p.peek(0)
	switch t.Kind {
	case sexpr.Number:
		v, ok := sexpr.ParseIntBits(t.Text, 32)
		if !ok {
			return 0, p.errf(t, "invalid %s index %q", what, t.Text)
		}
		p.next()
		return uint32(v), nil
	case sexpr.Name:
		idx, ok := names[t.Text]
		if !ok {
			return 0, p.errf(t, "unknown %s %q", what, t.Text)
		}
		p.next()
		return idx, nil
	}
	return 0, p.errf(t, "expected %s index", what)
}

func (p *parser) parseU32() (uint32, error) {
	t := p.peek(0)
	if t.Kind != sexpr.Number {
		return 0, p.errf(t, "expected integer")
	}
	v, ok := sexpr.ParseIntBits(t.Text, 32)
	if !ok {
		return 0, p.errf(t, "invalid integer %q", t.Text)
	}
	p.next()
	return uint32(v), nil
}

func (p *parser) parseLimits() (wasm.Limits, error) {
	min, err := p.parseU32()
	if err != nil {
		return wasm.Limits{}, err
	}
	l := wasm.Limits{Min: min}
	if p.peek(0).Kind == sexpr.Number {
		max, err := p.parseU32()
		if err != nil {
			return wasm.Limits{}, err
		}
		l.Max = max
		l.HasMax = true
	}
	if t := p.peek(0); t.Kind == sexpr.Keyword && t.Text == "shared" {
		p.next()
		l.Shared = true
	}
	return l, nil
}

func (p *parser) parseGlobalType() (wasm.GlobalType, error) {
	if p.atListStart("mut") {
		p.next()
		p.next()
		vt, err := p.parseValType()
		if err != nil {
			return wasm.GlobalType{}, err
		}
		if _, err := p.expect(sexpr.RParen); err != nil {
			return wasm.GlobalType{}, err
		}
		return wasm.GlobalType{Type: vt, Mutable: true}, nil
	}
	vt, err := p.parseValType()
	if err != nil {
		return wasm.GlobalType{}, err
	}
	return wasm.GlobalType{Type: vt}, nil
}

func (p *parser) parseRefType() (wasm.ValType, error) {
	t := p.peek(0)
	if t.Kind == sexpr.Keyword && (t.Text == "funcref" || t.Text == "externref") {
		return p.parseValType()
	}
	return 0, p.errf(t, "expected reference type")
}

func (p *parser) findOrAddType(ft wasm.FuncType) uint32 {
	for i, t := range p.mod.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	p.mod.Types = append(p.mod.Types, ft)
	return uint32(len(p.mod.Types) - 1)
}

// parseTypeUse reads an optional (type idx) plus inline params and
// results, returning the resolved type index.
func (p *parser) parseTypeUse(paramNames map[string]uint32) (uint32, error) {
	var explicit *uint32
	if p.atListStart("type") {
		p.next()
		p.next()
		idx, err := p.parseIdx(p.types, "type")
		if err != nil {
			return 0, err
		}
		if _, err := p.expect(sexpr.RParen); err != nil {
			return 0, err
		}
		explicit = &idx
	}

	ft, err := p.parseFuncTypeFields(paramNames)
	if err != nil {
		return 0, err
	}

	if explicit != nil {
		if len(ft.Params) > 0 || len(ft.Results) > 0 {
			if int(*explicit) >= len(p.mod.Types) || !p.mod.Types[*explicit].Equal(ft) {
				return 0, p.errf(p.peek(0), "inline signature does not match type %d", *explicit)
			}
		}
		return *explicit, nil
	}
	return p.findOrAddType(ft), nil
}

// parseInlineExports collects (export "name")* abbreviations.
func (p *parser) parseInlineExports() ([]string, error) {
	var names []string
	for p.atListStart("export") {
		p.next()
		p.next()
		s, err := p.expect(sexpr.String)
		if err != nil {
			return nil, err
		}
		names = append(names, string(s.Bytes))
		if _, err := p.expect(sexpr.RParen); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func (p *parser) addExports(names []string, kind byte, idx uint32) {
	for _, n := range names {
		p.mod.Exports = append(p.mod.Exports, wasm.Export{Name: n, Kind: kind, Index: idx})
	}
}

// parseInlineImport consumes ( import "m" "n" ) when present.
func (p *parser) parseInlineImport() (mod, name string, ok bool, err error) {
	if !p.atListStart("import") {
		return "", "", false, nil
	}
	p.next()
	p.next()
	m, err := p.expect(sexpr.String)
	if err != nil {
		return "", "", false, err
	}
	n, err := p.expect(sexpr.String)
	if err != nil {
		return "", "", false, err
	}
	if _, err := p.expect(sexpr.RParen); err != nil {
		return "", "", false, err
	}
	return string(m.Bytes), string(n.Bytes), true, nil
}

func (p *parser) parseImportField() error {
	mtok, err := p.expect(sexpr.String)
	if err != nil {
		return err
	}
	ntok, err := p.expect(sexpr.String)
	if err != nil {
		return err
	}
	if _, err := p.expect(sexpr.LParen); err != nil {
		return err
	}
	kind := p.peek(0)
	p.next()

	imp := wasm.Import{Module: string(mtok.Bytes), Name: string(ntok.Bytes)}
	p.optName()

	switch kind.Text {
	case "func":
		imp.Kind = wasm.KindFunc
		typeIdx, err := p.parseTypeUse(nil)
		if err != nil {
			return err
		}
		imp.Func = typeIdx
		p.seenImportedFuncs++
	case "table":
		imp.Kind = wasm.KindTable
		limits, err := p.parseLimits()
		if err != nil {
			return err
		}
		elem, err := p.parseRefType()
		if err != nil {
			return err
		}
		imp.Table = wasm.TableType{Elem: elem, Limits: limits}
		p.seenImportedTables++
	case "memory":
		imp.Kind = wasm.KindMemory
		limits, err := p.parseLimits()
		if err != nil {
			return err
		}
		imp.Memory = wasm.MemoryType{Limits: limits}
		p.seenImportedMems++
	case "global":
		imp.Kind = wasm.KindGlobal
		gt, err := p.parseGlobalType()
		if err != nil {
			return err
		}
		imp.Global = gt
		p.seenImportedGlobals++
	default:
		return p.errf(kind, "unknown import kind %q", kind.Text)
	}

	if _, err := p.expect(sexpr.RParen); err != nil {
		return err
	}
	p.mod.Imports = append(p.mod.Imports, imp)
	return nil
}

func (p *parser) parseFuncField() error {
	p.optName()
	exports, err := p.parseInlineExports()
	if err != nil {
		return err
	}

	if impMod, impName, ok, err := p.parseInlineImport(); err != nil {
		return err
	} else if ok {
		typeIdx, err := p.parseTypeUse(nil)
		if err != nil {
			return err
		}
		idx := p.seenImportedFuncs
		p.seenImportedFuncs++
		p.mod.Imports = append(p.mod.Imports, wasm.Import{
			Module: impMod, Name: impName, Kind: wasm.KindFunc, Func: typeIdx,
		})
		p.addExports(exports, wasm.KindFunc, idx)
		return nil
	}

	idx := p.numImportedFuncs + p.seenDefinedFuncs
	p.seenDefinedFuncs++
	p.addExports(exports, wasm.KindFunc, idx)

	paramNames := make(map[string]uint32)
	typeIdx, err := p.parseTypeUse(paramNames)
	if err != nil {
		return err
	}
	if int(typeIdx) >= len(p.mod.Types) {
		return p.errf(p.peek(0), "type index %d out of range", typeIdx)
	}

	numParams := uint32(len(p.mod.Types[typeIdx].Params))
	locals := make(map[string]uint32, len(paramNames))
	for name, i := range paramNames {
		locals[name] = i
	}

	var localTypes []wasm.ValType
	for p.atListStart("local") {
		p.next()
		p.next()
		if p.peek(0).Kind == sexpr.Name {
			name := p.next().Text
			vt, err := p.parseValType()
			if err != nil {
				return err
			}
			locals[name] = numParams + uint32(len(localTypes))
			localTypes = append(localTypes, vt)
		} else {
			for p.peek(0).Kind == sexpr.Keyword {
				vt, err := p.parseValType()
				if err != nil {
					return err
				}
				localTypes = append(localTypes, vt)
			}
		}
		if _, err := p.expect(sexpr.RParen); err != nil {
			return err
		}
	}

	fc := &funcContext{p: p, locals: locals}
	if err := fc.parseInstrsUntil(nil); err != nil {
		return err
	}

	body := encodeLocals(localTypes)
	body = append(body, fc.body...)
	body = append(body, opEnd)

	p.mod.Funcs = append(p.mod.Funcs, typeIdx)
	p.mod.Code = append(p.mod.Code, wasm.FuncBody{Body: body})
	return nil
}

// encodeLocals emits the locals vector, grouping runs of one type.
func encodeLocals(locals []wasm.ValType) []byte {
	type run struct {
		vt    wasm.ValType
		count uint32
	}
	var runs []run
	for _, vt := range locals {
		if len(runs) > 0 && runs[len(runs)-1].vt == vt {
			runs[len(runs)-1].count++
		} else {
			runs = append(runs, run{vt, 1})
		}
	}
	out := wasm.AppendLEB128u(nil, uint64(len(runs)))
	for _, r := range runs {
		out = wasm.AppendLEB128u(out, uint64(r.count))
		out = append(out, byte(r.vt))
	}
	return out
}

func (p *parser) parseTableField() error {
	p.optName()
	exports, err := p.parseInlineExports()
	if err != nil {
		return err
	}

	if impMod, impName, ok, err := p.parseInlineImport(); err != nil {
		return err
	} else if ok {
		limits, err := p.parseLimits()
		if err != nil {
			return err
		}
		elem, err := p.parseRefType()
		if err != nil {
			return err
		}
		idx := p.seenImportedTables
		p.seenImportedTables++
		p.mod.Imports = append(p.mod.Imports, wasm.Import{
			Module: impMod, Name: impName, Kind: wasm.KindTable,
			Table: wasm.TableType{Elem: elem, Limits: limits},
		})
		p.addExports(exports, wasm.KindTable, idx)
		return nil
	}

	idx := p.numImportedTables + p.seenDefinedTables
	p.seenDefinedTables++
	p.addExports(exports, wasm.KindTable, idx)

	// (table reftype (elem $f ...)) pins the size to the segment.
	if t := p.peek(0); t.Kind == sexpr.Keyword && (t.Text == "funcref" || t.Text == "externref") {
		elem, err := p.parseRefType()
		if err != nil {
			return err
		}
		if _, err := p.expect(sexpr.LParen); err != nil {
			return err
		}
		if err := p.expectKeyword("elem"); err != nil {
			return err
		}
		var funcIdxs []uint32
		for p.peek(0).Kind == sexpr.Number || p.peek(0).Kind == sexpr.Name {
			f, err := p.parseIdx(p.funcs, "function")
			if err != nil {
				return err
			}
			funcIdxs = append(funcIdxs, f)
		}
		if _, err := p.expect(sexpr.RParen); err != nil {
			return err
		}

		n := uint32(len(funcIdxs))
		p.mod.Tables = append(p.mod.Tables, wasm.TableType{
			Elem:   elem,
			Limits: wasm.Limits{Min: n, Max: n, HasMax: true},
		})
		elemSeg := wasm.Element{
			TableIndex: idx,
			Offset:     []byte{0x41, 0x00, 0x0B}, // i32.const 0
			FuncIdxs:   funcIdxs,
		}
		if idx != 0 {
			elemSeg.Flags = 2
		}
		p.mod.Elements = append(p.mod.Elements, elemSeg)
		return nil
	}

	limits, err := p.parseLimits()
	if err != nil {
		return err
	}
	elem, err := p.parseRefType()
	if err != nil {
		return err
	}
	p.mod.Tables = append(p.mod.Tables, wasm.TableType{Elem: elem, Limits: limits})
	return nil
}

func (p *parser) parseMemoryField() error {
	p.optName()
	exports, err := p.parseInlineExports()
	if err != nil {
		return err
	}

	if impMod, impName, ok, err := p.parseInlineImport(); err != nil {
		return err
	} else if ok {
		limits, err := p.parseLimits()
		if err != nil {
			return err
		}
		idx := p.seenImportedMems
		p.seenImportedMems++
		p.mod.Imports = append(p.mod.Imports, wasm.Import{
			Module: impMod, Name: impName, Kind: wasm.KindMemory,
			Memory: wasm.MemoryType{Limits: limits},
		})
		p.addExports(exports, wasm.KindMemory, idx)
		return nil
	}

	idx := p.numImportedMems + p.seenDefinedMems
	p.seenDefinedMems++
	p.addExports(exports, wasm.KindMemory, idx)

	// (memory (data "...")) sizes the memory to its contents.
	if p.atListStart("data") {
		p.next()
		p.next()
		var data []byte
		for p.peek(0).Kind == sexpr.String {
			data = append(data, p.next().Bytes...)
		}
		if _, err := p.expect(sexpr.RParen); err != nil {
			return err
		}

		pages := uint32((len(data) + wasm.PageSize - 1) / wasm.PageSize)
		p.mod.Memories = append(p.mod.Memories, wasm.MemoryType{
			Limits: wasm.Limits{Min: pages, Max: pages, HasMax: true},
		})
		p.mod.Data = append(p.mod.Data, wasm.DataSegment{
			MemoryIndex: idx,
			Offset:      []byte{0x41, 0x00, 0x0B},
			Init:        data,
		})
		return nil
	}

	limits, err := p.parseLimits()
	if err != nil {
		return err
	}
	p.mod.Memories = append(p.mod.Memories, wasm.MemoryType{Limits: limits})
	return nil
}

func (p *parser) parseGlobalField() error {
	p.optName()
	exports, err := p.parseInlineExports()
	if err != nil {
		return err
	}

	if impMod, impName, ok, err := p.parseInlineImport(); err != nil {
		return err
	} else if ok {
		gt, err := p.parseGlobalType()
		if err != nil {
			return err
		}
		idx := p.seenImportedGlobals
		p.seenImportedGlobals++
		p.mod.Imports = append(p.mod.Imports, wasm.Import{
			Module: impMod, Name: impName, Kind: wasm.KindGlobal, Global: gt,
		})
		p.addExports(exports, wasm.KindGlobal, idx)
		return nil
	}

	idx := p.numImportedGlobals + p.seenDefinedGlobals
	p.seenDefinedGlobals++
	p.addExports(exports, wasm.KindGlobal, idx)

	gt, err := p.parseGlobalType()
	if err != nil {
		return err
	}
	init, err := p.parseConstExprBytes()
	if err != nil {
		return err
	}
	p.mod.Globals = append(p.mod.Globals, wasm.Global{Type: gt, Init: init})
	return nil
}

func (p *parser) parseExportField() error {
	name, err := p.expect(sexpr.String)
	if err != nil {
		return err
	}
	if _, err := p.expect(sexpr.LParen); err != nil {
		return err
	}
	kindTok := p.peek(0)
	p.next()

	var kind byte
	var names map[string]uint32
	switch kindTok.Text {
	case "func":
		kind, names = wasm.KindFunc, p.funcs
	case "table":
		kind, names = wasm.KindTable, p.tables
	case "memory":
		kind, names = wasm.KindMemory, p.mems
	case "global":
		kind, names = wasm.KindGlobal, p.globals
	default:
		return p.errf(kindTok, "unknown export kind %q", kindTok.Text)
	}

	idx, err := p.parseIdx(names, kindTok.Text)
	if err != nil {
		return err
	}
	if _, err := p.expect(sexpr.RParen); err != nil {
		return err
	}

	p.mod.Exports = append(p.mod.Exports, wasm.Export{
		Name: string(name.Bytes), Kind: kind, Index: idx,
	})
	return nil
}

func (p *parser) parseStartField() error {
	idx, err := p.parseIdx(p.funcs, "function")
	if err != nil {
		return err
	}
	p.mod.Start = &idx
	return nil
}

func (p *parser) parseElemField() error {
	p.optName()

	tableIdx := uint32(0)
	explicitTable := false
	if p.atListStart("table") {
		p.next()
		p.next()
		idx, err := p.parseIdx(p.tables, "table")
		if err != nil {
			return err
		}
		if _, err := p.expect(sexpr.RParen); err != nil {
			return err
		}
		tableIdx = idx
		explicitTable = true
	}

	declarative := false
	if t := p.peek(0); t.Kind == sexpr.Keyword && t.Text == "declare" {
		p.next()
		declarative = true
	}

	var offset []byte
	if !declarative && p.peek(0).Kind == sexpr.LParen && !p.atListStart("item") {
		var err error
		if p.atListStart("offset") {
			p.next()
			p.next()
			offset, err = p.parseConstExprBody()
			if err != nil {
				return err
			}
			if _, err := p.expect(sexpr.RParen); err != nil {
				return err
			}
		} else {
			offset, err = p.parseConstExprBytes()
			if err != nil {
				return err
			}
		}
	}

	// Optional elemlist head: 'func' or 'funcref'.
	if t := p.peek(0); t.Kind == sexpr.Keyword && (t.Text == "func" || t.Text == "funcref") {
		p.next()
	}

	var funcIdxs []uint32
	for {
		t := p.peek(0)
		if t.Kind == sexpr.Number || t.Kind == sexpr.Name {
			f, err := p.parseIdx(p.funcs, "function")
			if err != nil {
				return err
			}
			funcIdxs = append(funcIdxs, f)
			continue
		}
		if p.atListStart("ref.func") {
			p.next()
			p.next()
			f, err := p.parseIdx(p.funcs, "function")
			if err != nil {
				return err
			}
			funcIdxs = append(funcIdxs, f)
			if _, err := p.expect(sexpr.RParen); err != nil {
				return err
			}
			continue
		}
		if p.atListStart("item") {
			p.next()
			p.next()
			if p.atListStart("ref.func") {
				p.next()
				p.next()
				f, err := p.parseIdx(p.funcs, "function")
				if err != nil {
					return err
				}
				funcIdxs = append(funcIdxs, f)
				if _, err := p.expect(sexpr.RParen); err != nil {
					return err
				}
			} else {
				if err := p.expectKeyword("ref.func"); err != nil {
					return err
				}
				f, err := p.parseIdx(p.funcs, "function")
				if err != nil {
					return err
				}
				funcIdxs = append(funcIdxs, f)
			}
			if _, err := p.expect(sexpr.RParen); err != nil {
				return err
			}
			continue
		}
		break
	}

	elem := wasm.Element{FuncIdxs: funcIdxs}
	switch {
	case offset != nil:
		elem.TableIndex = tableIdx
		elem.Offset = offset
		if explicitTable && tableIdx != 0 {
			elem.Flags = 2
		}
	case declarative:
		elem.Flags = 3
	default:
		elem.Flags = 1
	}
	p.mod.Elements = append(p.mod.Elements, elem)
	return nil
}

func (p *parser) parseDataField() error {
	p.optName()

	memIdx := uint32(0)
	if p.atListStart("memory") {
		p.next()
		p.next()
		idx, err := p.parseIdx(p.mems, "memory")
		if err != nil {
			return err
		}
		if _, err := p.expect(sexpr.RParen); err != nil {
			return err
		}
		memIdx = idx
	}

	var offset []byte
	if p.peek(0).Kind == sexpr.LParen {
		var err error
		if p.atListStart("offset") {
			p.next()
			p.next()
			offset, err = p.parseConstExprBody()
			if err != nil {
				return err
			}
			if _, err := p.expect(sexpr.RParen); err != nil {
				return err
			}
		} else {
			offset, err = p.parseConstExprBytes()
			if err != nil {
				return err
			}
		}
	}

	var data []byte
	for p.peek(0).Kind == sexpr.String {
		data = append(data, p.next().Bytes...)
	}

	seg := wasm.DataSegment{MemoryIndex: memIdx, Init: data}
	if offset == nil {
		seg.Passive = true
	} else {
		seg.Offset = offset
	}
	p.mod.Data = append(p.mod.Data, seg)
	return nil
}

// parseConstExprBytes parses one folded constant instruction, e.g.
// (i32.const 7), into its binary encoding plus the end opcode.
func (p *parser) parseConstExprBytes() ([]byte, error) {
	if _, err := p.expect(sexpr.LParen); err != nil {
		return nil, err
	}
	body, err := p.parseConstInstr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(sexpr.RParen); err != nil {
		return nil, err
	}
	return append(body, opEnd), nil
}

// parseConstExprBody parses the folded instruction inside an already
// open (offset ...) form.
func (p *parser) parseConstExprBody() ([]byte, error) {
	if p.peek(0).Kind == sexpr.LParen {
		return p.parseConstExprBytes()
	}
	body, err := p.parseConstInstr()
	if err != nil {
		return nil, err
	}
	return append(body, opEnd), nil
}

func (p *parser) parseConstInstr() ([]byte, error) {
	t := p.peek(0)
	if t.Kind != sexpr.Keyword {
		return nil, p.errf(t, "expected constant instruction")
	}
	p.next()

	switch t.Text {
	case "i32.const":
		n := p.peek(0)
		v, ok := sexpr.ParseIntBits(n.Text, 32)
		if n.Kind != sexpr.Number || !ok {
			return nil, p.errf(n, "invalid i32 literal %q", n.Text)
		}
		p.next()
		return wasm.AppendLEB128s([]byte{0x41}, int64(int32(uint32(v)))), nil
	case "i64.const":
		n := p.peek(0)
		v, ok := sexpr.ParseIntBits(n.Text, 64)
		if n.Kind != sexpr.Number || !ok {
			return nil, p.errf(n, "invalid i64 literal %q", n.Text)
		}
		p.next()
		return wasm.AppendLEB128s([]byte{0x42}, int64(v)), nil
	case "f32.const":
		n := p.next()
		bits, ok := sexpr.ParseFloatBits(n.Text, 32)
		if !ok {
			return nil, p.errf(n, "invalid f32 literal %q", n.Text)
		}
		out := []byte{0x43}
		return append(out, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)), nil
	case "f64.const":
		n := p.next()
		bits, ok := sexpr.ParseFloatBits(n.Text, 64)
		if !ok {
			return nil, p.errf(n, "invalid f64 literal %q", n.Text)
		}
		out := []byte{0x44}
		for shift := 0; shift < 64; shift += 8 {
			out = append(out, byte(bits>>shift))
		}
		return out, nil
	case "global.get":
		idx, err := p.parseIdx(p.globals, "global")
		if err != nil {
			return nil, err
		}
		return wasm.AppendLEB128u([]byte{0x23}, uint64(idx)), nil
	case "ref.func":
		idx, err := p.parseIdx(p.funcs, "function")
		if err != nil {
			return nil, err
		}
		return wasm.AppendLEB128u([]byte{0xD2}, uint64(idx)), nil
	case "ref.null":
		ht := p.peek(0)
		heap := byte(0x70)
		if ht.Kind == sexpr.Keyword {
			if ht.Text == "extern" {
				heap = 0x6F
			}
			p.next()
		}
		return []byte{0xD0, heap}, nil
	}
	return nil, p.errf(t, "%q is not a constant instruction", t.Text)
}
