package wat

import (
	"strings"

	"github.com/wippyai/wasm-sandbox/internal/sexpr"
	"github.com/wippyai/wasm-sandbox/wasm"
)

const (
	opBlock    = 0x02
	opLoop     = 0x03
	opIf       = 0x04
	opElse     = 0x05
	opEnd      = 0x0B
	blockEmpty = 0x40
	opcodeFC   = 0xFC
	heapFunc   = 0x70
	heapExtern = 0x6F
)

// funcContext emits one function body as binary code.
type funcContext struct {
	p      *parser
	locals map[string]uint32
	labels []string
	body   []byte
}

func (f *funcContext) emit(b ...byte) { f.body = append(f.body, b...) }

func (f *funcContext) pushLabel(name string) { f.labels = append(f.labels, name) }

func (f *funcContext) popLabel() {
	if len(f.labels) > 0 {
		f.labels = f.labels[:len(f.labels)-1]
	}
}

func (f *funcContext) resolveLabel(tok *sexpr.Token) (uint32, error) {
	if tok.Kind == sexpr.Number {
		v, ok := sexpr.ParseIntBits(tok.Text, 32)
		if !ok {
			return 0, f.p.errf(tok, "invalid label %q", tok.Text)
		}
		return uint32(v), nil
	}
	if tok.Kind == sexpr.Name {
		for i := len(f.labels) - 1; i >= 0; i-- {
			if f.labels[i] == tok.Text {
				return uint32(len(f.labels) - 1 - i), nil
			}
		}
		return 0, f.p.errf(tok, "unknown label %q", tok.Text)
	}
	return 0, f.p.errf(tok, "expected label")
}

// parseInstrsUntil parses flat and folded instructions until the
// current list's ')' or, when stop is non-nil, a keyword in stop. The
// terminator is not consumed.
func (f *funcContext) parseInstrsUntil(stop map[string]bool) error {
	for {
		t := f.p.peek(0)
		switch t.Kind {
		case sexpr.RParen, sexpr.EOF:
			return nil
		case sexpr.LParen:
			if err := f.parseFolded(); err != nil {
				return err
			}
		case sexpr.Keyword:
			if stop != nil && stop[t.Text] {
				return nil
			}
			if err := f.parseFlat(); err != nil {
				return err
			}
		default:
			return f.p.errf(t, "expected instruction")
		}
	}
}

var stopElseEnd = map[string]bool{"else": true, "end": true}
var stopEnd = map[string]bool{"end": true}

// parseFlat parses one unparenthesized instruction.
func (f *funcContext) parseFlat() error {
	t := f.p.next()

	switch t.Text {
	case "block", "loop":
		op := byte(opBlock)
		if t.Text == "loop" {
			op = opLoop
		}
		f.pushLabel(f.p.optName())
		bt, err := f.parseBlockType()
		if err != nil {
			return err
		}
		f.emit(op)
		f.emit(bt...)
		if err := f.parseInstrsUntil(stopEnd); err != nil {
			return err
		}
		if err := f.p.expectKeyword("end"); err != nil {
			return err
		}
		f.p.optName() // trailing label id
		f.popLabel()
		f.emit(opEnd)
		return nil

	case "if":
		f.pushLabel(f.p.optName())
		bt, err := f.parseBlockType()
		if err != nil {
			return err
		}
		f.emit(opIf)
		f.emit(bt...)
		if err := f.parseInstrsUntil(stopElseEnd); err != nil {
			return err
		}
		if t := f.p.peek(0); t.Kind == sexpr.Keyword && t.Text == "else" {
			f.p.next()
			f.p.optName()
			f.emit(opElse)
			if err := f.parseInstrsUntil(stopEnd); err != nil {
				return err
			}
		}
		if err := f.p.expectKeyword("end"); err != nil {
			return err
		}
		f.p.optName()
		f.popLabel()
		f.emit(opEnd)
		return nil

	case "else", "end", "then":
		return f.p.errf(t, "misplaced %q", t.Text)
	}

	return f.emitPlainOp(t)
}

// parseFolded parses one parenthesized instruction, emitting folded
// operand expressions before the operator itself.
func (f *funcContext) parseFolded() error {
	if _, err := f.p.expect(sexpr.LParen); err != nil {
		return err
	}
	t := f.p.next()
	if t.Kind != sexpr.Keyword {
		return f.p.errf(t, "expected instruction")
	}

	switch t.Text {
	case "block", "loop":
		op := byte(opBlock)
		if t.Text == "loop" {
			op = opLoop
		}
		f.pushLabel(f.p.optName())
		bt, err := f.parseBlockType()
		if err != nil {
			return err
		}
		f.emit(op)
		f.emit(bt...)
		if err := f.parseInstrsUntil(nil); err != nil {
			return err
		}
		f.popLabel()
		f.emit(opEnd)
		_, err = f.p.expect(sexpr.RParen)
		return err

	case "if":
		f.pushLabel(f.p.optName())
		bt, err := f.parseBlockType()
		if err != nil {
			return err
		}
		// Folded condition expressions precede the if opcode.
		for f.p.peek(0).Kind == sexpr.LParen && !f.p.atListStart("then") {
			if err := f.parseFolded(); err != nil {
				return err
			}
		}
		f.emit(opIf)
		f.emit(bt...)

		if _, err := f.p.expect(sexpr.LParen); err != nil {
			return err
		}
		if err := f.p.expectKeyword("then"); err != nil {
			return err
		}
		if err := f.parseInstrsUntil(nil); err != nil {
			return err
		}
		if _, err := f.p.expect(sexpr.RParen); err != nil {
			return err
		}

		if f.p.atListStart("else") {
			f.p.next()
			f.p.next()
			f.emit(opElse)
			if err := f.parseInstrsUntil(nil); err != nil {
				return err
			}
			if _, err := f.p.expect(sexpr.RParen); err != nil {
				return err
			}
		}
		f.popLabel()
		f.emit(opEnd)
		_, err = f.p.expect(sexpr.RParen)
		return err
	}

	// Regular folded op: immediates are read now, operand expressions
	// are emitted first, then the opcode.
	imm, err := f.parseOpImmediates(t)
	if err != nil {
		return err
	}
	for f.p.peek(0).Kind == sexpr.LParen {
		if err := f.parseFolded(); err != nil {
			return err
		}
	}
	f.body = append(f.body, imm...)
	_, err = f.p.expect(sexpr.RParen)
	return err
}

// emitPlainOp parses a flat instruction's immediates and emits it.
func (f *funcContext) emitPlainOp(t *sexpr.Token) error {
	imm, err := f.parseOpImmediates(t)
	if err != nil {
		return err
	}
	f.body = append(f.body, imm...)
	return nil
}

// parseOpImmediates returns the full encoding (opcode + immediates)
// of a non-control instruction.
func (f *funcContext) parseOpImmediates(t *sexpr.Token) ([]byte, error) {
	p := f.p

	if op, ok := plainOps[t.Text]; ok {
		// Typed select carries a result annotation.
		if t.Text == "select" && p.atListStart("result") {
			p.next()
			p.next()
			vt, err := p.parseValType()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(sexpr.RParen); err != nil {
				return nil, err
			}
			return []byte{0x1C, 0x01, byte(vt)}, nil
		}
		return []byte{op}, nil
	}

	if sub, ok := saturatingTruncOps[t.Text]; ok {
		return wasm.AppendLEB128u([]byte{opcodeFC}, uint64(sub)), nil
	}

	if mo, ok := memoryOps[t.Text]; ok {
		offset, align, err := f.parseMemArg(mo.alignLog)
		if err != nil {
			return nil, err
		}
		out := wasm.AppendLEB128u([]byte{mo.opcode}, uint64(align))
		return wasm.AppendLEB128u(out, uint64(offset)), nil
	}

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
		return []byte{0x43, byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}, nil

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

	case "local.get", "local.set", "local.tee":
		op := map[string]byte{"local.get": 0x20, "local.set": 0x21, "local.tee": 0x22}[t.Text]
		idx, err := p.parseIdx(f.locals, "local")
		if err != nil {
			return nil, err
		}
		return wasm.AppendLEB128u([]byte{op}, uint64(idx)), nil

	case "global.get", "global.set":
		op := byte(0x23)
		if t.Text == "global.set" {
			op = 0x24
		}
		idx, err := p.parseIdx(p.globals, "global")
		if err != nil {
			return nil, err
		}
		return wasm.AppendLEB128u([]byte{op}, uint64(idx)), nil

	case "call":
		idx, err := p.parseIdx(p.funcs, "function")
		if err != nil {
			return nil, err
		}
		return wasm.AppendLEB128u([]byte{0x10}, uint64(idx)), nil

	case "call_indirect":
		tableIdx := uint32(0)
		if tok := p.peek(0); tok.Kind == sexpr.Number || tok.Kind == sexpr.Name {
			idx, err := p.parseIdx(p.tables, "table")
			if err != nil {
				return nil, err
			}
			tableIdx = idx
		}
		typeIdx, err := p.parseTypeUse(nil)
		if err != nil {
			return nil, err
		}
		out := wasm.AppendLEB128u([]byte{0x11}, uint64(typeIdx))
		return wasm.AppendLEB128u(out, uint64(tableIdx)), nil

	case "br", "br_if":
		op := byte(0x0C)
		if t.Text == "br_if" {
			op = 0x0D
		}
		depth, err := f.resolveLabel(p.peek(0))
		if err != nil {
			return nil, err
		}
		p.next()
		return wasm.AppendLEB128u([]byte{op}, uint64(depth)), nil

	case "br_table":
		var depths []uint32
		for {
			tok := p.peek(0)
			if tok.Kind != sexpr.Number && tok.Kind != sexpr.Name {
				break
			}
			d, err := f.resolveLabel(tok)
			if err != nil {
				return nil, err
			}
			p.next()
			depths = append(depths, d)
		}
		if len(depths) == 0 {
			return nil, p.errf(p.peek(0), "br_table requires at least a default label")
		}
		out := wasm.AppendLEB128u([]byte{0x0E}, uint64(len(depths)-1))
		for _, d := range depths {
			out = wasm.AppendLEB128u(out, uint64(d))
		}
		return out, nil

	case "memory.size":
		return []byte{0x3F, 0x00}, nil
	case "memory.grow":
		return []byte{0x40, 0x00}, nil

	case "memory.init":
		idx, err := p.parseIdx(p.datas, "data segment")
		if err != nil {
			return nil, err
		}
		out := wasm.AppendLEB128u([]byte{opcodeFC}, 8)
		out = wasm.AppendLEB128u(out, uint64(idx))
		return append(out, 0x00), nil
	case "data.drop":
		idx, err := p.parseIdx(p.datas, "data segment")
		if err != nil {
			return nil, err
		}
		return wasm.AppendLEB128u(wasm.AppendLEB128u([]byte{opcodeFC}, 9), uint64(idx)), nil
	case "memory.copy":
		return append(wasm.AppendLEB128u([]byte{opcodeFC}, 10), 0x00, 0x00), nil
	case "memory.fill":
		return append(wasm.AppendLEB128u([]byte{opcodeFC}, 11), 0x00), nil

	case "table.get", "table.set":
		op := byte(0x25)
		if t.Text == "table.set" {
			op = 0x26
		}
		idx := uint32(0)
		if tok := p.peek(0); tok.Kind == sexpr.Number || tok.Kind == sexpr.Name {
			i, err := p.parseIdx(p.tables, "table")
			if err != nil {
				return nil, err
			}
			idx = i
		}
		return wasm.AppendLEB128u([]byte{op}, uint64(idx)), nil

	case "table.init":
		elemIdx, err := p.parseIdx(p.elems, "elem segment")
		if err != nil {
			return nil, err
		}
		out := wasm.AppendLEB128u([]byte{opcodeFC}, 12)
		out = wasm.AppendLEB128u(out, uint64(elemIdx))
		return append(out, 0x00), nil
	case "elem.drop":
		idx, err := p.parseIdx(p.elems, "elem segment")
		if err != nil {
			return nil, err
		}
		return wasm.AppendLEB128u(wasm.AppendLEB128u([]byte{opcodeFC}, 13), uint64(idx)), nil
	case "table.copy":
		return append(wasm.AppendLEB128u([]byte{opcodeFC}, 14), 0x00, 0x00), nil
	case "table.grow", "table.size", "table.fill":
		sub := map[string]uint64{"table.grow": 15, "table.size": 16, "table.fill": 17}[t.Text]
		idx := uint32(0)
		if tok := p.peek(0); tok.Kind == sexpr.Number || tok.Kind == sexpr.Name {
			i, err := p.parseIdx(p.tables, "table")
			if err != nil {
				return nil, err
			}
			idx = i
		}
		return wasm.AppendLEB128u(wasm.AppendLEB128u([]byte{opcodeFC}, sub), uint64(idx)), nil

	case "ref.null":
		ht := p.peek(0)
		heap := byte(heapFunc)
		if ht.Kind == sexpr.Keyword {
			if ht.Text == "extern" || ht.Text == "externref" {
				heap = heapExtern
			}
			p.next()
		}
		return []byte{0xD0, heap}, nil

	case "ref.func":
		idx, err := p.parseIdx(p.funcs, "function")
		if err != nil {
			return nil, err
		}
		return wasm.AppendLEB128u([]byte{0xD2}, uint64(idx)), nil
	}

	return nil, p.errf(t, "unknown instruction %q", t.Text)
}

// parseBlockType reads an optional (type idx), (param ...), or
// (result ...) annotation and returns its binary encoding.
func (f *funcContext) parseBlockType() ([]byte, error) {
	p := f.p

	// Multi-value or explicit-type blocks encode a type index as s33.
	if p.atListStart("type") || p.atListStart("param") {
		typeIdx, err := p.parseTypeUse(nil)
		if err != nil {
			return nil, err
		}
		return wasm.AppendLEB128s(nil, int64(typeIdx)), nil
	}

	if p.atListStart("result") {
		// Peek ahead: a single result encodes as its value type.
		start := p.pos
		p.next()
		p.next()
		var results []wasm.ValType
		for p.peek(0).Kind == sexpr.Keyword {
			vt, err := p.parseValType()
			if err != nil {
				return nil, err
			}
			results = append(results, vt)
		}
		if _, err := p.expect(sexpr.RParen); err != nil {
			return nil, err
		}
		if len(results) == 1 && !p.atListStart("result") {
			return []byte{byte(results[0])}, nil
		}
		// Multiple results (or several result lists): re-parse as a
		// full type use.
		p.pos = start
		typeIdx, err := p.parseTypeUse(nil)
		if err != nil {
			return nil, err
		}
		return wasm.AppendLEB128s(nil, int64(typeIdx)), nil
	}

	return []byte{blockEmpty}, nil
}

// parseMemArg reads optional offset= and align= immediates; align
// defaults to the operator's natural alignment.
func (f *funcContext) parseMemArg(naturalAlignLog uint32) (offset, alignLog uint32, err error) {
	p := f.p
	alignLog = naturalAlignLog

	for {
		t := p.peek(0)
		if t.Kind != sexpr.Keyword {
			break
		}
		switch {
		case strings.HasPrefix(t.Text, "offset="):
			v, ok := sexpr.ParseIntBits(t.Text[len("offset="):], 32)
			if !ok {
				return 0, 0, p.errf(t, "invalid offset %q", t.Text)
			}
			offset = uint32(v)
			p.next()
			continue
		case strings.HasPrefix(t.Text, "align="):
			v, ok := sexpr.ParseIntBits(t.Text[len("align="):], 32)
			if !ok || v == 0 || v&(v-1) != 0 {
				return 0, 0, p.errf(t, "invalid alignment %q", t.Text)
			}
			alignLog = 0
			for 1<<(alignLog+1) <= uint32(v) {
				alignLog++
			}
			p.next()
			continue
		}
		break
	}
	return offset, alignLog, nil
}
