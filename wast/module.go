package wast

import (
	"github.com/wippyai/wasm-sandbox/internal/sexpr"
	"github.com/wippyai/wasm-sandbox/wasm"
	"github.com/wippyai/wasm-sandbox/wat"
)

// ModuleError is an error from the module parser, offset-relative to
// the module text it was given.
type ModuleError struct {
	Offset  int
	Message string
}

// ModuleParser is the script parser's view of the module grammar. Text
// modules may be a full "(module ...)" form or bare module fields.
// Validation failures must produce messages prefixed "validation
// error"; everything else is treated as malformed.
type ModuleParser interface {
	ParseText(source string) (*wasm.Module, []ModuleError)
	ParseBinary(data []byte) (*wasm.Module, *wasm.LoadError)
}

// DefaultModuleParser parses module text with the wat package and
// binaries with the wasm package.
var DefaultModuleParser ModuleParser = watModuleParser{}

type watModuleParser struct{}

func (watModuleParser) ParseText(source string) (*wasm.Module, []ModuleError) {
	text := source
	if !isModuleForm(text) {
		text = "(module " + text + ")"
	}

	m, err := wat.ParseModule(text)
	if err != nil {
		return nil, []ModuleError{{Offset: wat.ErrorOffset(err), Message: err.Error()}}
	}
	if verr := m.Validate(); verr != nil {
		return m, []ModuleError{{Message: "validation error: " + verr.Error()}}
	}
	return m, nil
}

func (watModuleParser) ParseBinary(data []byte) (*wasm.Module, *wasm.LoadError) {
	return wasm.Load(data)
}

// isModuleForm reports whether text already reads "(module ...".
func isModuleForm(text string) bool {
	tokens, _ := sexpr.Lex(text)
	return len(tokens) >= 2 &&
		tokens[0].Kind == sexpr.LParen &&
		tokens[1].Kind == sexpr.Keyword && tokens[1].Text == "module"
}

// parseTestScriptModule parses the remainder of a "(module ..." form:
// an optional $name followed by either a quoted text module, a quoted
// binary module, or an inline module body. It returns the parsed
// module (nil on failure), the internal name, how the module was
// quoted, and the verbatim module text or binary bytes.
func (p *parser) parseTestScriptModule() (*wasm.Module, string, QuotedModuleType, string, error) {
	c := p.c
	name := c.TryParseName()

	t := c.Peek(0)
	if t.Kind == sexpr.Keyword && (t.Text == "quote" || t.Text == "binary") {
		quoteTok := t
		c.Next()

		var buf []byte
		if !c.TryParseString(&buf) {
			c.State.Errorf(c.Peek(0).Begin, "expected string")
		} else {
			for c.TryParseString(&buf) {
			}
		}

		if quoteTok.Text == "quote" {
			quoted := string(buf)
			m, errs := p.modules.ParseText(quoted)
			// Forward the quoted module's errors under the outer locus.
			for _, e := range errs {
				c.State.Errorf(quoteTok.Begin, "%s", e.Message)
			}
			return m, name, QuotedText, quoted, nil
		}

		m, loadErr := p.modules.ParseBinary(buf)
		if loadErr != nil {
			switch loadErr.Type {
			case wasm.LoadMalformed:
				c.State.Errorf(quoteTok.Begin, "error deserializing binary module: %s", loadErr.Message)
			case wasm.LoadInvalid:
				c.State.Errorf(quoteTok.Begin, "validation error: %s", loadErr.Message)
			}
		}
		return m, name, QuotedBinary, string(buf), nil
	}

	// Inline body: slice the verbatim source between the current token
	// and the module form's closing parenthesis, then hand the text to
	// the module parser.
	start := c.Peek(0).Begin
	c.skipModuleBody()
	end := c.Peek(0).Begin
	quoted := c.State.Source[start:end]

	m, errs := p.modules.ParseText(quoted)
	for _, e := range errs {
		c.State.Errorf(start+e.Offset, "%s", e.Message)
	}
	return m, name, QuotedText, quoted, nil
}

// skipModuleBody advances to (but not past) the RParen closing the
// form the cursor is inside.
func (c *CursorState) skipModuleBody() {
	depth := 0
	for {
		t := c.Peek(0)
		switch t.Kind {
		case sexpr.EOF:
			return
		case sexpr.LParen:
			depth++
		case sexpr.RParen:
			if depth == 0 {
				return
			}
			depth--
		}
		c.Next()
	}
}

// moduleBodyKeywords are the field keywords that mark an input as an
// inline module body rather than a command sequence.
var moduleBodyKeywords = map[string]bool{
	"import": true, "export": true, "exception_type": true,
	"global": true, "memory": true, "table": true, "type": true,
	"data": true, "elem": true, "func": true, "start": true,
}

func isModuleBodyKeyword(t *sexpr.Token) bool {
	return t.Kind == sexpr.Keyword && moduleBodyKeywords[t.Text]
}
