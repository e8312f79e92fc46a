package wat

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-sandbox/internal/sexpr"
	"github.com/wippyai/wasm-sandbox/wasm"
)

// SyntaxError is a module-text parse error at a byte offset.
type SyntaxError struct {
	Offset  int
	Message string
}

func (e *SyntaxError) Error() string { return e.Message }

// ErrorOffset extracts the byte offset from a parse error, or 0.
func ErrorOffset(err error) int {
	var se *SyntaxError
	if errors.As(err, &se) {
		return se.Offset
	}
	return 0
}

// ParseModule parses a "(module ...)" text form into a wasm.Module.
// Function bodies are emitted directly in their binary encoding.
func ParseModule(source string) (*wasm.Module, error) {
	tokens, lexErrs := sexpr.Lex(source)
	if len(lexErrs) > 0 {
		return nil, &SyntaxError{Offset: lexErrs[0].Offset, Message: lexErrs[0].Message}
	}
	p := newParser(source, tokens)
	return p.parseModule()
}

// Compile parses module text and encodes it to binary.
func Compile(source string) ([]byte, error) {
	m, err := ParseModule(source)
	if err != nil {
		return nil, err
	}
	return m.Encode(), nil
}

func (p *parser) errf(tok *sexpr.Token, format string, args ...any) error {
	return &SyntaxError{Offset: tok.Begin, Message: fmt.Sprintf(format, args...)}
}
