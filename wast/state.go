package wast

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-sandbox/internal/sexpr"
)

// The parser has two unwind modes. ErrRecover surfaces a recoverable
// error: the error text is already recorded, and the top-level loop
// skips to the next top-level '('. ErrFatal stops parsing outright.
var (
	ErrRecover = errors.New("wast: recoverable parse error")
	ErrFatal   = errors.New("wast: fatal parse error")
)

// TextFileLocus is a resolved 1-based source position.
type TextFileLocus struct {
	Line   int
	Column int
}

func (l TextFileLocus) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// UnresolvedError is a parse error held as a byte offset until parsing
// finishes and offsets can be resolved to loci in one pass.
type UnresolvedError struct {
	Offset  int
	Message string
}

// Error is a resolved parse error.
type Error struct {
	Locus   TextFileLocus
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Locus, e.Message)
}

// ParseState owns the source string, its line table, and the deferred
// error list for one parse.
type ParseState struct {
	Source           string
	LineInfo         *sexpr.LineInfo
	UnresolvedErrors []UnresolvedError
}

// NewParseState builds a parse state over source, scanning its lines.
func NewParseState(source string) *ParseState {
	return &ParseState{Source: source, LineInfo: sexpr.ScanLines(source)}
}

// Locus resolves a byte offset against the line table.
func (s *ParseState) Locus(offset int) TextFileLocus {
	line, col := s.LineInfo.Locus(offset)
	return TextFileLocus{Line: line, Column: col}
}

// Errorf records an unresolved error at a byte offset.
func (s *ParseState) Errorf(offset int, format string, args ...any) {
	s.UnresolvedErrors = append(s.UnresolvedErrors,
		UnresolvedError{Offset: offset, Message: fmt.Sprintf(format, args...)})
}

// ResolveErrors converts the deferred error list into located errors.
func (s *ParseState) ResolveErrors() []Error {
	out := make([]Error, 0, len(s.UnresolvedErrors))
	for _, ue := range s.UnresolvedErrors {
		out = append(out, Error{Locus: s.Locus(ue.Offset), Message: ue.Message})
	}
	return out
}

// CursorState is a position in the token stream plus the parse state
// errors are recorded into. The parse state pointer is swappable: the
// assert_malformed path points the cursor at a scoped state so module
// errors do not leak to the script's error list.
type CursorState struct {
	tokens []sexpr.Token
	pos    int
	State  *ParseState
}

// NewCursor wraps a token stream. The stream must end with an EOF
// token, as produced by sexpr.Lex.
func NewCursor(tokens []sexpr.Token, state *ParseState) *CursorState {
	return &CursorState{tokens: tokens, State: state}
}

// Peek returns the token n positions ahead without consuming.
func (c *CursorState) Peek(n int) *sexpr.Token {
	i := c.pos + n
	if i >= len(c.tokens) {
		return &c.tokens[len(c.tokens)-1] // EOF
	}
	return &c.tokens[i]
}

// Next consumes and returns the current token. At EOF it keeps
// returning the EOF token.
func (c *CursorState) Next() *sexpr.Token {
	t := c.Peek(0)
	if t.Kind != sexpr.EOF {
		c.pos++
	}
	return t
}

// Errorf records an error at the given token and returns ErrRecover.
func (c *CursorState) Errorf(tok *sexpr.Token, format string, args ...any) error {
	c.State.Errorf(tok.Begin, format, args...)
	return ErrRecover
}

// Require consumes a token of the given kind or records an error.
func (c *CursorState) Require(kind sexpr.Kind) (*sexpr.Token, error) {
	t := c.Peek(0)
	if t.Kind != kind {
		return nil, c.Errorf(t, "expected %s", kind)
	}
	return c.Next(), nil
}

// RequireKeyword consumes the given keyword or records an error.
func (c *CursorState) RequireKeyword(word string) error {
	t := c.Peek(0)
	if t.Kind != sexpr.Keyword || t.Text != word {
		return c.Errorf(t, "expected '%s'", word)
	}
	c.Next()
	return nil
}

// Parenthesized parses '(' body ')'. When body fails recoverably, the
// cursor still skips past the closing parenthesis of the form so the
// caller can resynchronize.
func (c *CursorState) Parenthesized(body func() error) error {
	if _, err := c.Require(sexpr.LParen); err != nil {
		return err
	}
	if err := body(); err != nil {
		if errors.Is(err, ErrRecover) {
			c.skipToCloseParen()
		}
		return err
	}
	if _, err := c.Require(sexpr.RParen); err != nil {
		c.skipToCloseParen()
		return err
	}
	return nil
}

// skipToCloseParen advances past the RParen that closes the innermost
// open form, or to EOF.
func (c *CursorState) skipToCloseParen() {
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
				c.Next()
				return
			}
			depth--
		}
		c.Next()
	}
}

// SkipToTopLevel advances to the next top-level '(' or EOF, the
// synchronization point after a recoverable command error.
func (c *CursorState) SkipToTopLevel() {
	depth := 0
	for {
		t := c.Peek(0)
		switch t.Kind {
		case sexpr.EOF:
			return
		case sexpr.LParen:
			if depth == 0 {
				return
			}
			depth++
		case sexpr.RParen:
			if depth > 0 {
				depth--
			}
		}
		c.Next()
	}
}

// TryParseName consumes an optional $name token, returning the bare
// name without the sigil, or "".
func (c *CursorState) TryParseName() string {
	t := c.Peek(0)
	if t.Kind != sexpr.Name {
		return ""
	}
	c.Next()
	return t.Text[1:]
}

// ParseUTF8String consumes a required string literal.
func (c *CursorState) ParseUTF8String() (string, error) {
	t, err := c.Require(sexpr.String)
	if err != nil {
		return "", err
	}
	return string(t.Bytes), nil
}

// TryParseString consumes an optional string literal, appending its
// bytes to buf. Reports whether a string was consumed.
func (c *CursorState) TryParseString(buf *[]byte) bool {
	t := c.Peek(0)
	if t.Kind != sexpr.String {
		return false
	}
	c.Next()
	*buf = append(*buf, t.Bytes...)
	return true
}
