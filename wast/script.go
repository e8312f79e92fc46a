package wast

import (
	"errors"

	"github.com/wippyai/wasm-sandbox/internal/sexpr"
)

type parser struct {
	c       *CursorState
	modules ModuleParser
}

// ParseScript parses a test script into its command list using the
// default module parser. The returned error list is empty for any
// well-formed script.
func ParseScript(source string) ([]Command, []Error) {
	return ParseScriptWithModuleParser(source, DefaultModuleParser)
}

// ParseScriptWithModuleParser parses a test script, delegating module
// bodies to mp. The input is either a bare module body (an inline
// module) or a sequence of top-level commands.
func ParseScriptWithModuleParser(source string, mp ModuleParser) ([]Command, []Error) {
	tokens, lexErrs := sexpr.Lex(source)
	state := NewParseState(source)
	for _, le := range lexErrs {
		state.Errorf(le.Offset, "%s", le.Message)
	}

	c := NewCursor(tokens, state)
	p := &parser{c: c, modules: mp}

	var commands []Command

	if c.Peek(0).Kind == sexpr.LParen && isModuleBodyKeyword(c.Peek(1)) {
		// The whole input is the body of a single implicit (module).
		locus := state.Locus(c.Peek(0).Begin)
		start := c.Peek(0).Begin

		m, errs := mp.ParseText(source[start:])
		for _, e := range errs {
			state.Errorf(start+e.Offset, "%s", e.Message)
		}
		commands = append(commands, &ActionCommand{
			Locus:  locus,
			Action: &ModuleAction{Locus: locus, ModuleName: "", Module: m},
		})

		for c.Peek(0).Kind != sexpr.EOF {
			c.Next()
		}
	} else {
		for c.Peek(0).Kind == sexpr.LParen {
			cmd, err := p.parseCommand()
			if err != nil {
				if errors.Is(err, ErrFatal) {
					return commands, state.ResolveErrors()
				}
				// Recoverable: resynchronize at the next top-level '('.
				c.SkipToTopLevel()
				continue
			}
			commands = append(commands, cmd)
		}
		if c.Peek(0).Kind != sexpr.EOF {
			state.Errorf(c.Peek(0).Begin, "expected command or end of input")
		}
	}

	return commands, state.ResolveErrors()
}

// parseAction parses one (get ...), (invoke ...), or (module ...) form.
func (p *parser) parseAction() (Action, error) {
	c := p.c
	var result Action

	err := c.Parenthesized(func() error {
		locus := c.State.Locus(c.Peek(0).Begin)

		t := c.Peek(0)
		if t.Kind != sexpr.Keyword {
			return c.Errorf(t, "expected 'get' or 'invoke'")
		}
		switch t.Text {
		case "get":
			c.Next()
			name := c.TryParseName()
			export, err := c.ParseUTF8String()
			if err != nil {
				return err
			}
			result = &GetAction{Locus: locus, ModuleName: name, ExportName: export}

		case "invoke":
			c.Next()
			name := c.TryParseName()
			export, err := c.ParseUTF8String()
			if err != nil {
				return err
			}
			args, err := parseConstExpressionTuple(c)
			if err != nil {
				return err
			}
			result = &InvokeAction{Locus: locus, ModuleName: name, ExportName: export, Arguments: args}

		case "module":
			c.Next()
			m, name, _, _, err := p.parseTestScriptModule()
			if err != nil {
				return err
			}
			result = &ModuleAction{Locus: locus, ModuleName: name, Module: m}

		default:
			return c.Errorf(t, "expected 'get' or 'invoke'")
		}
		return nil
	})

	return result, err
}

var nanCommandKinds = map[string]NaNCheckKind{
	"assert_return_canonical_nan":        NaNCanonical,
	"assert_return_arithmetic_nan":       NaNArithmetic,
	"assert_return_canonical_nan_f32x4":  NaNCanonicalF32x4,
	"assert_return_arithmetic_nan_f32x4": NaNArithmeticF32x4,
	"assert_return_canonical_nan_f64x2":  NaNCanonicalF64x2,
	"assert_return_arithmetic_nan_f64x2": NaNArithmeticF64x2,
}

// parseCommand parses one top-level command form.
func (p *parser) parseCommand() (Command, error) {
	c := p.c

	// (module ...), (invoke ...), and (get ...) at the top level are
	// actions wrapped in an ActionCommand.
	if c.Peek(0).Kind == sexpr.LParen && c.Peek(1).Kind == sexpr.Keyword {
		switch c.Peek(1).Text {
		case "module", "invoke", "get":
			action, err := p.parseAction()
			if err != nil {
				return nil, err
			}
			return &ActionCommand{Locus: action.ActionLocus(), Action: action}, nil
		}
	}

	var result Command
	err := c.Parenthesized(func() error {
		locus := c.State.Locus(c.Peek(0).Begin)

		t := c.Peek(0)
		if t.Kind != sexpr.Keyword {
			return c.Errorf(t, "unknown script command")
		}

		if kind, ok := nanCommandKinds[t.Text]; ok {
			c.Next()
			action, err := p.parseAction()
			if err != nil {
				return err
			}
			result = &AssertReturnNaNCommand{Locus: locus, Kind: kind, Action: action}
			return nil
		}

		switch t.Text {
		case "register":
			c.Next()
			moduleName, err := c.ParseUTF8String()
			if err != nil {
				return err
			}
			internal := c.TryParseName()
			result = &RegisterCommand{Locus: locus, ModuleName: moduleName, InternalName: internal}

		case "assert_return":
			c.Next()
			action, err := p.parseAction()
			if err != nil {
				return err
			}
			expected, err := parseConstExpressionTuple(c)
			if err != nil {
				return err
			}
			result = &AssertReturnCommand{Locus: locus, Action: action, Expected: expected}

		case "assert_return_func":
			c.Next()
			action, err := p.parseAction()
			if err != nil {
				return err
			}
			result = &AssertReturnFuncCommand{Locus: locus, Action: action}

		case "assert_trap", "assert_exhaustion":
			c.Next()
			action, err := p.parseAction()
			if err != nil {
				return err
			}

			errTok := c.Peek(0)
			var buf []byte
			if !c.TryParseString(&buf) {
				return c.Errorf(errTok, "expected string literal")
			}
			trapType, ok := TrapTypeForDescription(string(buf))
			if !ok {
				return c.Errorf(errTok, "unrecognized trap type")
			}
			result = &AssertTrapCommand{Locus: locus, Action: action, ExpectedType: trapType}

		case "assert_throws":
			c.Next()
			action, err := p.parseAction()
			if err != nil {
				return err
			}
			excModule := c.TryParseName()
			excExport, err := c.ParseUTF8String()
			if err != nil {
				return err
			}
			args, err := parseConstExpressionTuple(c)
			if err != nil {
				return err
			}
			result = &AssertThrowsCommand{
				Locus:               locus,
				Action:              action,
				ExceptionModuleName: excModule,
				ExceptionExportName: excExport,
				ExpectedArguments:   args,
			}

		case "assert_unlinkable":
			c.Next()
			if c.Peek(0).Kind != sexpr.LParen || c.Peek(1).Kind != sexpr.Keyword || c.Peek(1).Text != "module" {
				return c.Errorf(c.Peek(0), "expected module")
			}
			action, err := p.parseAction()
			if err != nil {
				return err
			}
			// The expected message is required but not retained.
			var discard []byte
			if !c.TryParseString(&discard) {
				return c.Errorf(c.Peek(0), "expected string literal")
			}
			result = &AssertUnlinkableCommand{Locus: locus, ModuleAction: action.(*ModuleAction)}

		case "assert_invalid", "assert_malformed":
			expected := Invalid
			if t.Text == "assert_malformed" {
				expected = Malformed
			}
			c.Next()

			cmd, err := p.parseAssertInvalidOrMalformed(locus, expected)
			if err != nil {
				return err
			}
			result = cmd

		case "benchmark":
			c.Next()
			var nameBuf []byte
			if !c.TryParseString(&nameBuf) {
				return c.Errorf(c.Peek(0), "expected benchmark name string")
			}
			if c.Peek(0).Kind != sexpr.LParen || c.Peek(1).Kind != sexpr.Keyword || c.Peek(1).Text != "invoke" {
				return c.Errorf(c.Peek(0), "expected invoke")
			}
			action, err := p.parseAction()
			if err != nil {
				return err
			}
			result = &BenchmarkCommand{Locus: locus, Name: string(nameBuf), InvokeAction: action.(*InvokeAction)}

		default:
			return c.Errorf(t, "unknown script command")
		}
		return nil
	})

	return result, err
}

// parseAssertInvalidOrMalformed parses the module inside an
// assert_invalid/assert_malformed form into a scoped parse state, so
// the intentionally broken module's errors never reach the script's
// error list, then classifies them: any error whose message does not
// start with "validation error" makes the module malformed; otherwise
// any error at all makes it invalid.
func (p *parser) parseAssertInvalidOrMalformed(locus TextFileLocus, expected InvalidOrMalformed) (Command, error) {
	c := p.c

	var quotedKind QuotedModuleType
	var quotedText string

	outer := c.State
	scoped := &ParseState{Source: outer.Source, LineInfo: outer.LineInfo}
	c.State = scoped

	parseErr := c.Parenthesized(func() error {
		if err := c.RequireKeyword("module"); err != nil {
			return err
		}
		var err error
		_, _, quotedKind, quotedText, err = p.parseTestScriptModule()
		return err
	})

	// Restore the outer parse state on every exit path.
	c.State = outer
	if parseErr != nil {
		return nil, parseErr
	}

	// The expected message is required; its content is not used for
	// classification.
	var discard []byte
	if !c.TryParseString(&discard) {
		return nil, c.Errorf(c.Peek(0), "expected string literal")
	}

	actual := WellFormedAndValid
	for _, ue := range scoped.UnresolvedErrors {
		if len(ue.Message) >= len("validation error") && ue.Message[:len("validation error")] == "validation error" {
			actual = Invalid
		} else {
			actual = Malformed
			break
		}
	}

	return &AssertInvalidOrMalformedCommand{
		Locus:      locus,
		Expected:   expected,
		Actual:     actual,
		QuotedKind: quotedKind,
		QuotedText: quotedText,
	}, nil
}
