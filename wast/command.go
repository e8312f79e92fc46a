package wast

import (
	"strings"

	"github.com/wippyai/wasm-sandbox/wasm"
)

// Action is a script step that produces values or a new instance.
type Action interface {
	ActionLocus() TextFileLocus
}

// GetAction reads an exported global.
type GetAction struct {
	Locus      TextFileLocus
	ModuleName string // internal $name, "" for the last module
	ExportName string
}

// ActionLocus returns the action's source position.
func (a *GetAction) ActionLocus() TextFileLocus { return a.Locus }

// InvokeAction calls an exported function.
type InvokeAction struct {
	Locus      TextFileLocus
	ModuleName string
	ExportName string
	Arguments  []Value
}

// ActionLocus returns the action's source position.
func (a *InvokeAction) ActionLocus() TextFileLocus { return a.Locus }

// ModuleAction instantiates a module.
type ModuleAction struct {
	Locus      TextFileLocus
	ModuleName string
	Module     *wasm.Module // nil when the module failed to parse
}

// ActionLocus returns the action's source position.
func (a *ModuleAction) ActionLocus() TextFileLocus { return a.Locus }

// QuotedModuleType tells how a module appeared in the script.
type QuotedModuleType uint8

const (
	QuotedNone QuotedModuleType = iota
	QuotedText
	QuotedBinary
)

// InvalidOrMalformed classifies a rejected module: malformed modules
// fail decoding or syntax; invalid modules decode but fail validation.
type InvalidOrMalformed uint8

const (
	WellFormedAndValid InvalidOrMalformed = iota
	Invalid
	Malformed
)

func (v InvalidOrMalformed) String() string {
	switch v {
	case Invalid:
		return "invalid"
	case Malformed:
		return "malformed"
	}
	return "well-formed and valid"
}

// ExpectedTrapType is the closed taxonomy of runtime traps a script can
// assert.
type ExpectedTrapType uint8

const (
	TrapOutOfBoundsMemoryAccess ExpectedTrapType = iota
	TrapOutOfBoundsDataSegmentAccess
	TrapOutOfBoundsElemSegmentAccess
	TrapOutOfBounds
	TrapStackOverflow
	TrapIntegerDivideByZeroOrIntegerOverflow
	TrapInvalidFloatOperation
	TrapMisalignedAtomicMemoryAccess
	TrapReachedUnreachable
	TrapIndirectCallSignatureMismatch
	TrapOutOfBoundsTableAccess
	TrapUninitializedTableElement
	TrapInvalidArgument
)

func (t ExpectedTrapType) String() string {
	switch t {
	case TrapOutOfBoundsMemoryAccess:
		return "out of bounds memory access"
	case TrapOutOfBoundsDataSegmentAccess:
		return "out of bounds data segment access"
	case TrapOutOfBoundsElemSegmentAccess:
		return "out of bounds elem segment access"
	case TrapOutOfBounds:
		return "out of bounds"
	case TrapStackOverflow:
		return "stack overflow"
	case TrapIntegerDivideByZeroOrIntegerOverflow:
		return "integer divide by zero or integer overflow"
	case TrapInvalidFloatOperation:
		return "invalid float operation"
	case TrapMisalignedAtomicMemoryAccess:
		return "misaligned atomic memory access"
	case TrapReachedUnreachable:
		return "reached unreachable"
	case TrapIndirectCallSignatureMismatch:
		return "indirect call signature mismatch"
	case TrapOutOfBoundsTableAccess:
		return "out of bounds table access"
	case TrapUninitializedTableElement:
		return "uninitialized table element"
	case TrapInvalidArgument:
		return "invalid argument"
	}
	return "unknown trap"
}

// TrapTypeForDescription maps a script's free-form expected-error
// string onto the trap taxonomy. Rules are ordered; the first match
// wins.
func TrapTypeForDescription(desc string) (ExpectedTrapType, bool) {
	switch {
	case desc == "out of bounds memory access":
		return TrapOutOfBoundsMemoryAccess, true
	case strings.HasPrefix(desc, "out of bounds data segment access"):
		return TrapOutOfBoundsDataSegmentAccess, true
	case strings.HasPrefix(desc, "out of bounds elem segment access"):
		return TrapOutOfBoundsElemSegmentAccess, true
	case strings.HasPrefix(desc, "out of bounds"):
		return TrapOutOfBounds, true
	case desc == "call stack exhausted":
		return TrapStackOverflow, true
	case desc == "integer overflow":
		return TrapIntegerDivideByZeroOrIntegerOverflow, true
	case desc == "integer divide by zero":
		return TrapIntegerDivideByZeroOrIntegerOverflow, true
	case desc == "invalid conversion to integer":
		return TrapInvalidFloatOperation, true
	case desc == "unaligned atomic":
		return TrapMisalignedAtomicMemoryAccess, true
	case strings.HasPrefix(desc, "unreachable"):
		return TrapReachedUnreachable, true
	case strings.HasPrefix(desc, "indirect call"):
		return TrapIndirectCallSignatureMismatch, true
	case strings.HasPrefix(desc, "undefined"):
		return TrapOutOfBoundsTableAccess, true
	case strings.HasPrefix(desc, "uninitialized"):
		return TrapUninitializedTableElement, true
	case strings.HasPrefix(desc, "invalid argument"):
		return TrapInvalidArgument, true
	case desc == "element segment dropped":
		return TrapInvalidArgument, true
	case desc == "data segment dropped":
		return TrapInvalidArgument, true
	}
	return 0, false
}

// NaNCheckKind selects which NaN family an assert_return_*_nan command
// checks, and over which shape.
type NaNCheckKind uint8

const (
	NaNCanonical NaNCheckKind = iota
	NaNArithmetic
	NaNCanonicalF32x4
	NaNArithmeticF32x4
	NaNCanonicalF64x2
	NaNArithmeticF64x2
)

// Command is one declarative step of a parsed test script.
type Command interface {
	CommandLocus() TextFileLocus
}

// ActionCommand runs an action for its side effects.
type ActionCommand struct {
	Locus  TextFileLocus
	Action Action
}

// CommandLocus returns the command's source position.
func (c *ActionCommand) CommandLocus() TextFileLocus { return c.Locus }

// RegisterCommand makes a module's exports importable under a name.
type RegisterCommand struct {
	Locus        TextFileLocus
	ModuleName   string // the name imports resolve against
	InternalName string // $name of the module being registered, "" = last
}

// CommandLocus returns the command's source position.
func (c *RegisterCommand) CommandLocus() TextFileLocus { return c.Locus }

// AssertReturnCommand checks an action's results.
type AssertReturnCommand struct {
	Locus    TextFileLocus
	Action   Action
	Expected []Value
}

// CommandLocus returns the command's source position.
func (c *AssertReturnCommand) CommandLocus() TextFileLocus { return c.Locus }

// AssertReturnNaNCommand checks that an action returns NaN of the
// requested family.
type AssertReturnNaNCommand struct {
	Locus  TextFileLocus
	Kind   NaNCheckKind
	Action Action
}

// CommandLocus returns the command's source position.
func (c *AssertReturnNaNCommand) CommandLocus() TextFileLocus { return c.Locus }

// AssertReturnFuncCommand checks that an action returns some function.
type AssertReturnFuncCommand struct {
	Locus  TextFileLocus
	Action Action
}

// CommandLocus returns the command's source position.
func (c *AssertReturnFuncCommand) CommandLocus() TextFileLocus { return c.Locus }

// AssertTrapCommand checks that an action traps. assert_exhaustion
// shares this command with its trap type set to stack overflow.
type AssertTrapCommand struct {
	Locus        TextFileLocus
	Action       Action
	ExpectedType ExpectedTrapType
}

// CommandLocus returns the command's source position.
func (c *AssertTrapCommand) CommandLocus() TextFileLocus { return c.Locus }

// AssertThrowsCommand checks that an action throws a specific
// exception with specific arguments.
type AssertThrowsCommand struct {
	Locus               TextFileLocus
	Action              Action
	ExceptionModuleName string
	ExceptionExportName string
	ExpectedArguments   []Value
}

// CommandLocus returns the command's source position.
func (c *AssertThrowsCommand) CommandLocus() TextFileLocus { return c.Locus }

// AssertUnlinkableCommand checks that instantiating a module fails at
// link time. The expected-message string is parsed and required but not
// retained.
type AssertUnlinkableCommand struct {
	Locus        TextFileLocus
	ModuleAction *ModuleAction
}

// CommandLocus returns the command's source position.
func (c *AssertUnlinkableCommand) CommandLocus() TextFileLocus { return c.Locus }

// AssertInvalidOrMalformedCommand carries the expected and actual
// classification of a deliberately broken module, plus its quoted text
// so drivers can report it.
type AssertInvalidOrMalformedCommand struct {
	Locus      TextFileLocus
	Expected   InvalidOrMalformed // Invalid or Malformed, per the command keyword
	Actual     InvalidOrMalformed
	QuotedKind QuotedModuleType
	QuotedText string
}

// CommandLocus returns the command's source position.
func (c *AssertInvalidOrMalformedCommand) CommandLocus() TextFileLocus { return c.Locus }

// BenchmarkCommand names an invoke to be timed by the driver.
type BenchmarkCommand struct {
	Locus        TextFileLocus
	Name         string
	InvokeAction *InvokeAction
}

// CommandLocus returns the command's source position.
func (c *BenchmarkCommand) CommandLocus() TextFileLocus { return c.Locus }
