package wast

import (
	"strings"
	"testing"
)

func parseOK(t *testing.T, source string) []Command {
	t.Helper()
	commands, errs := ParseScript(source)
	if len(errs) > 0 {
		t.Fatalf("ParseScript(%q) errors: %v", source, errs)
	}
	return commands
}

func TestParseModuleAndAssertReturn(t *testing.T) {
	commands := parseOK(t, `
		(module (func (export "f") (result i32) i32.const 42))
		(assert_return (invoke "f") (i32.const 42))
	`)
	if len(commands) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(commands))
	}

	ac, ok := commands[0].(*ActionCommand)
	if !ok {
		t.Fatalf("command 0 is %T, want ActionCommand", commands[0])
	}
	ma, ok := ac.Action.(*ModuleAction)
	if !ok {
		t.Fatalf("command 0 action is %T, want ModuleAction", ac.Action)
	}
	if ma.Module == nil {
		t.Fatal("module action should carry the parsed module")
	}

	ar, ok := commands[1].(*AssertReturnCommand)
	if !ok {
		t.Fatalf("command 1 is %T, want AssertReturnCommand", commands[1])
	}
	if len(ar.Expected) != 1 || ar.Expected[0].Type != TypeI32 || ar.Expected[0].I32() != 42 {
		t.Errorf("expected values = %v", ar.Expected)
	}
	inv, ok := ar.Action.(*InvokeAction)
	if !ok || inv.ExportName != "f" {
		t.Errorf("assert_return action = %#v", ar.Action)
	}
}

func TestParseBinaryModule(t *testing.T) {
	commands := parseOK(t, `(module binary "\00asm\01\00\00\00")`)
	if len(commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(commands))
	}
	ma := commands[0].(*ActionCommand).Action.(*ModuleAction)
	if ma.Module == nil {
		t.Fatal("binary module should decode")
	}
	if len(ma.Module.Types) != 0 || len(ma.Module.Funcs) != 0 || len(ma.Module.Memories) != 0 {
		t.Error("empty binary module should have no sections")
	}
}

func TestParseInlineModuleForm(t *testing.T) {
	commands := parseOK(t, `(func (export "f") (result i32) (i32.const 1))`)
	if len(commands) != 1 {
		t.Fatalf("inline module form should yield 1 command, got %d", len(commands))
	}
	ma, ok := commands[0].(*ActionCommand).Action.(*ModuleAction)
	if !ok {
		t.Fatalf("inline module should wrap into a ModuleAction")
	}
	if ma.ModuleName != "" {
		t.Error("inline module has no internal name")
	}
	if ma.Module == nil || len(ma.Module.Funcs) != 1 {
		t.Error("inline module body should parse")
	}
}

func TestParseAssertTrap(t *testing.T) {
	commands := parseOK(t, `
		(module (func (export "div0") (param i32 i32) (result i32)
			(i32.div_s (local.get 0) (local.get 1))))
		(assert_trap (invoke "div0" (i32.const 1) (i32.const 0)) "integer divide by zero")
	`)
	at := commands[1].(*AssertTrapCommand)
	if at.ExpectedType != TrapIntegerDivideByZeroOrIntegerOverflow {
		t.Errorf("trap type = %v", at.ExpectedType)
	}
	inv := at.Action.(*InvokeAction)
	if len(inv.Arguments) != 2 || inv.Arguments[1].I32() != 0 {
		t.Errorf("arguments = %v", inv.Arguments)
	}
}

func TestParseAssertExhaustionSharesTrapCommand(t *testing.T) {
	commands := parseOK(t, `
		(module (func (export "f")))
		(assert_exhaustion (invoke "f") "call stack exhausted")
	`)
	at, ok := commands[1].(*AssertTrapCommand)
	if !ok {
		t.Fatalf("assert_exhaustion should parse as AssertTrapCommand, got %T", commands[1])
	}
	if at.ExpectedType != TrapStackOverflow {
		t.Errorf("trap type = %v, want stack overflow", at.ExpectedType)
	}
}

func TestUnrecognizedTrapType(t *testing.T) {
	_, errs := ParseScript(`
		(module (func (export "f")))
		(assert_trap (invoke "f") "nonsense")
	`)
	if len(errs) == 0 {
		t.Fatal("unknown trap description should be a parse error")
	}
	found := false
	for _, e := range errs {
		if strings.Contains(e.Message, "unrecognized trap type") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v", errs)
	}
}

func TestParseRegister(t *testing.T) {
	commands := parseOK(t, `
		(module $m (func (export "f")))
		(register "mod" $m)
	`)
	rc := commands[1].(*RegisterCommand)
	if rc.ModuleName != "mod" || rc.InternalName != "m" {
		t.Errorf("register = %+v", rc)
	}
}

func TestParseGetAction(t *testing.T) {
	commands := parseOK(t, `
		(module $m (global (export "g") i32 (i32.const 1)))
		(assert_return (get $m "g") (i32.const 1))
	`)
	get := commands[1].(*AssertReturnCommand).Action.(*GetAction)
	if get.ModuleName != "m" || get.ExportName != "g" {
		t.Errorf("get = %+v", get)
	}
}

func TestParseAssertReturnNaNVariants(t *testing.T) {
	tests := []struct {
		keyword string
		kind    NaNCheckKind
	}{
		{"assert_return_canonical_nan", NaNCanonical},
		{"assert_return_arithmetic_nan", NaNArithmetic},
		{"assert_return_canonical_nan_f32x4", NaNCanonicalF32x4},
		{"assert_return_arithmetic_nan_f32x4", NaNArithmeticF32x4},
		{"assert_return_canonical_nan_f64x2", NaNCanonicalF64x2},
		{"assert_return_arithmetic_nan_f64x2", NaNArithmeticF64x2},
	}
	for _, tt := range tests {
		t.Run(tt.keyword, func(t *testing.T) {
			commands := parseOK(t, `
				(module (func (export "f") (result f64) (f64.const nan)))
				(`+tt.keyword+` (invoke "f"))
			`)
			cmd := commands[1].(*AssertReturnNaNCommand)
			if cmd.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", cmd.Kind, tt.kind)
			}
		})
	}
}

func TestParseAssertReturnFunc(t *testing.T) {
	commands := parseOK(t, `
		(module (func (export "f")))
		(assert_return_func (invoke "f"))
	`)
	if _, ok := commands[1].(*AssertReturnFuncCommand); !ok {
		t.Fatalf("got %T", commands[1])
	}
}

func TestParseAssertThrows(t *testing.T) {
	commands := parseOK(t, `
		(module (func (export "f")))
		(assert_throws (invoke "f") $m "exn" (i32.const 1) (i32.const 2))
	`)
	at := commands[1].(*AssertThrowsCommand)
	if at.ExceptionModuleName != "m" || at.ExceptionExportName != "exn" {
		t.Errorf("throws = %+v", at)
	}
	if len(at.ExpectedArguments) != 2 {
		t.Errorf("expected arguments = %v", at.ExpectedArguments)
	}
}

func TestParseAssertUnlinkable(t *testing.T) {
	commands := parseOK(t, `
		(assert_unlinkable
			(module (import "a" "b" (func)))
			"unknown import")
	`)
	au := commands[0].(*AssertUnlinkableCommand)
	if au.ModuleAction == nil || au.ModuleAction.Module == nil {
		t.Fatal("assert_unlinkable should carry the module action")
	}

	// Non-module content is rejected.
	_, errs := ParseScript(`(assert_unlinkable (invoke "f") "x")`)
	if len(errs) == 0 {
		t.Error("assert_unlinkable requires a module")
	}
}

func TestParseBenchmark(t *testing.T) {
	commands := parseOK(t, `
		(module (func (export "f")))
		(benchmark "hot loop" (invoke "f" (i32.const 3)))
	`)
	bc := commands[1].(*BenchmarkCommand)
	if bc.Name != "hot loop" {
		t.Errorf("name = %q", bc.Name)
	}
	if bc.InvokeAction == nil || bc.InvokeAction.ExportName != "f" {
		t.Errorf("invoke = %+v", bc.InvokeAction)
	}

	// Anything but an invoke is rejected.
	_, errs := ParseScript(`(benchmark "x" (get "g"))`)
	if len(errs) == 0 {
		t.Error("benchmark must reject non-invoke actions")
	}
}

func TestRecoverableErrorResynchronizes(t *testing.T) {
	// The broken command is skipped; parsing continues at the next
	// top-level form.
	commands, errs := ParseScript(`
		(frobnicate 1 2 3)
		(module (func (export "f")))
		(assert_return (invoke "f"))
	`)
	if len(errs) == 0 {
		t.Fatal("unknown command should produce an error")
	}
	if len(commands) != 2 {
		t.Fatalf("parser should resynchronize and keep 2 commands, got %d", len(commands))
	}
}

func TestLocusResolution(t *testing.T) {
	commands := parseOK(t, "(module (func (export \"f\")))\n(assert_return (invoke \"f\"))")
	locus := commands[1].CommandLocus()
	if locus.Line != 2 {
		t.Errorf("second command locus line = %d, want 2", locus.Line)
	}
	if locus.Column <= 1 {
		t.Errorf("locus column = %d", locus.Column)
	}
}

func TestWellFormedScriptHasNoErrors(t *testing.T) {
	scripts := []string{
		`(module)`,
		`(module (memory 1) (func (export "f") (result i32) (i32.load (i32.const 0))))`,
		`(module $a) (module $b) (register "x" $a)`,
		`(assert_malformed (module quote "(frob)") "unknown")`,
		`(invoke "f" (i32.const 1) (f64.const 2.5))`,
	}
	for _, s := range scripts {
		if _, errs := ParseScript(s); len(errs) != 0 {
			t.Errorf("ParseScript(%q) errors: %v", s, errs)
		}
	}
}
