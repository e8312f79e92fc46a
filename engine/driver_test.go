package engine

import (
	"context"
	"testing"

	"github.com/wippyai/wasm-sandbox/wast"
)

func runScript(t *testing.T, source string) []Result {
	t.Helper()
	ctx := context.Background()
	d := NewDriver(ctx)
	defer d.Close(ctx)

	results, errs := d.RunScript(ctx, source)
	if len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	return results
}

func requireAllPass(t *testing.T, results []Result) {
	t.Helper()
	for i, r := range results {
		if r.Skipped {
			continue
		}
		if r.Err != nil {
			t.Errorf("command %d at %s failed: %v", i, r.Command.CommandLocus(), r.Err)
		}
	}
}

func TestDriverAssertReturn(t *testing.T) {
	results := runScript(t, `
		(module
			(func (export "add") (param i32 i32) (result i32)
				(i32.add (local.get 0) (local.get 1))))
		(assert_return (invoke "add" (i32.const 2) (i32.const 40)) (i32.const 42))
		(assert_return (invoke "add" (i32.const -1) (i32.const 1)) (i32.const 0))
	`)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	requireAllPass(t, results)
}

func TestDriverAssertTrap(t *testing.T) {
	results := runScript(t, `
		(module
			(func (export "div") (param i32 i32) (result i32)
				(i32.div_s (local.get 0) (local.get 1)))
			(func (export "boom") unreachable))
		(assert_trap (invoke "div" (i32.const 1) (i32.const 0)) "integer divide by zero")
		(assert_trap (invoke "boom") "unreachable executed")
	`)
	requireAllPass(t, results)
}

func TestDriverTrapMismatchFails(t *testing.T) {
	results := runScript(t, `
		(module (func (export "boom") unreachable))
		(assert_trap (invoke "boom") "integer divide by zero")
	`)
	if results[1].Err == nil {
		t.Fatal("mismatched trap type should fail")
	}
}

func TestDriverMemoryScript(t *testing.T) {
	results := runScript(t, `
		(module
			(memory (export "mem") 1)
			(data (i32.const 8) "\2a")
			(func (export "peek") (param i32) (result i32)
				(i32.load8_u (local.get 0))))
		(assert_return (invoke "peek" (i32.const 8)) (i32.const 42))
		(assert_trap (invoke "peek" (i32.const 100000)) "out of bounds memory access")
	`)
	requireAllPass(t, results)
}

func TestDriverGetGlobal(t *testing.T) {
	results := runScript(t, `
		(module (global (export "g") i32 (i32.const 7)))
		(assert_return (get "g") (i32.const 7))
	`)
	requireAllPass(t, results)
}

func TestDriverNamedModules(t *testing.T) {
	results := runScript(t, `
		(module $a (func (export "one") (result i32) (i32.const 1)))
		(module $b (func (export "two") (result i32) (i32.const 2)))
		(assert_return (invoke $a "one") (i32.const 1))
		(assert_return (invoke $b "two") (i32.const 2))
		(assert_return (invoke "two") (i32.const 2))
	`)
	requireAllPass(t, results)
}

func TestDriverRegisterAndImport(t *testing.T) {
	results := runScript(t, `
		(module $exporter (func (export "answer") (result i32) (i32.const 42)))
		(register "env" $exporter)
		(module
			(import "env" "answer" (func $answer (result i32)))
			(func (export "relay") (result i32) (call $answer)))
		(assert_return (invoke "relay") (i32.const 42))
	`)
	requireAllPass(t, results)
}

func TestDriverAssertInvalidAndMalformed(t *testing.T) {
	results := runScript(t, `
		(assert_malformed (module quote "(widget)") "unknown field")
		(assert_invalid (module (func (export "x") (result i32) (i32.const 0))
			(export "x" (func 0)))
			"duplicate export")
	`)
	requireAllPass(t, results)
}

func TestDriverAssertUnlinkable(t *testing.T) {
	results := runScript(t, `
		(assert_unlinkable
			(module (import "missing" "f" (func)))
			"unknown import")
	`)
	requireAllPass(t, results)
}

func TestDriverAssertReturnFunc(t *testing.T) {
	results := runScript(t, `
		(module
			(func $f)
			(elem declare func $f)
			(func (export "get") (result funcref) (ref.func $f))
			(func (export "null") (result funcref) (ref.null func)))
		(assert_return_func (invoke "get"))
		(assert_return_func (invoke "null"))
	`)
	if results[1].Skipped || results[1].Err != nil {
		t.Errorf("non-null funcref result should pass: skipped=%v err=%v",
			results[1].Skipped, results[1].Err)
	}
	if results[2].Err == nil {
		t.Error("null funcref result should fail assert_return_func")
	}
}

func TestDriverAssertReturnFuncRejectsScalars(t *testing.T) {
	results := runScript(t, `
		(module (func (export "f") (result i32) (i32.const 1)))
		(assert_return_func (invoke "f"))
	`)
	if results[1].Err == nil {
		t.Error("scalar-returning function should fail assert_return_func")
	}
}

func TestDriverBenchmark(t *testing.T) {
	results := runScript(t, `
		(module (func (export "spin") (result i32) (i32.const 0)))
		(benchmark "spin" (invoke "spin"))
	`)
	requireAllPass(t, results)
	bench := results[1]
	if _, ok := bench.Command.(*wast.BenchmarkCommand); !ok {
		t.Fatalf("expected benchmark command, got %T", bench.Command)
	}
	if bench.Duration <= 0 {
		t.Error("benchmark should record a duration")
	}
}

func TestDriverExhaustion(t *testing.T) {
	results := runScript(t, `
		(module (func $f (export "loop") (result i32) (call $f)))
		(assert_exhaustion (invoke "loop") "call stack exhausted")
	`)
	requireAllPass(t, results)
}

func TestSummarize(t *testing.T) {
	results := runScript(t, `
		(module (func (export "f") (result i32) (i32.const 1)))
		(assert_return (invoke "f") (i32.const 1))
		(assert_return (invoke "f") (i32.const 2))
	`)
	s := Summarize(results)
	if s.Passed != 2 || s.Failed != 1 || s.Skipped != 0 {
		t.Errorf("summary = %+v, want 2 passed, 1 failed", s)
	}
}
