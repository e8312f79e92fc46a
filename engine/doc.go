// Package engine executes parsed test-script commands.
//
// The Driver compiles module actions with the wat/wasm pipeline,
// instantiates them on a wazero runtime, and checks assertion commands
// against actual behavior:
//
//	d := engine.NewDriver(ctx)
//	defer d.Close(ctx)
//	results, parseErrs := d.RunScript(ctx, source)
//	summary := engine.Summarize(results)
//
// Traps raised by the runtime are classified back into the script's
// trap taxonomy for assert_trap/assert_exhaustion, and
// assert_return_func verifies a non-null function-reference result
// against the export's signature. Commands the execution engine cannot
// check (exception throws, vector NaN shapes) are reported as skipped
// rather than failed.
package engine
