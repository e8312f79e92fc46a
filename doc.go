// Package wasmsandbox is the root of a WebAssembly execution-runtime
// core: a test-script front end, a compartmentalized runtime object
// model, and a guard-region memory-op lowering for a JIT backend.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	wasm-sandbox/
//	├── wast/           Test-script parser: modules, actions, assertions
//	├── wat/            Text-format module parser
//	├── wasm/           Binary module decode/encode/validate
//	├── runtime/        Compartments, tables, memories, globals, quotas
//	├── jit/            Memory-operator lowering to backend IR
//	├── engine/         Script driver executing commands on wazero
//	├── errors/         Structured error types
//	├── cmd/wast-run/   CLI runner for .wast scripts
//	└── internal/
//	    ├── sexpr/      Shared S-expression lexer
//	    └── vmem/       Virtual address-space reserve/commit
//
// # Quick Start
//
// Parse and execute a test script:
//
//	d := engine.NewDriver(ctx)
//	defer d.Close(ctx)
//	results, errs := d.RunScript(ctx, source)
//
// Or work with the pieces directly: wast.ParseScript for the command
// list, wat.Compile for text-to-binary, runtime.NewCompartment for the
// object model, and jit.NewEmitter for lowering memory operators.
package wasmsandbox
