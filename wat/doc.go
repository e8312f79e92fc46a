// Package wat parses the WebAssembly text format into wasm.Module
// structures, emitting function bodies directly in their binary
// encoding.
//
// Basic usage:
//
//	binary, err := wat.Compile(`(module
//		(func (export "add") (param i32 i32) (result i32)
//			(i32.add (local.get 0) (local.get 1)))
//	)`)
//
// Supported grammar:
//   - Functions with params, results, locals (named and indexed),
//     inline imports and exports
//   - Control flow: block/loop/if in flat and folded form, br, br_if,
//     br_table, return, call, call_indirect
//   - Integer, float, conversion, and comparison operators
//   - Memory: load/store with offset=/align=, memory.size/grow
//   - Bulk memory: memory.copy, memory.fill, memory.init, data.drop,
//     table.init/copy/grow/size/fill, elem.drop
//   - Reference types: funcref, externref, ref.null, ref.func,
//     ref.is_null
//   - Table, memory, global declarations with the usual abbreviations
//   - Data and elem segments (active, passive, declarative)
//   - Forward references: fields may reference entities defined later
//
// Not supported: SIMD instruction mnemonics, threads/atomics mnemonics,
// exception handling. Modules using those arrive in binary form.
package wat
