// Package wast parses WebAssembly test scripts: a sequence of module
// definitions, actions, and assertion commands in the parenthesized
// text form.
//
// # Commands
//
// ParseScript turns a script into declarative Command values without
// executing anything:
//
//	commands, errs := wast.ParseScript(source)
//
// A script is either a command sequence or a bare module body (an
// inline module), which parses into a single module ActionCommand.
// Errors are collected with resolved line/column loci; a recoverable
// error skips to the next top-level '(' and parsing continues.
//
// # Trap taxonomy
//
// assert_trap and assert_exhaustion carry free-form description
// strings; TrapTypeForDescription maps them onto the closed
// ExpectedTrapType set with ordered first-match-wins rules.
//
// # Broken-module classification
//
// assert_invalid and assert_malformed parse their module under a
// scoped parse state so its errors never reach the script's error
// list. The module is malformed when any recorded error is not a
// validation error, invalid when only validation errors were
// recorded, and well-formed otherwise.
//
// # Host references
//
// (ref.host N) produces a synthetic function interned process-wide:
// equal N always yields the pointer-identical runtime.Function, so
// drivers can compare funcref results by identity.
//
// Module bodies are delegated to a ModuleParser; the default uses the
// wat text parser and the wasm binary decoder.
package wast
