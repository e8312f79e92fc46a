// Package errors provides structured error types for the wasm-sandbox runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes context: a path, a detail message, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindMalformed).
//		Path("code section", "function 3").
//		Detail("unexpected end of section").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Malformed(errors.PhaseDecode, "bad magic", nil)
//	err := errors.QuotaExceeded("pages", 65536, 1024)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
