// Package wasm provides WebAssembly binary format parsing and encoding.
//
// The package decodes binary modules into a Module structure, validates
// them, and re-encodes them for handing to an execution engine. Decoding
// failures and validation failures are distinguished by Load:
//
//	m, loadErr := wasm.Load(data)
//	if loadErr != nil {
//	    switch loadErr.Type {
//	    case wasm.LoadMalformed: // header or decoding error
//	    case wasm.LoadInvalid:   // decoded but rejected by validation
//	    }
//	}
//
// Function bodies, global initializers, and segment offsets are kept as
// raw expression bytes; interpreting them is the execution engine's job.
//
// The package also provides the LEB128 utilities used throughout:
//
//	n, err := wasm.ReadLEB128u(r)   // unsigned 32-bit
//	buf = wasm.AppendLEB128s(buf, v) // signed
package wasm
