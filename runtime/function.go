package runtime

import "github.com/wippyai/wasm-sandbox/wasm"

// CodeModule is a compiled module: the decoded IR plus the code the
// backend produced for it. Instances compiled from the same module
// share one CodeModule.
type CodeModule struct {
	IR         *wasm.Module
	ObjectCode []byte
}

// FunctionMutableData is the mutable half of a function. Function and
// FunctionMutableData reference each other; the cycle is broken by
// co-creating and co-destroying both from a single owner (the instance,
// or the host-ref interning table), so neither holds an owning
// reference to the other.
type FunctionMutableData struct {
	DebugName  string
	CodeModule *CodeModule
	Function   *Function
}

// Function is a callable Wasm or host function. Unlike other runtime
// objects it is not owned by a compartment: membership is computed from
// the instance ID and code module (see IsInCompartment). A function
// with InstanceID == InvalidID belongs to every compartment.
type Function struct {
	MutableData *FunctionMutableData
	InstanceID  uintptr
	EncodedType uintptr
}

// NewFunction co-creates a function and its mutable data.
func NewFunction(debugName string, instanceID, encodedType uintptr, code *CodeModule) *Function {
	md := &FunctionMutableData{DebugName: debugName, CodeModule: code}
	f := &Function{MutableData: md, InstanceID: instanceID, EncodedType: encodedType}
	md.Function = f
	return f
}

// ObjectKind returns KindFunction.
func (f *Function) ObjectKind() Kind { return KindFunction }

// DebugName returns the function's debug name.
func (f *Function) DebugName() string { return f.MutableData.DebugName }
