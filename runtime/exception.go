package runtime

import (
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/wasm"
)

// ExceptionSignature is the parameter tuple thrown with an exception.
type ExceptionSignature struct {
	Params []wasm.ValType
}

// ExceptionType is an instance of a WebAssembly exception type.
type ExceptionType struct {
	GCObject
	id        uintptr
	sig       ExceptionSignature
	debugName string
}

// NewExceptionType creates an exception type in compartment c.
func NewExceptionType(c *Compartment, sig ExceptionSignature, debugName string) (*ExceptionType, error) {
	e := &ExceptionType{
		GCObject:  GCObject{kind: KindExceptionType, compartment: c},
		sig:       sig,
		debugName: debugName,
	}

	c.mu.Lock()
	e.id = c.exceptionTypes.add(e)
	c.mu.Unlock()
	if e.id == InvalidID {
		return nil, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Detail("exception type index space exhausted").Build()
	}
	return e, nil
}

// ID returns the exception type's compartment-scoped ID.
func (e *ExceptionType) ID() uintptr { return e.id }

// Signature returns the thrown parameter tuple.
func (e *ExceptionType) Signature() ExceptionSignature { return e.sig }

// DebugName returns the exception type's debug name.
func (e *ExceptionType) DebugName() string { return e.debugName }

// Destroy removes the exception type from its compartment.
func (e *ExceptionType) Destroy() {
	c := e.compartment
	c.mu.Lock()
	if e.id != InvalidID {
		c.exceptionTypes.remove(e.id)
	}
	c.mu.Unlock()
	e.finalizeObjectUserData()
	e.id = InvalidID
}

func cloneExceptionType(e *ExceptionType, newC *Compartment) *ExceptionType {
	n := &ExceptionType{
		GCObject:  GCObject{kind: KindExceptionType, compartment: newC},
		sig:       ExceptionSignature{Params: append([]wasm.ValType(nil), e.sig.Params...)},
		debugName: e.debugName,
	}
	newC.mu.Lock()
	n.id = newC.exceptionTypes.add(n)
	newC.mu.Unlock()
	return n
}
