package runtime

import "sync/atomic"

// Kind identifies a runtime object's concrete type. Dispatch on runtime
// objects is by kind tag, not interface assertion, wherever the set of
// kinds is closed.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindFunction
	KindTable
	KindMemory
	KindGlobal
	KindExceptionType
	KindInstance
	KindContext
	KindCompartment
	KindForeign
)

func (k Kind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	case KindExceptionType:
		return "exception type"
	case KindInstance:
		return "instance"
	case KindContext:
		return "context"
	case KindCompartment:
		return "compartment"
	case KindForeign:
		return "foreign"
	}
	return "invalid"
}

// Object is any runtime entity: compartment-owned GC objects plus
// functions, which have no single owning compartment.
type Object interface {
	ObjectKind() Kind
}

// GCObject is the shared header of all compartment-owned runtime
// objects. Every GCObject belongs to exactly one compartment for its
// whole lifetime.
type GCObject struct {
	kind             Kind
	compartment      *Compartment
	numRootRefs      atomic.Int64
	userData         any
	finalizeUserData func(any)
}

// ObjectKind returns the object's kind tag.
func (o *GCObject) ObjectKind() Kind { return o.kind }

// Compartment returns the owning compartment.
func (o *GCObject) Compartment() *Compartment { return o.compartment }

// AddRootRef takes a strong external reference to the object.
func (o *GCObject) AddRootRef() { o.numRootRefs.Add(1) }

// RemoveRootRef drops a strong external reference. Objects with no root
// references are eligible for collection.
func (o *GCObject) RemoveRootRef() {
	if o.numRootRefs.Add(-1) < 0 {
		panic("runtime: root reference count underflow")
	}
}

// NumRootRefs returns the current root reference count.
func (o *GCObject) NumRootRefs() int64 { return o.numRootRefs.Load() }

// SetUserData attaches opaque embedder data with an optional finalizer.
// Any previous user data is finalized first.
func (o *GCObject) SetUserData(v any, finalize func(any)) {
	o.finalizeObjectUserData()
	o.userData = v
	o.finalizeUserData = finalize
}

// UserData returns the attached embedder data.
func (o *GCObject) UserData() any { return o.userData }

func (o *GCObject) finalizeObjectUserData() {
	if o.finalizeUserData != nil {
		o.finalizeUserData(o.userData)
	}
	o.userData = nil
	o.finalizeUserData = nil
}

// IsInCompartment reports whether obj belongs to compartment. A
// function may be in several compartments: it is in c when c maps the
// function's instance ID to an instance whose code module is the one
// the function was compiled into. Functions with no instance are
// considered to be in every compartment.
func IsInCompartment(obj Object, c *Compartment) bool {
	if f, ok := obj.(*Function); ok {
		if f.InstanceID == InvalidID {
			return true
		}
		c.mu.RLock()
		defer c.mu.RUnlock()
		inst, ok := c.instances.get(f.InstanceID)
		if !ok {
			return false
		}
		return inst.codeModule == f.MutableData.CodeModule
	}
	return obj.(interface{ Compartment() *Compartment }).Compartment() == c
}
