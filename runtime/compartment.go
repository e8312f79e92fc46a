package runtime

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/internal/logging"
	"github.com/wippyai/wasm-sandbox/internal/vmem"
)

// Compartment is an isolation domain. All non-function runtime objects
// belong to exactly one compartment, which owns the authoritative
// id -> object maps for each kind.
type Compartment struct {
	GCObject
	mu sync.RWMutex

	region      *vmem.Region
	runtimeData *CompartmentRuntimeData

	tables         indexMap[*Table]
	memories       indexMap[*Memory]
	globals        indexMap[*Global]
	exceptionTypes indexMap[*ExceptionType]
	instances      indexMap[*Instance]
	contexts       indexMap[*Context]
	foreigns       indexMap[*Foreign]

	globalDataAllocationMask     [MaxMutableGlobals / 64]uint64
	initialContextMutableGlobals [MaxMutableGlobals]UntaggedValue
}

// NewCompartment reserves the compartment's runtime-data region and
// commits its head through the end of the base-pointer arrays.
func NewCompartment() (*Compartment, error) {
	region, data, err := newCompartmentRuntimeData()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "reserve compartment runtime data")
	}

	c := &Compartment{
		region:         region,
		runtimeData:    data,
		tables:         newIndexMap[*Table](0, MaxTables-1),
		memories:       newIndexMap[*Memory](0, MaxMemories-1),
		globals:        newIndexMap[*Global](0, InvalidID-1),
		exceptionTypes: newIndexMap[*ExceptionType](0, InvalidID-1),
		instances:      newIndexMap[*Instance](0, InvalidID-1),
		contexts:       newIndexMap[*Context](0, MaxContexts-1),
		foreigns:       newIndexMap[*Foreign](0, InvalidID-1),
	}
	c.GCObject = GCObject{kind: KindCompartment, compartment: c}
	return c, nil
}

// RuntimeData returns the compartment's runtime-data image.
func (c *Compartment) RuntimeData() *CompartmentRuntimeData { return c.runtimeData }

// Close destroys the compartment. It fails while any owned object is
// still registered.
func (c *Compartment) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := map[string]int{
		"tables":          c.tables.size(),
		"memories":        c.memories.size(),
		"globals":         c.globals.size(),
		"exception types": c.exceptionTypes.size(),
		"instances":       c.instances.size(),
		"contexts":        c.contexts.size(),
		"foreigns":        c.foreigns.size(),
	}
	for what, n := range counts {
		if n > 0 {
			return fmt.Errorf("compartment still owns %d %s", n, what)
		}
	}

	if c.region != nil {
		if err := c.region.Release(); err != nil {
			return err
		}
		c.region = nil
		c.runtimeData = nil
	}
	return nil
}

// Lookup returns the object registered under (kind, id).
func (c *Compartment) Lookup(kind Kind, id uintptr) (Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch kind {
	case KindTable:
		v, ok := c.tables.get(id)
		return v, ok
	case KindMemory:
		v, ok := c.memories.get(id)
		return v, ok
	case KindGlobal:
		v, ok := c.globals.get(id)
		return v, ok
	case KindExceptionType:
		v, ok := c.exceptionTypes.get(id)
		return v, ok
	case KindInstance:
		v, ok := c.instances.get(id)
		return v, ok
	case KindContext:
		v, ok := c.contexts.get(id)
		return v, ok
	case KindForeign:
		v, ok := c.foreigns.get(id)
		return v, ok
	}
	return nil, false
}

func (c *Compartment) allocMutableGlobalIndex() (uint32, bool) {
	for word := range c.globalDataAllocationMask {
		free := ^c.globalDataAllocationMask[word]
		if free == 0 {
			continue
		}
		bit := uint32(0)
		for ; bit < 64; bit++ {
			if free&(1<<bit) != 0 {
				break
			}
		}
		c.globalDataAllocationMask[word] |= 1 << bit
		return uint32(word)*64 + bit, true
	}
	return 0, false
}

func (c *Compartment) freeMutableGlobalIndex(index uint32) {
	c.globalDataAllocationMask[index/64] &^= 1 << (index % 64)
}

// CloneCompartment produces an isomorphic copy of c: every table,
// memory, global, exception type, and instance reappears with the same
// ID (and, for globals, the same mutable-global slot). Contexts and
// foreigns are not cloned. The source lock is held for the duration, so
// the clone is a point-in-time snapshot.
func CloneCompartment(c *Compartment) (*Compartment, error) {
	start := time.Now()

	newC, err := NewCompartment()
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var cloneErr error

	c.tables.each(func(id uintptr, t *Table) {
		if cloneErr != nil {
			return
		}
		nt, err := cloneTable(t, newC)
		if err != nil {
			cloneErr = err
			return
		}
		if nt.id != id {
			panic("runtime: cloned table changed id")
		}
	})
	if cloneErr != nil {
		return nil, cloneErr
	}

	c.memories.each(func(id uintptr, m *Memory) {
		if cloneErr != nil {
			return
		}
		nm, err := cloneMemory(m, newC)
		if err != nil {
			cloneErr = err
			return
		}
		if nm.id != id {
			panic("runtime: cloned memory changed id")
		}
	})
	if cloneErr != nil {
		return nil, cloneErr
	}

	newC.globalDataAllocationMask = c.globalDataAllocationMask
	newC.initialContextMutableGlobals = c.initialContextMutableGlobals

	c.globals.each(func(id uintptr, g *Global) {
		ng := cloneGlobal(g, newC)
		if ng.id != id || ng.mutableGlobalIndex != g.mutableGlobalIndex {
			panic("runtime: cloned global changed identity")
		}
	})

	c.exceptionTypes.each(func(id uintptr, e *ExceptionType) {
		if cloneExceptionType(e, newC).id != id {
			panic("runtime: cloned exception type changed id")
		}
	})

	c.instances.each(func(id uintptr, inst *Instance) {
		if cloneInstance(inst, newC).id != id {
			panic("runtime: cloned instance changed id")
		}
	})

	logging.Logger().Debug("cloned compartment",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("tables", newC.tables.size()),
		zap.Int("memories", newC.memories.size()),
		zap.Int("instances", newC.instances.size()))

	return newC, nil
}

// remapLocked resolves o's counterpart in newC by kind and ID.
// Functions pass through unchanged. Kinds that are not cloned have no
// counterpart; asking for one is a bug.
func remapLocked(o Object, newC *Compartment) Object {
	if o == nil {
		return nil
	}
	switch o.ObjectKind() {
	case KindFunction:
		return o
	case KindTable:
		v, _ := newC.tables.get(o.(*Table).id)
		return v
	case KindMemory:
		v, _ := newC.memories.get(o.(*Memory).id)
		return v
	case KindGlobal:
		v, _ := newC.globals.get(o.(*Global).id)
		return v
	case KindExceptionType:
		v, _ := newC.exceptionTypes.get(o.(*ExceptionType).id)
		return v
	case KindInstance:
		v, _ := newC.instances.get(o.(*Instance).id)
		return v
	}
	panic(fmt.Sprintf("runtime: cannot remap %s into a cloned compartment", o.ObjectKind()))
}

// RemapToClonedCompartment resolves o's counterpart in a compartment
// produced by CloneCompartment. Functions remap to themselves.
func RemapToClonedCompartment(o Object, newC *Compartment) Object {
	if o == nil {
		return nil
	}
	if o.ObjectKind() == KindFunction {
		return o
	}
	newC.mu.RLock()
	defer newC.mu.RUnlock()
	return remapLocked(o, newC)
}
