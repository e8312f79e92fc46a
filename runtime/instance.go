package runtime

import (
	"sync"

	"github.com/wippyai/wasm-sandbox/errors"
)

// Instance is a realized module: its own view of tables, memories,
// globals, and exception types, plus a reference to the compiled code
// module it runs.
type Instance struct {
	GCObject
	id        uintptr
	debugName string

	exportMap map[string]Object
	exports   []Object

	functions      []*Function
	tables         []*Table
	memories       []*Memory
	globals        []*Global
	exceptionTypes []*ExceptionType

	startFunction *Function

	dataSegmentsMu sync.RWMutex
	dataSegments   [][]byte // nil entry = dropped

	elemSegmentsMu sync.RWMutex
	elemSegments   [][]*Function // nil entry = dropped

	codeModule *CodeModule

	quota *ResourceQuota
}

// InstanceConfig carries everything needed to register an instance.
type InstanceConfig struct {
	DebugName      string
	ExportMap      map[string]Object
	Exports        []Object
	Functions      []*Function
	Tables         []*Table
	Memories       []*Memory
	Globals        []*Global
	ExceptionTypes []*ExceptionType
	StartFunction  *Function
	DataSegments   [][]byte
	ElemSegments   [][]*Function
	CodeModule     *CodeModule
	Quota          *ResourceQuota
}

// NewInstance registers an instance in compartment c. The instance's
// functions are stamped with the new instance ID so compartment
// membership can be computed from them.
func NewInstance(c *Compartment, cfg InstanceConfig) (*Instance, error) {
	inst := &Instance{
		GCObject:       GCObject{kind: KindInstance, compartment: c},
		debugName:      cfg.DebugName,
		exportMap:      cfg.ExportMap,
		exports:        cfg.Exports,
		functions:      cfg.Functions,
		tables:         cfg.Tables,
		memories:       cfg.Memories,
		globals:        cfg.Globals,
		exceptionTypes: cfg.ExceptionTypes,
		startFunction:  cfg.StartFunction,
		dataSegments:   cfg.DataSegments,
		elemSegments:   cfg.ElemSegments,
		codeModule:     cfg.CodeModule,
		quota:          cfg.Quota,
	}
	if inst.exportMap == nil {
		inst.exportMap = make(map[string]Object)
	}

	c.mu.Lock()
	inst.id = c.instances.add(inst)
	c.mu.Unlock()
	if inst.id == InvalidID {
		return nil, errors.New(errors.PhaseRuntime, errors.KindOutOfBounds).
			Detail("instance index space exhausted").Build()
	}

	for _, f := range inst.functions {
		if f != nil && f.InstanceID == InvalidID && f.MutableData.CodeModule == inst.codeModule {
			f.InstanceID = inst.id
		}
	}
	return inst, nil
}

// ID returns the instance's compartment-scoped ID.
func (inst *Instance) ID() uintptr { return inst.id }

// DebugName returns the instance's debug name.
func (inst *Instance) DebugName() string { return inst.debugName }

// Export looks up an exported object by name.
func (inst *Instance) Export(name string) (Object, bool) {
	o, ok := inst.exportMap[name]
	return o, ok
}

// StartFunction returns the instance's start function, or nil.
func (inst *Instance) StartFunction() *Function { return inst.startFunction }

// CodeModule returns the compiled module this instance runs.
func (inst *Instance) CodeModule() *CodeModule { return inst.codeModule }

// Functions returns the instance's function index space.
func (inst *Instance) Functions() []*Function { return inst.functions }

// Tables returns the instance's table index space.
func (inst *Instance) Tables() []*Table { return inst.tables }

// Memories returns the instance's memory index space.
func (inst *Instance) Memories() []*Memory { return inst.memories }

// Globals returns the instance's global index space.
func (inst *Instance) Globals() []*Global { return inst.globals }

// ExceptionTypes returns the instance's exception-type index space.
func (inst *Instance) ExceptionTypes() []*ExceptionType { return inst.exceptionTypes }

// InitDataSegment copies bytes from a passive data segment into memory,
// the memory.init operation.
func (inst *Instance) InitDataSegment(segmentIndex uintptr, memory *Memory, destAddress, sourceOffset, numBytes uint64) error {
	inst.dataSegmentsMu.RLock()
	defer inst.dataSegmentsMu.RUnlock()

	if segmentIndex >= uintptr(len(inst.dataSegments)) {
		return errors.Trap("invalid argument")
	}
	seg := inst.dataSegments[segmentIndex]
	if seg == nil {
		return errors.Trap("data segment dropped")
	}

	if sourceOffset+numBytes < sourceOffset || sourceOffset+numBytes > uint64(len(seg)) {
		return errors.Trap("out of bounds data segment access")
	}
	mem := memory.Bytes()
	if destAddress+numBytes < destAddress || destAddress+numBytes > uint64(len(mem)) {
		return errors.Trap("out of bounds memory access")
	}

	copy(mem[destAddress:destAddress+numBytes], seg[sourceOffset:sourceOffset+numBytes])
	return nil
}

// DropDataSegment releases a passive data segment, the data.drop
// operation.
func (inst *Instance) DropDataSegment(segmentIndex uintptr) error {
	inst.dataSegmentsMu.Lock()
	defer inst.dataSegmentsMu.Unlock()

	if segmentIndex >= uintptr(len(inst.dataSegments)) {
		return errors.Trap("invalid argument")
	}
	if inst.dataSegments[segmentIndex] == nil {
		return errors.Trap("data segment dropped")
	}
	inst.dataSegments[segmentIndex] = nil
	return nil
}

// InitElemSegment copies functions from a passive element segment into
// a table, the table.init operation.
func (inst *Instance) InitElemSegment(segmentIndex uintptr, table *Table, destOffset, sourceOffset, numElems uint64) error {
	inst.elemSegmentsMu.RLock()
	defer inst.elemSegmentsMu.RUnlock()

	if segmentIndex >= uintptr(len(inst.elemSegments)) {
		return errors.Trap("invalid argument")
	}
	seg := inst.elemSegments[segmentIndex]
	if seg == nil {
		return errors.Trap("element segment dropped")
	}

	if sourceOffset+numElems < sourceOffset || sourceOffset+numElems > uint64(len(seg)) {
		return errors.Trap("out of bounds elem segment access")
	}
	for i := uint64(0); i < numElems; i++ {
		if _, err := table.Set(destOffset+i, seg[sourceOffset+i]); err != nil {
			return err
		}
	}
	return nil
}

// DropElemSegment releases a passive element segment, the elem.drop
// operation.
func (inst *Instance) DropElemSegment(segmentIndex uintptr) error {
	inst.elemSegmentsMu.Lock()
	defer inst.elemSegmentsMu.Unlock()

	if segmentIndex >= uintptr(len(inst.elemSegments)) {
		return errors.Trap("invalid argument")
	}
	if inst.elemSegments[segmentIndex] == nil {
		return errors.Trap("element segment dropped")
	}
	inst.elemSegments[segmentIndex] = nil
	return nil
}

// Destroy removes the instance from its compartment.
func (inst *Instance) Destroy() {
	c := inst.compartment
	c.mu.Lock()
	if inst.id != InvalidID {
		c.instances.remove(inst.id)
	}
	c.mu.Unlock()
	inst.finalizeObjectUserData()
	inst.id = InvalidID
}

// cloneInstance reproduces inst in newC with the same ID. Object
// references are remapped into the new compartment; functions and the
// code module pass through unchanged. The caller holds the source
// compartment's lock and has already cloned tables, memories, globals,
// and exception types.
func cloneInstance(inst *Instance, newC *Compartment) *Instance {
	n := &Instance{
		GCObject:      GCObject{kind: KindInstance, compartment: newC},
		debugName:     inst.debugName,
		exportMap:     make(map[string]Object, len(inst.exportMap)),
		startFunction: inst.startFunction,
		codeModule:    inst.codeModule,
		quota:         inst.quota,
	}

	for name, o := range inst.exportMap {
		n.exportMap[name] = remapLocked(o, newC)
	}
	for _, o := range inst.exports {
		n.exports = append(n.exports, remapLocked(o, newC))
	}
	n.functions = append(n.functions, inst.functions...)
	for _, t := range inst.tables {
		n.tables = append(n.tables, remapLocked(t, newC).(*Table))
	}
	for _, m := range inst.memories {
		n.memories = append(n.memories, remapLocked(m, newC).(*Memory))
	}
	for _, g := range inst.globals {
		n.globals = append(n.globals, remapLocked(g, newC).(*Global))
	}
	for _, e := range inst.exceptionTypes {
		n.exceptionTypes = append(n.exceptionTypes, remapLocked(e, newC).(*ExceptionType))
	}

	inst.dataSegmentsMu.RLock()
	n.dataSegments = append(n.dataSegments, inst.dataSegments...)
	inst.dataSegmentsMu.RUnlock()

	inst.elemSegmentsMu.RLock()
	n.elemSegments = append(n.elemSegments, inst.elemSegments...)
	inst.elemSegmentsMu.RUnlock()

	newC.mu.Lock()
	n.id = newC.instances.add(n)
	newC.mu.Unlock()
	return n
}
