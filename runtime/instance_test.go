package runtime

import (
	stderrors "errors"
	"strings"
	"testing"

	sberrors "github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/wasm"
)

func trapMessage(t *testing.T, err error) string {
	t.Helper()
	var e *sberrors.Error
	if !stderrors.As(err, &e) || e.Kind != sberrors.KindTrap {
		t.Fatalf("expected trap, got %v", err)
	}
	return e.Detail
}

func newSegmentInstance(t *testing.T) (*Compartment, *Instance, *Memory, *Table) {
	t.Helper()
	c := newTestCompartment(t)
	mem, err := NewMemory(c, wasm.MemoryType{Limits: wasm.Limits{Min: 1}}, "m", nil)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	tab, err := NewTable(c, wasm.TableType{Elem: wasm.ValFuncRef, Limits: wasm.Limits{Min: 4}}, "t", nil)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	f := NewFunction("seg func", InvalidID, 0, nil)
	inst, err := NewInstance(c, InstanceConfig{
		DebugName:    "seg",
		Memories:     []*Memory{mem},
		Tables:       []*Table{tab},
		DataSegments: [][]byte{[]byte("hello world")},
		ElemSegments: [][]*Function{{f, f}},
	})
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	return c, inst, mem, tab
}

func TestInitDataSegment(t *testing.T) {
	_, inst, mem, _ := newSegmentInstance(t)

	if err := inst.InitDataSegment(0, mem, 16, 6, 5); err != nil {
		t.Fatalf("InitDataSegment: %v", err)
	}
	if got := string(mem.Bytes()[16:21]); got != "world" {
		t.Errorf("memory contents = %q, want %q", got, "world")
	}
}

func TestInitDataSegmentBounds(t *testing.T) {
	_, inst, mem, _ := newSegmentInstance(t)

	err := inst.InitDataSegment(0, mem, 0, 8, 10)
	if msg := trapMessage(t, err); !strings.HasPrefix(msg, "out of bounds data segment access") {
		t.Errorf("source overrun trap = %q", msg)
	}

	err = inst.InitDataSegment(0, mem, wasm.PageSize-2, 0, 5)
	if msg := trapMessage(t, err); msg != "out of bounds memory access" {
		t.Errorf("dest overrun trap = %q", msg)
	}
}

func TestDropDataSegment(t *testing.T) {
	_, inst, mem, _ := newSegmentInstance(t)

	if err := inst.DropDataSegment(0); err != nil {
		t.Fatalf("DropDataSegment: %v", err)
	}

	err := inst.InitDataSegment(0, mem, 0, 0, 1)
	if msg := trapMessage(t, err); msg != "data segment dropped" {
		t.Errorf("init after drop trap = %q", msg)
	}

	err = inst.DropDataSegment(0)
	if msg := trapMessage(t, err); msg != "data segment dropped" {
		t.Errorf("double drop trap = %q", msg)
	}

	err = inst.DropDataSegment(5)
	if msg := trapMessage(t, err); msg != "invalid argument" {
		t.Errorf("bad index trap = %q", msg)
	}
}

func TestInitElemSegment(t *testing.T) {
	_, inst, _, tab := newSegmentInstance(t)

	if err := inst.InitElemSegment(0, tab, 1, 0, 2); err != nil {
		t.Fatalf("InitElemSegment: %v", err)
	}
	if tab.Get(1) == OutOfBoundsElement() {
		t.Error("initialized cell should hold the segment function")
	}
	if tab.Get(0) != OutOfBoundsElement() {
		t.Error("untouched cell should stay the sentinel")
	}

	err := inst.InitElemSegment(0, tab, 0, 1, 2)
	if msg := trapMessage(t, err); !strings.HasPrefix(msg, "out of bounds elem segment access") {
		t.Errorf("source overrun trap = %q", msg)
	}

	if err := inst.DropElemSegment(0); err != nil {
		t.Fatalf("DropElemSegment: %v", err)
	}
	err = inst.InitElemSegment(0, tab, 0, 0, 1)
	if msg := trapMessage(t, err); msg != "element segment dropped" {
		t.Errorf("init after drop trap = %q", msg)
	}
}

func TestInstanceExports(t *testing.T) {
	c := newTestCompartment(t)
	mem, err := NewMemory(c, wasm.MemoryType{Limits: wasm.Limits{Min: 1}}, "m", nil)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	f := NewFunction("exported", InvalidID, 0, nil)

	inst, err := NewInstance(c, InstanceConfig{
		DebugName: "exports",
		ExportMap: map[string]Object{"mem": mem, "run": f},
		Memories:  []*Memory{mem},
		Functions: []*Function{f},
	})
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}

	if got, ok := inst.Export("mem"); !ok || got != Object(mem) {
		t.Errorf("Export(mem) = %v, %v", got, ok)
	}
	if got, ok := inst.Export("run"); !ok || got != Object(f) {
		t.Errorf("Export(run) = %v, %v", got, ok)
	}
	if _, ok := inst.Export("missing"); ok {
		t.Error("missing export should not resolve")
	}
}

func TestCloneInstanceRemapsExports(t *testing.T) {
	c := newTestCompartment(t)
	mem, err := NewMemory(c, wasm.MemoryType{Limits: wasm.Limits{Min: 1}}, "m", nil)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	f := NewFunction("fn", InvalidID, 0, nil)
	inst, err := NewInstance(c, InstanceConfig{
		DebugName: "original",
		ExportMap: map[string]Object{"mem": mem, "fn": f},
		Memories:  []*Memory{mem},
		Functions: []*Function{f},
	})
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}

	clone, err := CloneCompartment(c)
	if err != nil {
		t.Fatalf("CloneCompartment: %v", err)
	}
	ci := must(clone.Lookup(KindInstance, inst.ID())).(*Instance)

	exportedMem, _ := ci.Export("mem")
	if exportedMem == Object(mem) {
		t.Error("cloned instance should export the cloned memory, not the source")
	}
	if exportedMem.(*Memory).Compartment() != clone {
		t.Error("cloned export should live in the clone")
	}

	exportedFn, _ := ci.Export("fn")
	if exportedFn != Object(f) {
		t.Error("function exports pass through unchanged")
	}
	if ci.CodeModule() != inst.CodeModule() {
		t.Error("clone shares the code module")
	}
}
