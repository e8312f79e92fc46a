package runtime

import (
	"testing"

	stderrors "errors"

	sberrors "github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/wasm"
)

func newTestTable(t *testing.T, min, max uint32, quota *ResourceQuota) (*Compartment, *Table) {
	t.Helper()
	c := newTestCompartment(t)
	typ := wasm.TableType{Elem: wasm.ValFuncRef, Limits: wasm.Limits{Min: min, Max: max, HasMax: max != 0}}
	tab, err := NewTable(c, typ, "test table", quota)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return c, tab
}

func TestTableUninitializedCellsAreSentinel(t *testing.T) {
	_, tab := newTestTable(t, 4, 8, nil)

	for i := uint64(0); i < 4; i++ {
		if got := tab.Get(i); got != OutOfBoundsElement() {
			t.Errorf("cell %d should decode to the sentinel, got %v", i, got)
		}
	}
	// Out of range reads resolve to the sentinel too.
	if got := tab.Get(100); got != OutOfBoundsElement() {
		t.Errorf("out-of-range read should be the sentinel, got %v", got)
	}
}

func TestTableBiasRoundTrip(t *testing.T) {
	_, tab := newTestTable(t, 2, 0, nil)

	f := NewFunction("stored", InvalidID, 0, nil)
	old, err := tab.Set(0, f)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if old != OutOfBoundsElement() {
		t.Errorf("previous occupant should be the sentinel, got %v", old)
	}
	if got := tab.Get(0); got != f {
		t.Errorf("Get should invert the bias, got %v want %v", got, f)
	}

	// The sentinel itself biases to zero and round-trips.
	if biasFunction(OutOfBoundsElement()) != 0 {
		t.Error("sentinel must bias to zero")
	}
	if unbiasFunction(0) != OutOfBoundsElement() {
		t.Error("zero must unbias to the sentinel")
	}

	// Clearing with nil restores the sentinel.
	if _, err := tab.Set(0, nil); err != nil {
		t.Fatalf("Set nil: %v", err)
	}
	if got := tab.Get(0); got != OutOfBoundsElement() {
		t.Errorf("cleared cell should be the sentinel, got %v", got)
	}
}

func TestTableSetOutOfBounds(t *testing.T) {
	_, tab := newTestTable(t, 1, 0, nil)
	_, err := tab.Set(1, NewFunction("f", InvalidID, 0, nil))
	if err == nil {
		t.Fatal("Set past numElements should fail")
	}
	var e *sberrors.Error
	if !stderrors.As(err, &e) || e.Kind != sberrors.KindTrap {
		t.Fatalf("expected trap, got %v", err)
	}
}

func TestTableGrow(t *testing.T) {
	_, tab := newTestTable(t, 2, 4, nil)

	old, err := tab.Grow(2)
	if err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if old != 2 || tab.NumElements() != 4 {
		t.Errorf("Grow returned %d, size %d; want 2, 4", old, tab.NumElements())
	}

	if _, err := tab.Grow(1); err == nil {
		t.Fatal("growing past the declared max should fail")
	}
}

func TestTableGrowQuota(t *testing.T) {
	quota := NewBoundedResourceQuota(0, 3)
	c := newTestCompartment(t)
	typ := wasm.TableType{Elem: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2}}
	tab, err := NewTable(c, typ, "quota table", quota)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if quota.TableElems.Current() != 2 {
		t.Fatalf("creation should charge the quota: %d", quota.TableElems.Current())
	}

	if _, err := tab.Grow(2); err == nil {
		t.Fatal("grow beyond quota should fail")
	}
	if _, err := tab.Grow(1); err != nil {
		t.Fatalf("grow within quota: %v", err)
	}

	tab.Destroy()
	if quota.TableElems.Current() != 0 {
		t.Errorf("destroy should return the quota: %d", quota.TableElems.Current())
	}
}

func TestTableCloneSharesQuota(t *testing.T) {
	quota := NewBoundedResourceQuota(0, 10)
	c := newTestCompartment(t)
	typ := wasm.TableType{Elem: wasm.ValFuncRef, Limits: wasm.Limits{Min: 4}}
	tab, err := NewTable(c, typ, "t", quota)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	f := NewFunction("elem", InvalidID, 0, nil)
	if _, err := tab.Set(2, f); err != nil {
		t.Fatalf("Set: %v", err)
	}

	clone, err := CloneCompartment(c)
	if err != nil {
		t.Fatalf("CloneCompartment: %v", err)
	}
	ct := must(clone.Lookup(KindTable, tab.ID())).(*Table)

	if got := ct.Get(2); got != f {
		t.Errorf("cloned table should carry elements: got %v", got)
	}
	if quota.TableElems.Current() != 8 {
		t.Errorf("clone should charge the shared quota: %d", quota.TableElems.Current())
	}
}
