package runtime

import (
	"sync"
	"testing"
)

func TestQuotaAllocateFree(t *testing.T) {
	q := NewBoundedResourceQuota(10, 100)

	if !q.MemoryPages.Allocate(4) {
		t.Fatal("allocate 4/10 should succeed")
	}
	if !q.MemoryPages.Allocate(6) {
		t.Fatal("allocate 10/10 should succeed")
	}
	if q.MemoryPages.Allocate(1) {
		t.Fatal("allocate beyond max should fail")
	}
	if got := q.MemoryPages.Current(); got != 10 {
		t.Errorf("Current = %d, want 10", got)
	}

	q.MemoryPages.Free(6)
	if !q.MemoryPages.Allocate(3) {
		t.Fatal("allocate after free should succeed")
	}
}

func TestQuotaOverflow(t *testing.T) {
	q := NewResourceQuota()
	if !q.TableElems.Allocate(1) {
		t.Fatal("small allocation should succeed")
	}
	// current + delta wraps around; must fail atomically.
	if q.TableElems.Allocate(^uint64(0)) {
		t.Fatal("overflowing allocation should fail")
	}
	if got := q.TableElems.Current(); got != 1 {
		t.Errorf("failed allocation should not change current: %d", got)
	}
}

func TestQuotaUnderflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("freeing more than outstanding should panic")
		}
	}()
	q := NewResourceQuota()
	q.MemoryPages.Free(1)
}

func TestQuotaConcurrent(t *testing.T) {
	q := NewBoundedResourceQuota(1000, 1000)

	var wg sync.WaitGroup
	succeeded := make([]int, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if q.MemoryPages.Allocate(1) {
					succeeded[g]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, n := range succeeded {
		total += n
	}
	if total != 1000 {
		t.Errorf("exactly 1000 allocations should succeed, got %d", total)
	}
	if q.MemoryPages.Current() != 1000 {
		t.Errorf("Current = %d, want 1000", q.MemoryPages.Current())
	}
}

func TestQuotaSetMax(t *testing.T) {
	q := NewBoundedResourceQuota(4, 4)
	if !q.MemoryPages.Allocate(4) {
		t.Fatal("allocate up to max should succeed")
	}
	q.MemoryPages.SetMax(2)
	if q.MemoryPages.Allocate(1) {
		t.Fatal("allocation above lowered max should fail")
	}
	q.MemoryPages.Free(3)
	if !q.MemoryPages.Allocate(1) {
		t.Fatal("allocation under lowered max should succeed")
	}
}
