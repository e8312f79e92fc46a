package runtime

import "testing"

func TestIndexMapLowestFreeFirst(t *testing.T) {
	m := newIndexMap[string](0, 10)

	if id := m.add("a"); id != 0 {
		t.Fatalf("first id = %d, want 0", id)
	}
	if id := m.add("b"); id != 1 {
		t.Fatalf("second id = %d, want 1", id)
	}
	if id := m.add("c"); id != 2 {
		t.Fatalf("third id = %d, want 2", id)
	}

	m.remove(1)
	if id := m.add("d"); id != 1 {
		t.Fatalf("reused id = %d, want 1", id)
	}

	m.remove(0)
	m.remove(2)
	if id := m.add("e"); id != 0 {
		t.Fatalf("lowest free id = %d, want 0", id)
	}
}

func TestIndexMapExhaustion(t *testing.T) {
	m := newIndexMap[int](0, 2)
	for i := 0; i < 3; i++ {
		if id := m.add(i); id == InvalidID {
			t.Fatalf("add %d should succeed", i)
		}
	}
	if id := m.add(3); id != InvalidID {
		t.Fatalf("exhausted map returned id %d", id)
	}
}

func TestIndexMapEachAscending(t *testing.T) {
	m := newIndexMap[int](0, 100)
	for i := 0; i < 5; i++ {
		m.add(i * 10)
	}
	m.remove(2)

	var ids []uintptr
	m.each(func(id uintptr, v int) {
		ids = append(ids, id)
	})
	want := []uintptr{0, 1, 3, 4}
	if len(ids) != len(want) {
		t.Fatalf("visited %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("visited %v, want %v", ids, want)
		}
	}
}
