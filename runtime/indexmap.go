package runtime

import "sort"

// InvalidID marks an unassigned or pass-through object ID.
const InvalidID = ^uintptr(0)

// indexMap assigns stable IDs from [minID, maxID] to values, always
// reusing the lowest free ID first. Deterministic low-first allocation
// is what makes compartment cloning ID-preserving: inserting a source
// compartment's objects in ascending ID order into a fresh map yields
// the same IDs.
type indexMap[T any] struct {
	entries map[uintptr]T
	freeIDs []uintptr // sorted ascending
	nextID  uintptr
	minID   uintptr
	maxID   uintptr
}

func newIndexMap[T any](minID, maxID uintptr) indexMap[T] {
	return indexMap[T]{
		entries: make(map[uintptr]T),
		nextID:  minID,
		minID:   minID,
		maxID:   maxID,
	}
}

// add inserts value under the lowest free ID. Returns InvalidID when
// the index space is exhausted.
func (m *indexMap[T]) add(value T) uintptr {
	var id uintptr
	if len(m.freeIDs) > 0 {
		id = m.freeIDs[0]
		m.freeIDs = m.freeIDs[1:]
	} else {
		if m.nextID > m.maxID {
			return InvalidID
		}
		id = m.nextID
		m.nextID++
	}
	m.entries[id] = value
	return id
}

func (m *indexMap[T]) get(id uintptr) (T, bool) {
	v, ok := m.entries[id]
	return v, ok
}

func (m *indexMap[T]) contains(id uintptr) bool {
	_, ok := m.entries[id]
	return ok
}

func (m *indexMap[T]) remove(id uintptr) {
	if _, ok := m.entries[id]; !ok {
		return
	}
	delete(m.entries, id)
	i := sort.Search(len(m.freeIDs), func(i int) bool { return m.freeIDs[i] >= id })
	m.freeIDs = append(m.freeIDs, 0)
	copy(m.freeIDs[i+1:], m.freeIDs[i:])
	m.freeIDs[i] = id
}

func (m *indexMap[T]) size() int { return len(m.entries) }

// each visits entries in ascending ID order.
func (m *indexMap[T]) each(fn func(id uintptr, value T)) {
	ids := make([]uintptr, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(id, m.entries[id])
	}
}
