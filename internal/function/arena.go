package function

// arena is a dense id-indexed table with a free list. Ids are the slot
// index; a slot is only handed out again after its occupant was removed.
type arena[T any] struct {
	items []T
	live  []bool
	free  []uint32
	limit int
	count int
}

func newArena[T any](limit int) *arena[T] {
	return &arena[T]{limit: limit}
}

// insert stores v at want, or at a free slot when want is out of range
// (the caller's "invalid" sentinel). It fails when want is taken or the
// arena is full.
func (a *arena[T]) insert(v T, want uint32) (uint32, bool) {
	if int64(want) < int64(a.limit) {
		return want, a.insertAt(v, want)
	}
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		a.items[id], a.live[id] = v, true
		a.count++
		return id, true
	}
	if len(a.items) >= a.limit {
		return 0, false
	}
	id := uint32(len(a.items))
	a.items = append(a.items, v)
	a.live = append(a.live, true)
	a.count++
	return id, true
}

func (a *arena[T]) insertAt(v T, id uint32) bool {
	i := int(id)
	if i < len(a.items) {
		if a.live[i] {
			return false
		}
		for k, f := range a.free {
			if f == id {
				a.free = append(a.free[:k], a.free[k+1:]...)
				break
			}
		}
		a.items[i], a.live[i] = v, true
		a.count++
		return true
	}
	var zero T
	for j := len(a.items); j < i; j++ {
		a.items = append(a.items, zero)
		a.live = append(a.live, false)
		a.free = append(a.free, uint32(j))
	}
	a.items = append(a.items, v)
	a.live = append(a.live, true)
	a.count++
	return true
}

func (a *arena[T]) get(id uint32) (T, bool) {
	var zero T
	if int(id) >= len(a.items) || !a.live[id] {
		return zero, false
	}
	return a.items[id], true
}

func (a *arena[T]) remove(id uint32) (T, bool) {
	var zero T
	if int(id) >= len(a.items) || !a.live[id] {
		return zero, false
	}
	v := a.items[id]
	a.items[id], a.live[id] = zero, false
	a.free = append(a.free, id)
	a.count--
	return v, true
}

func (a *arena[T]) len() int { return a.count }

// each visits live slots in id order.
func (a *arena[T]) each(fn func(id uint32, v T)) {
	for i, ok := range a.live {
		if ok {
			fn(uint32(i), a.items[i])
		}
	}
}
