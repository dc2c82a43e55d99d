package field

import (
	"sync"
	"sync/atomic"
)

// Pool is a per-field, per-kind container. Ids come from the owning
// field's counter, so they increase monotonically across all pools of
// one field and are never reused while the field lives. Iteration is
// safe under concurrent mutation from handler and tick goroutines:
// readers see entities that are currently present, never a partially
// inserted one.
type Pool[T Object] struct {
	nextID  func() int32
	entries sync.Map // int32 -> T
	count   atomic.Int32
}

func NewPool[T Object](nextID func() int32) *Pool[T] {
	return &Pool[T]{nextID: nextID}
}

// Add stamps a fresh object id on the entity and inserts it.
func (p *Pool[T]) Add(obj T) int32 {
	id := p.nextID()
	obj.setObjectID(id)
	p.entries.Store(id, obj)
	p.count.Add(1)
	return id
}

// AddExisting inserts an entity that already carries its id (users
// keep their character id as object id across fields).
func (p *Pool[T]) AddExisting(obj T) {
	p.entries.Store(obj.ObjectID(), obj)
	p.count.Add(1)
}

// Remove detaches the entity with the given id and returns it. The
// boolean reports whether this call was the one that removed it;
// death handling and reward distribution key off exactly that.
func (p *Pool[T]) Remove(id int32) (T, bool) {
	v, loaded := p.entries.LoadAndDelete(id)
	if !loaded {
		var zero T
		return zero, false
	}
	p.count.Add(-1)
	return v.(T), true
}

// Get returns the entity with the given id.
func (p *Pool[T]) Get(id int32) (T, bool) {
	v, ok := p.entries.Load(id)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// ForEach visits every present entity. Returning false stops early.
func (p *Pool[T]) ForEach(visit func(T) bool) {
	p.entries.Range(func(_, v any) bool {
		return visit(v.(T))
	})
}

// InsideRect returns the entities whose position falls inside r,
// used for area-of-effect resolution and proximity queries.
func (p *Pool[T]) InsideRect(r Rect) []T {
	var out []T
	p.entries.Range(func(_, v any) bool {
		obj := v.(T)
		if x, y := obj.Position(); r.contains(x, y) {
			out = append(out, obj)
		}
		return true
	})
	return out
}

// Count returns the number of present entities.
func (p *Pool[T]) Count() int {
	return int(p.count.Load())
}
