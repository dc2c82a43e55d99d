// Package lock implements the scoped-guard discipline used by every
// mutable entity in the world. A caller obtains a guard with Acquire,
// mutates through Locked.Get, and releases with a deferred Release.
// Functions that require the caller to already hold an entity's guard
// take the *Locked value itself as a parameter instead of the entity.
//
// Guards nest in a fixed order: a user guard may be held while taking
// mob or reactor guards (field entry streams reactor state, mob
// control reassignment), never the reverse. Two guards of the same
// kind are only ever taken in ascending character-id order, as the
// trade completion path does. Code that iterates users, such as
// party fan-out, takes one user guard at a time and must be entered
// with no user guard held.
package lock

import "sync"

// Lockable is implemented by anything guarded by the discipline.
// Entities satisfy it by embedding Mutex.
type Lockable interface {
	Lock()
	Unlock()
}

// Mutex is embedded by entity types to make them Lockable.
type Mutex struct {
	mu sync.Mutex
}

func (m *Mutex) Lock()   { m.mu.Lock() }
func (m *Mutex) Unlock() { m.mu.Unlock() }

// Locked is a held guard over a value of type T. It is valid until
// Release is called; Release is idempotent so it can sit in a defer
// even when the guard is handed off and released early.
type Locked[T Lockable] struct {
	value    T
	released bool
}

// Acquire blocks until the value's lock is held and returns the guard.
func Acquire[T Lockable](v T) *Locked[T] {
	v.Lock()
	return &Locked[T]{value: v}
}

// Get returns the guarded value. Calling Get after Release is a bug;
// it panics rather than handing out an unguarded reference.
func (l *Locked[T]) Get() T {
	if l.released {
		panic("lock: Get after Release")
	}
	return l.value
}

// Release unlocks the guarded value. Safe to call more than once.
func (l *Locked[T]) Release() {
	if l.released {
		return
	}
	l.released = true
	l.value.Unlock()
}

// With runs fn while holding v's guard. It is the preferred form for
// short critical sections; the guard is released on every exit path,
// including a panic inside fn.
func With[T Lockable](v T, fn func(*Locked[T])) {
	l := Acquire(v)
	defer l.Release()
	fn(l)
}
