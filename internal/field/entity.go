// Package field implements the per-map simulation: object pools, the
// entity types that live in them, and the fixed-interval tick that
// drives respawn, expiry and recovery. One Field is one map instance;
// everything inside it is keyed by a field-local object id.
package field

// Life is the common identity and position every field entity embeds.
// Position fields are mutated only under the owning entity's guard;
// the object id is stamped once by the pool and never changes.
type Life struct {
	objectID int32
	X        int16
	Y        int16
	Foothold int16
}

func (l *Life) ObjectID() int32      { return l.objectID }
func (l *Life) setObjectID(id int32) { l.objectID = id }

// Object is what a pool stores: anything with a pool-assigned id and
// a position for spatial queries.
type Object interface {
	ObjectID() int32
	setObjectID(id int32)
	Position() (x, y int16)
}

func (l *Life) Position() (int16, int16) { return l.X, l.Y }

// Rect is an axis-aligned query rectangle (left, top, right, bottom)
// in field coordinates, top < bottom (screen coordinates grow down).
type Rect struct {
	Left, Top, Right, Bottom int16
}

func (r Rect) contains(x, y int16) bool {
	return x >= r.Left && x <= r.Right && y >= r.Top && y <= r.Bottom
}

// RectAround builds a rect centered on a point from relative offsets,
// used to resolve a skill's area of effect against the caster.
func RectAround(x, y, l, t, rr, b int16) Rect {
	return Rect{Left: x + l, Top: y + t, Right: x + rr, Bottom: y + b}
}
