package field

import (
	"time"

	"github.com/CCasusensa/kinoko-sub000/internal/lock"
)

// Reactor is a hittable field object that advances through numbered
// states. After the final state it despawns and respawns once its
// reset timer elapses.
type Reactor struct {
	lock.Mutex
	Life

	templateID int32
	name       string
	maxState   byte

	state   byte
	hitAt   time.Time
	resetIn time.Duration
}

func NewReactor(templateID int32, name string, maxState byte, resetIn time.Duration, x, y int16, fh int16) *Reactor {
	r := &Reactor{
		templateID: templateID,
		name:       name,
		maxState:   maxState,
		resetIn:    resetIn,
	}
	r.X, r.Y, r.Foothold = x, y, fh
	return r
}

func (r *Reactor) TemplateID() int32 { return r.templateID }
func (r *Reactor) Name() string      { return r.name }

func (r *Reactor) State(g *lock.Locked[*Reactor]) byte {
	return g.Get().state
}

// Hit advances the reactor one state and reports whether it reached
// its final state on this hit. Hits past the final state are ignored.
func (r *Reactor) Hit(g *lock.Locked[*Reactor], now time.Time) (newState byte, finished bool, ok bool) {
	rc := g.Get()
	if rc.state >= rc.maxState {
		return rc.state, false, false
	}
	rc.state++
	rc.hitAt = now
	return rc.state, rc.state >= rc.maxState, true
}

// ShouldReset reports whether a finished reactor's reset timer has
// elapsed at now.
func (r *Reactor) ShouldReset(g *lock.Locked[*Reactor], now time.Time) bool {
	rc := g.Get()
	return rc.state >= rc.maxState && !rc.hitAt.IsZero() && now.Sub(rc.hitAt) >= rc.resetIn
}

// Reset returns the reactor to its initial state.
func (r *Reactor) Reset(g *lock.Locked[*Reactor]) {
	rc := g.Get()
	rc.state = 0
	rc.hitAt = time.Time{}
}
