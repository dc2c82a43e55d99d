package field

import (
	"time"

	"go.uber.org/zap"

	"github.com/CCasusensa/kinoko-sub000/internal/lock"
)

// Mob hp/mp regeneration runs every Nth tick so it stays on the order
// of seconds regardless of the tick interval.
const recoveryTickDivisor = 8

// onTick is the field's periodic maintenance pass: respawn, drop and
// reactor expiry, mob despawn and recovery, buff expiry. A panic while
// updating one entity is contained so the rest of the pass still runs.
func (f *Field) onTick() {
	// A pass that outlives the tick interval must not overlap the next
	// one; the late pass wins and the next fires on schedule.
	if !f.ticking.CompareAndSwap(false, true) {
		return
	}
	defer f.ticking.Store(false)

	now := time.Now()
	count := f.tickCount.Add(1)

	f.respawnMobs(now)

	f.Drops.ForEach(func(d *Drop) bool {
		f.updateEntity(d.ObjectID(), "drop", func() {
			if !d.Expired(now) {
				return
			}
			if _, ok := f.Drops.Remove(d.ObjectID()); ok {
				f.Broadcast(dropLeaveFieldPacket(d.ObjectID(), 0, 0))
			}
		})
		return true
	})

	f.Reactors.ForEach(func(r *Reactor) bool {
		f.updateEntity(r.ObjectID(), "reactor", func() {
			lock.With(r, func(rg *lock.Locked[*Reactor]) {
				if r.ShouldReset(rg, now) {
					r.Reset(rg)
					f.Broadcast(reactorChangeStatePacket(r.ObjectID(), 0))
				}
			})
		})
		return true
	})

	regen := count%recoveryTickDivisor == 0
	f.Mobs.ForEach(func(m *Mob) bool {
		f.updateEntity(m.ObjectID(), "mob", func() {
			expired := false
			lock.With(m, func(mg *lock.Locked[*Mob]) {
				if m.Expired(mg, now) {
					expired = true
					return
				}
				if regen {
					m.Recover(mg)
				}
			})
			if expired {
				if _, ok := f.Mobs.Remove(m.ObjectID()); ok {
					if m.spawn != nil {
						m.spawn.NotifyDeath(now)
					}
					f.Broadcast(mobLeaveFieldPacket(m.ObjectID(), 0))
				}
			}
		})
		return true
	})

	f.Users.ForEach(func(u *User) bool {
		f.updateEntity(u.CharacterID(), "user", func() {
			// TempStats are guarded by the user's lock, same as every
			// other piece of user state the handlers touch.
			lock.With(u, func(ug *lock.Locked[*User]) {
				if expired := u.TempStats.ExpireBy(now); len(expired) > 0 {
					u.WritePacket(StatChangedPacket(&u.Data.Stat))
				}
			})
		})
		return true
	})
}

// updateEntity shields the tick from a panic in one entity's update.
func (f *Field) updateEntity(objectID int32, kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("entity update panic",
				zap.String("kind", kind),
				zap.Int32("objectId", objectID),
				zap.Any("panic", r))
		}
	}()
	fn()
}
