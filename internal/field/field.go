package field

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/CCasusensa/kinoko-sub000/internal/data"
	"github.com/CCasusensa/kinoko-sub000/internal/lock"
	"github.com/CCasusensa/kinoko-sub000/internal/sched"
)

// Key identifies one field instance. Instance 0 is the shared field
// for a map; positive instances are private copies created for
// parties or scripted events.
type Key struct {
	MapID      int32
	InstanceID int32
}

// Deps carries everything a field needs from the channel node. One
// Deps value is shared by every field of a channel.
type Deps struct {
	Tables    *data.Tables
	Log       *zap.Logger
	Scheduler *sched.Scheduler

	ExpRate  float64
	DropRate float64
	MesoRate float64

	TickInterval time.Duration
	DropTTL      time.Duration
	ReactorTTL   time.Duration
}

// Drop ownership lapses this long after the drop hits the ground.
const dropOwnerTTL = 15 * time.Second

// Fallback respawn delay for spawn entries that do not set one.
const defaultRespawnDelay = 7 * time.Second

// Field is one running map instance. Entity pools are safe for
// concurrent access; individual entities are mutated under their own
// guards. Object ids are field-local, strictly increasing, and never
// reused for the lifetime of the field.
type Field struct {
	key      Key
	template *data.MapTemplate
	deps     Deps
	log      *zap.Logger

	nextObjectID atomic.Int32
	generation   atomic.Uint32 // low byte is the field key

	Users    *Pool[*User]
	Mobs     *Pool[*Mob]
	Npcs     *Pool[*Npc]
	Drops    *Pool[*Drop]
	Reactors *Pool[*Reactor]

	spawnPoints []*SpawnPoint

	miniRooms sync.Map // room id int32 -> *MiniRoom

	tick      *sched.Task
	ticking   atomic.Bool
	tickCount atomic.Uint64
}

// New builds the field, places its static npcs, performs the initial
// mob spawn and arms the tick.
func New(key Key, template *data.MapTemplate, deps Deps) *Field {
	f := &Field{
		key:      key,
		template: template,
		deps:     deps,
		log: deps.Log.With(
			zap.Int32("mapId", key.MapID),
			zap.Int32("instanceId", key.InstanceID),
		),
	}
	f.nextObjectID.Store(100)
	f.Users = NewPool[*User](f.allocObjectID)
	f.Mobs = NewPool[*Mob](f.allocObjectID)
	f.Npcs = NewPool[*Npc](f.allocObjectID)
	f.Drops = NewPool[*Drop](f.allocObjectID)
	f.Reactors = NewPool[*Reactor](f.allocObjectID)

	for _, life := range template.Life {
		switch life.Type {
		case "npc":
			if tmpl := deps.Tables.Npcs.Get(life.TemplateID); tmpl != nil {
				f.Npcs.Add(NewNpc(tmpl, life.X, life.Y, life.Foothold))
			} else {
				f.log.Warn("unknown npc in map data", zap.Int32("templateId", life.TemplateID))
			}
		case "mob":
			if tmpl := deps.Tables.Mobs.Get(life.TemplateID); tmpl != nil {
				f.spawnPoints = append(f.spawnPoints, NewSpawnPoint(tmpl, life, defaultRespawnDelay))
			} else {
				f.log.Warn("unknown mob in map data", zap.Int32("templateId", life.TemplateID))
			}
		}
	}
	f.respawnMobs(time.Now())

	f.tick = deps.Scheduler.ScheduleWithFixedDelay(deps.TickInterval, deps.TickInterval, f.onTick)
	return f
}

// Destroy stops the tick. Call when the instance is torn down.
func (f *Field) Destroy() {
	f.tick.Cancel()
}

func (f *Field) Key() Key                    { return f.key }
func (f *Field) MapID() int32                { return f.key.MapID }
func (f *Field) Template() *data.MapTemplate { return f.template }

func (f *Field) allocObjectID() int32 {
	return f.nextObjectID.Add(1)
}

// FieldKey is the generation byte clients must echo in attack
// packets. It advances on every user entry, so a packet built for a
// previous visit to this field no longer validates.
func (f *Field) FieldKey() byte {
	return byte(f.generation.Load())
}

// Broadcast sends a packet to every user in the field.
func (f *Field) Broadcast(p []byte) {
	f.Users.ForEach(func(u *User) bool {
		u.WritePacket(p)
		return true
	})
}

// BroadcastExcept sends a packet to everyone except one character.
func (f *Field) BroadcastExcept(p []byte, exceptID int32) {
	f.Users.ForEach(func(u *User) bool {
		if u.CharacterID() != exceptID {
			u.WritePacket(p)
		}
		return true
	})
}

// ForEachPartyMember visits every user of the party present in this
// field. Each visit runs under that member's guard, taken one at a
// time. Callers must not hold any user guard.
func (f *Field) ForEachPartyMember(partyID int32, visit func(g *lock.Locked[*User], member *User)) {
	if partyID == 0 {
		return
	}
	f.Users.ForEach(func(u *User) bool {
		lock.With(u, func(g *lock.Locked[*User]) {
			if u.PartyID == partyID {
				visit(g, u)
			}
		})
		return true
	})
}

// EnterUser places the user into the field at the given portal spawn
// point, announces them to everyone present and streams the existing
// entities to them. The caller holds the user's guard.
func (f *Field) EnterUser(g *lock.Locked[*User], u *User, portal *data.Portal) {
	f.generation.Add(1)
	if portal != nil {
		u.X, u.Y = portal.X, portal.Y
		u.Foothold = int16(f.template.FootholdBelow(portal.X, portal.Y))
	}
	u.setField(g, f)
	f.Users.AddExisting(u)

	f.BroadcastExcept(userEnterFieldPacket(u), u.CharacterID())

	// Other users are snapshotted without their guards: taking a second
	// user guard here could deadlock against a simultaneous enter, and
	// a stale position only affects where the client first draws them.
	f.Users.ForEach(func(other *User) bool {
		if other.CharacterID() != u.CharacterID() {
			u.WritePacket(userEnterFieldPacket(other))
		}
		return true
	})
	f.Npcs.ForEach(func(n *Npc) bool {
		u.WritePacket(npcEnterFieldPacket(n))
		return true
	})
	f.Mobs.ForEach(func(m *Mob) bool {
		u.WritePacket(mobEnterFieldPacket(m.ObjectID(), m.TemplateID(), m.X, m.Y, m.Foothold))
		return true
	})
	f.Drops.ForEach(func(d *Drop) bool {
		u.WritePacket(dropEnterFieldPacket(d, 2))
		return true
	})
	f.Reactors.ForEach(func(r *Reactor) bool {
		lock.With(r, func(rg *lock.Locked[*Reactor]) {
			u.WritePacket(reactorEnterFieldPacket(r, r.State(rg)))
		})
		return true
	})

	f.assignOrphanedMobs()
}

// LeaveUser removes the user, hands their controlled mobs to someone
// else and announces the departure. The caller holds the user's guard.
func (f *Field) LeaveUser(g *lock.Locked[*User], u *User) {
	if _, ok := f.Users.Remove(u.CharacterID()); !ok {
		return
	}
	u.setField(g, nil)
	f.Broadcast(userLeaveFieldPacket(u.CharacterID()))
	f.reassignMobs(u.CharacterID())
}

// reassignMobs moves every mob controlled by the departed character to
// another user in the field, or leaves them uncontrolled when the
// field emptied.
func (f *Field) reassignMobs(departedID int32) {
	f.Mobs.ForEach(func(m *Mob) bool {
		lock.With(m, func(mg *lock.Locked[*Mob]) {
			if m.Controller(mg) == departedID {
				m.SetController(mg, 0)
				f.assignController(mg, m)
			}
		})
		return true
	})
}

// assignOrphanedMobs gives every uncontrolled mob a controller. Called
// when a user enters, since they may be the first one present.
func (f *Field) assignOrphanedMobs() {
	f.Mobs.ForEach(func(m *Mob) bool {
		lock.With(m, func(mg *lock.Locked[*Mob]) {
			if m.Controller(mg) == 0 {
				f.assignController(mg, m)
			}
		})
		return true
	})
}

// assignController picks a user to drive the mob's movement and tells
// both sides. No-op when the field has no users.
func (f *Field) assignController(mg *lock.Locked[*Mob], m *Mob) {
	var chosen *User
	f.Users.ForEach(func(u *User) bool {
		chosen = u
		return false
	})
	if chosen == nil {
		return
	}
	m.SetController(mg, chosen.CharacterID())
	chosen.WritePacket(mobChangeControllerPacket(m.ObjectID(), 1))
	f.BroadcastExcept(mobChangeControllerPacket(m.ObjectID(), 0), chosen.CharacterID())
}

// MoveMob applies a movement report from the mob's controller and
// relays it to everyone else. Reports from non-controllers are
// dropped.
func (f *Field) MoveMob(controllerID, mobObjectID int32, x, y, fh int16, moveData []byte) {
	m, ok := f.Mobs.Get(mobObjectID)
	if !ok {
		return
	}
	accepted := false
	lock.With(m, func(mg *lock.Locked[*Mob]) {
		if m.Controller(mg) != controllerID {
			return
		}
		m.Move(mg, x, y, fh)
		accepted = true
	})
	if accepted {
		f.BroadcastExcept(mobMovePacket(mobObjectID, moveData), controllerID)
	}
}

// DamageMob applies attack damage to one mob. Death is decided by the
// pool removal: out of any number of concurrent lethal hits, only the
// caller whose Remove succeeds runs the death sequence, so exp and
// drops happen exactly once per mob. The caller must not hold any
// user guard; the death sequence acquires them itself.
func (f *Field) DamageMob(attacker *User, mobObjectID int32, damage int32) {
	m, ok := f.Mobs.Get(mobObjectID)
	if !ok {
		return
	}
	died := false
	var ratio byte
	lock.With(m, func(mg *lock.Locked[*Mob]) {
		died = m.Damage(mg, attacker.CharacterID(), damage)
		ratio = m.HPRatio(mg)
	})
	if !died {
		f.Broadcast(mobHPIndicatorPacket(mobObjectID, ratio))
		return
	}
	removed, ok := f.Mobs.Remove(mobObjectID)
	if !ok {
		return
	}
	f.killMob(removed)
}

// killMob runs the death sequence for a mob already removed from the
// pool: leave broadcast, exp split, reward drops, respawn bookkeeping
// and delayed revives.
func (f *Field) killMob(m *Mob) {
	f.Broadcast(mobLeaveFieldPacket(m.ObjectID(), 1))

	var shares map[int32]int64
	var topAttacker int32
	lock.With(m, func(mg *lock.Locked[*Mob]) {
		shares, topAttacker = m.DamageShares(mg)
	})

	f.distributeExp(m.Template(), shares, topAttacker)
	f.dropRewards(m, topAttacker)

	if m.spawn != nil {
		m.spawn.NotifyDeath(time.Now())
	}

	if revives := m.Template().Revives; len(revives) > 0 {
		delay := time.Duration(m.Template().ReviveDelay) * time.Millisecond
		x, y, fh := m.X, m.Y, m.Foothold
		f.deps.Scheduler.Schedule(delay, func() {
			for _, id := range revives {
				tmpl := f.deps.Tables.Mobs.Get(id)
				if tmpl == nil {
					f.log.Warn("unknown revive mob", zap.Int32("templateId", id))
					continue
				}
				f.SpawnMob(tmpl, nil, x, y, fh)
			}
		})
	}
}

// distributeExp splits the mob's exp across attackers in proportion to
// damage dealt. The top attacker gets a twenty percent bonus; everyone
// gets at least one point for a nonzero share.
func (f *Field) distributeExp(tmpl *data.MobTemplate, shares map[int32]int64, topAttacker int32) {
	var total int64
	for _, dmg := range shares {
		total += dmg
	}
	if total == 0 {
		return
	}
	base := float64(tmpl.Exp) * f.deps.ExpRate
	for characterID, dmg := range shares {
		u, ok := f.Users.Get(characterID)
		if !ok {
			continue // left the field before the kill resolved
		}
		exp := int64(base * float64(dmg) / float64(total))
		if characterID == topAttacker {
			exp += int64(base * 0.2)
		}
		if exp < 1 {
			exp = 1
		}
		lock.With(u, func(ug *lock.Locked[*User]) {
			if u.AddExp(ug, exp) {
				f.log.Debug("level up",
					zap.Int32("characterId", characterID),
					zap.Int16("level", u.Data.Stat.Level))
			}
			u.WritePacket(expGainedPacket(exp))
			u.WritePacket(StatChangedPacket(&u.Data.Stat))
		})
	}
}

// dropRewards rolls the mob's reward table and scatters the results
// around the corpse, owned by the top attacker.
func (f *Field) dropRewards(m *Mob, ownerID int32) {
	rewards := f.deps.Tables.Rewards.ForMob(m.TemplateID())
	if len(rewards) == 0 {
		return
	}
	var partyID int32
	if owner, ok := f.Users.Get(ownerID); ok {
		partyID = owner.PartyID
	}
	ownership := OwnershipUser
	if partyID != 0 {
		ownership = OwnershipParty
	}
	offset := int16(0)
	for _, r := range rewards {
		if rand.Float64() >= r.Prob*f.deps.DropRate {
			continue
		}
		qty := r.Min
		if r.Max > r.Min {
			qty += rand.Int31n(r.Max - r.Min + 1)
		}
		if r.IsMoney() {
			qty = int32(float64(qty) * f.deps.MesoRate)
			if qty < 1 {
				qty = 1
			}
		}
		d := NewDrop(r.ItemID, qty, ownerID, partyID, ownership, dropOwnerTTL, f.deps.DropTTL)
		d.QuestID = r.QuestID
		d.SourceID = m.ObjectID()
		x := m.X + offset
		d.X, d.Y = x, m.Y
		d.Foothold = int16(f.template.FootholdBelow(x, m.Y))
		f.Drops.Add(d)
		f.Broadcast(dropEnterFieldPacket(d, 1))
		if offset >= 0 {
			offset = -(offset + 25)
		} else {
			offset = -offset
		}
	}
}

// SpillRewards rolls the reward table of a non-mob source (a finished
// reactor) and drops the results free for all.
func (f *Field) SpillRewards(sourceTemplateID int32, x, y int16) {
	offset := int16(0)
	for _, r := range f.deps.Tables.Rewards.ForMob(sourceTemplateID) {
		if rand.Float64() >= r.Prob*f.deps.DropRate {
			continue
		}
		qty := r.Min
		if r.Max > r.Min {
			qty += rand.Int31n(r.Max - r.Min + 1)
		}
		if r.IsMoney() {
			qty = int32(float64(qty) * f.deps.MesoRate)
			if qty < 1 {
				qty = 1
			}
		}
		f.AddDrop(r.ItemID, qty, x+offset, y)
		if offset >= 0 {
			offset = -(offset + 25)
		} else {
			offset = -offset
		}
	}
}

// SpawnMob places a new mob and announces it. spawn may be nil for
// summoned or revived mobs that have no spawn point.
func (f *Field) SpawnMob(tmpl *data.MobTemplate, spawn *SpawnPoint, x, y, fh int16) *Mob {
	m := NewMob(tmpl, spawn, x, y, fh)
	f.Mobs.Add(m)
	if spawn != nil {
		spawn.NotifySpawned(1)
	}
	f.Broadcast(mobEnterFieldPacket(m.ObjectID(), m.TemplateID(), x, y, fh))
	lock.With(m, func(mg *lock.Locked[*Mob]) {
		f.assignController(mg, m)
	})
	return m
}

// respawnMobs tops up every spawn point that is below its configured
// count and past its respawn delay.
func (f *Field) respawnMobs(now time.Time) {
	for _, sp := range f.spawnPoints {
		for i := sp.Missing(now); i > 0; i-- {
			f.SpawnMob(sp.Template(), sp, sp.X, sp.Y, sp.Foothold)
		}
	}
}

// AddDrop places a player-originated drop (trade spills, intentional
// drops). Player drops are free for all.
func (f *Field) AddDrop(itemID, quantity int32, x, y int16) *Drop {
	d := NewDrop(itemID, quantity, 0, 0, OwnershipNone, 0, f.deps.DropTTL)
	d.X, d.Y = x, y
	d.Foothold = int16(f.template.FootholdBelow(x, y))
	f.Drops.Add(d)
	f.Broadcast(dropEnterFieldPacket(d, 1))
	return d
}

// PickUpDrop resolves a loot attempt. Concurrent attempts race on the
// pool removal, so a drop is granted to at most one user; failed
// inventory adds put the drop back. The caller holds the user's guard.
func (f *Field) PickUpDrop(g *lock.Locked[*User], u *User, dropObjectID int32) bool {
	d, ok := f.Drops.Get(dropObjectID)
	if !ok {
		return false
	}
	if !d.CanPickUp(u.CharacterID(), u.PartyID, time.Now()) {
		return false
	}
	if d.QuestID > 0 && !u.Data.HasQuestStarted(d.QuestID) {
		return false
	}
	if _, ok := f.Drops.Remove(dropObjectID); !ok {
		return false // somebody else won the race
	}
	if d.IsMoney() {
		u.Data.Inventory.AddMeso(d.Quantity)
		u.WritePacket(mesoPickUpPacket(d.Quantity))
	} else {
		tmpl := f.deps.Tables.Items.Get(d.ItemID)
		if tmpl == nil || !u.Data.Inventory.Add(tmpl, d.Quantity) {
			f.Drops.AddExisting(d)
			return false
		}
		u.WritePacket(itemPickUpPacket(d.ItemID, d.Quantity))
	}
	f.Broadcast(dropLeaveFieldPacket(dropObjectID, 2, u.CharacterID()))
	return true
}

// SpawnReactor places a scripted reactor and announces it.
func (f *Field) SpawnReactor(templateID int32, name string, maxState byte, x, y int16) *Reactor {
	r := NewReactor(templateID, name, maxState, f.deps.ReactorTTL, x, y, int16(f.template.FootholdBelow(x, y)))
	f.Reactors.Add(r)
	lock.With(r, func(rg *lock.Locked[*Reactor]) {
		f.Broadcast(reactorEnterFieldPacket(r, r.State(rg)))
	})
	return r
}

// HitReactor advances a reactor and broadcasts the state change.
// Returns the reactor and whether this hit finished it, so the handler
// can trigger the reactor's script.
func (f *Field) HitReactor(reactorObjectID int32) (r *Reactor, finished bool, ok bool) {
	r, ok = f.Reactors.Get(reactorObjectID)
	if !ok {
		return nil, false, false
	}
	var state byte
	var accepted bool
	lock.With(r, func(rg *lock.Locked[*Reactor]) {
		state, finished, accepted = r.Hit(rg, time.Now())
	})
	if !accepted {
		return nil, false, false
	}
	f.Broadcast(reactorChangeStatePacket(reactorObjectID, state))
	return r, finished, true
}
