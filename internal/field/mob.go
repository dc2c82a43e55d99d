package field

import (
	"time"

	"github.com/CCasusensa/kinoko-sub000/internal/data"
	"github.com/CCasusensa/kinoko-sub000/internal/lock"
)

// Mob is a spawned monster. State changes happen under the embedded
// mutex; the pool decides death exactly once, see Field.AttackMob.
type Mob struct {
	lock.Mutex
	Life

	template *data.MobTemplate
	spawn    *SpawnPoint // nil for summoned mobs

	hp int32
	mp int32

	// damageDone accumulates damage per attacker character id for
	// exp distribution. Written only while the mob is held.
	damageDone map[int32]int64

	controllerID int32 // character id of the controlling user, 0 if none
	removeAt     time.Time
}

func NewMob(template *data.MobTemplate, spawn *SpawnPoint, x, y int16, fh int16) *Mob {
	m := &Mob{
		template:   template,
		spawn:      spawn,
		hp:         template.MaxHP,
		mp:         template.MaxMP,
		damageDone: make(map[int32]int64),
	}
	m.X, m.Y, m.Foothold = x, y, fh
	if template.RemoveAfter > 0 {
		m.removeAt = time.Now().Add(time.Duration(template.RemoveAfter) * time.Second)
	}
	return m
}

func (m *Mob) Template() *data.MobTemplate { return m.template }
func (m *Mob) TemplateID() int32           { return m.template.ID }

func (m *Mob) HP(g *lock.Locked[*Mob]) int32 {
	return g.Get().hp
}

func (m *Mob) MP(g *lock.Locked[*Mob]) int32 {
	return g.Get().mp
}

// Damage applies damage from the attacker and reports whether the mob
// dropped to zero hp on this call. HP never goes below zero; damage on
// an already dead mob is recorded but cannot kill again.
func (m *Mob) Damage(g *lock.Locked[*Mob], attackerID int32, amount int32) (died bool) {
	mob := g.Get()
	if amount < 0 {
		amount = 0
	}
	if mob.template.FixedDamage > 0 && amount > 0 {
		amount = mob.template.FixedDamage
	}
	if amount > mob.hp {
		amount = mob.hp
	}
	wasAlive := mob.hp > 0
	mob.hp -= amount
	if amount > 0 {
		mob.damageDone[attackerID] += int64(amount)
	}
	return wasAlive && mob.hp == 0
}

// Heal restores hp up to the template maximum. Dead mobs stay dead.
func (m *Mob) Heal(g *lock.Locked[*Mob], amount int32) {
	mob := g.Get()
	if mob.hp <= 0 || amount <= 0 {
		return
	}
	mob.hp += amount
	if mob.hp > mob.template.MaxHP {
		mob.hp = mob.template.MaxHP
	}
}

// Recover applies the template's periodic hp/mp regeneration. Called
// from the field tick while the mob is held.
func (m *Mob) Recover(g *lock.Locked[*Mob]) {
	mob := g.Get()
	if mob.hp <= 0 {
		return
	}
	if mob.template.HPRecovery > 0 && mob.hp < mob.template.MaxHP {
		mob.hp += mob.template.HPRecovery
		if mob.hp > mob.template.MaxHP {
			mob.hp = mob.template.MaxHP
		}
	}
	if mob.template.MPRecovery > 0 && mob.mp < mob.template.MaxMP {
		mob.mp += mob.template.MPRecovery
		if mob.mp > mob.template.MaxMP {
			mob.mp = mob.template.MaxMP
		}
	}
}

// HPRatio returns hit point percentage for the hp indicator packet.
// A wounded mob never shows less than 1 while alive.
func (m *Mob) HPRatio(g *lock.Locked[*Mob]) byte {
	mob := g.Get()
	if mob.template.MaxHP == 0 {
		return 0
	}
	r := mob.hp * 100 / mob.template.MaxHP
	if r < 1 && mob.hp > 0 {
		r = 1
	}
	return byte(r)
}

// DamageShares returns a copy of the per-attacker damage map and the
// attacker who dealt the most, for exp distribution after death.
func (m *Mob) DamageShares(g *lock.Locked[*Mob]) (shares map[int32]int64, topAttacker int32) {
	mob := g.Get()
	shares = make(map[int32]int64, len(mob.damageDone))
	var top int64
	for id, dmg := range mob.damageDone {
		shares[id] = dmg
		if dmg > top {
			top, topAttacker = dmg, id
		}
	}
	return shares, topAttacker
}

// Controller returns the character id currently driving this mob's
// movement, or 0 when unassigned.
func (m *Mob) Controller(g *lock.Locked[*Mob]) int32 {
	return g.Get().controllerID
}

func (m *Mob) SetController(g *lock.Locked[*Mob], characterID int32) {
	g.Get().controllerID = characterID
}

// Move updates the mob position from a controller movement report.
func (m *Mob) Move(g *lock.Locked[*Mob], x, y int16, fh int16) {
	mob := g.Get()
	mob.X, mob.Y, mob.Foothold = x, y, fh
}

// Expired reports whether a remove-after timer has elapsed.
func (m *Mob) Expired(g *lock.Locked[*Mob], now time.Time) bool {
	mob := g.Get()
	return !mob.removeAt.IsZero() && now.After(mob.removeAt)
}
