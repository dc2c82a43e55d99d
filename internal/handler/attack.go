package handler

import (
	"time"

	"go.uber.org/zap"

	"github.com/CCasusensa/kinoko-sub000/internal/data"
	"github.com/CCasusensa/kinoko-sub000/internal/field"
	"github.com/CCasusensa/kinoko-sub000/internal/lock"
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
	"github.com/CCasusensa/kinoko-sub000/internal/world"
)

type attackTarget struct {
	mobObjectID int32
	damage      int32
}

// userAttack validates an attack report and applies the damage. A
// stale field key means the packet was built for a previous field
// visit; the session is disposed for the inconsistency. Rule
// violations (unknown skill, cooldown, cost) only drop the attack.
func (h *handlers) userAttack(sess any, r *packet.Reader) {
	c, u := playingClient(sess)
	if u == nil {
		return
	}
	fieldKey := r.ReadByte()
	skillID := r.ReadInt()
	count := int(r.ReadByte())
	targets := make([]attackTarget, 0, count)
	for i := 0; i < count; i++ {
		targets = append(targets, attackTarget{
			mobObjectID: r.ReadInt(),
			damage:      r.ReadInt(),
		})
	}

	f := currentField(u)
	if f == nil {
		return
	}
	if fieldKey != f.FieldKey() {
		h.log.Warn("attack with stale field key",
			zap.Int32("characterId", u.CharacterID()),
			zap.Int32("fieldId", f.MapID()))
		c.Disconnect()
		return
	}

	var tmpl *data.SkillTemplate
	if skillID != 0 {
		tmpl = c.Node().Tables().Skills.Get(skillID)
		if tmpl == nil {
			h.log.Warn("attack with unknown skill",
				zap.Int32("characterId", u.CharacterID()),
				zap.Int32("skillId", skillID))
			return
		}
	}

	accepted := false
	var origin struct{ x, y int16 }
	lock.With(u, func(g *lock.Locked[*field.User]) {
		origin.x, origin.y = u.X, u.Y
		if tmpl == nil {
			accepted = true
			return
		}
		level := u.Data.SkillLevel(skillID)
		if level == 0 {
			h.log.Warn("attack with unlearned skill",
				zap.Int32("characterId", u.CharacterID()),
				zap.Int32("skillId", skillID))
			return
		}
		now := time.Now()
		if u.Data.OnCooldown(skillID, now) {
			return
		}
		if len(targets) > int(tmpl.MobCountAt(level)) {
			return
		}
		if cost := tmpl.MPCostAt(level); cost > 0 && !u.ChangeMP(g, -cost) {
			return
		}
		if cost := tmpl.BulletCostAt(level); cost > 0 && !consumeBullets(u.Data.Inventory, c.Node().Tables(), cost) {
			return
		}
		if ct := tmpl.CooltimeAt(level); ct > 0 {
			u.Data.SetCooldown(skillID, now.Add(time.Duration(ct)*time.Second))
		}
		accepted = true
	})
	if !accepted {
		return
	}

	// AoE skills only reach mobs inside the skill rect around the
	// caster; a target outside it is a bogus report, skipped.
	var rect *field.Rect
	if tmpl != nil && (tmpl.RectL != 0 || tmpl.RectR != 0) {
		rr := field.RectAround(origin.x, origin.y, tmpl.RectL, tmpl.RectT, tmpl.RectR, tmpl.RectB)
		rect = &rr
	}
	inRect := make(map[int32]bool)
	if rect != nil {
		for _, m := range f.Mobs.InsideRect(*rect) {
			inRect[m.ObjectID()] = true
		}
	}

	f.BroadcastExcept(attackPacket(u.CharacterID(), skillID, targets), u.CharacterID())
	for _, t := range targets {
		if t.damage <= 0 {
			continue
		}
		if rect != nil && !inRect[t.mobObjectID] {
			continue
		}
		f.DamageMob(u, t.mobObjectID, t.damage)
	}
}

// consumeBullets removes qty throwing items from the use tab. The
// caller holds the user's guard.
func consumeBullets(inv *world.Inventory, tables *data.Tables, qty int32) bool {
	var bulletID int32
	inv.ForEach(func(tab int, _ int16, item *world.Item) {
		if bulletID != 0 || tab != data.InvUse {
			return
		}
		if tmpl := tables.Items.Get(item.ItemID); tmpl != nil && tmpl.Bullet && item.Quantity >= qty {
			bulletID = item.ItemID
		}
	})
	if bulletID == 0 {
		return false
	}
	return inv.Remove(data.InvUse, bulletID, qty)
}

// userSkillUse applies a buff skill to the caster.
func (h *handlers) userSkillUse(sess any, r *packet.Reader) {
	c, u := playingClient(sess)
	if u == nil {
		return
	}
	skillID := r.ReadInt()

	tmpl := c.Node().Tables().Skills.Get(skillID)
	if tmpl == nil {
		return
	}
	applied := false
	var level int
	var partyID int32
	var statPkt []byte
	now := time.Now()
	lock.With(u, func(g *lock.Locked[*field.User]) {
		level = u.Data.SkillLevel(skillID)
		if level == 0 {
			return
		}
		if u.Data.OnCooldown(skillID, now) {
			return
		}
		if cost := tmpl.MPCostAt(level); cost > 0 && !u.ChangeMP(g, -cost) {
			return
		}
		if ct := tmpl.CooltimeAt(level); ct > 0 {
			u.Data.SetCooldown(skillID, now.Add(time.Duration(ct)*time.Second))
		}
		applied = true
		partyID = u.PartyID
		if !tmpl.PartyBuff || partyID == 0 {
			h.applyBuffs(u, tmpl, level, now)
		}
		statPkt = field.StatChangedPacket(&u.Data.Stat)
	})
	if !applied {
		return
	}

	if tmpl.PartyBuff && partyID != 0 {
		if f := currentField(u); f != nil {
			f.ForEachPartyMember(partyID, func(g *lock.Locked[*field.User], member *field.User) {
				h.applyBuffs(member, tmpl, level, now)
				member.WritePacket(temporaryStatSetPacket(skillID))
			})
		}
	} else {
		c.WritePacket(temporaryStatSetPacket(skillID))
	}
	c.WritePacket(statPkt)
}

// applyBuffs stamps the skill's temporary stats on one user. The
// caller holds that user's guard.
func (h *handlers) applyBuffs(u *field.User, tmpl *data.SkillTemplate, level int, now time.Time) {
	for i := range tmpl.Buffs {
		b := &tmpl.Buffs[i]
		kind, ok := statKind(b.Stat)
		if !ok {
			h.log.Warn("skill buff names unknown stat",
				zap.Int32("skillId", tmpl.ID),
				zap.String("stat", b.Stat))
			continue
		}
		u.TempStats.Set(kind, world.TemporaryStatOption{
			Value:    b.ValueAt(level),
			SourceID: tmpl.ID,
			Expire:   now.Add(time.Duration(b.DurationAt(level)) * time.Second),
		})
	}
}

func statKind(name string) (world.TemporaryStatKind, bool) {
	switch name {
	case "pad":
		return world.StatPad, true
	case "pdd":
		return world.StatPdd, true
	case "mad":
		return world.StatMad, true
	case "speed":
		return world.StatSpeed, true
	case "jump":
		return world.StatJump, true
	case "haste":
		return world.StatHaste, true
	case "holy_symbol":
		return world.StatHolySymbol, true
	case "dark_sight":
		return world.StatDarkSight, true
	}
	return 0, false
}

func (h *handlers) dropPickUp(sess any, r *packet.Reader) {
	_, u := playingClient(sess)
	if u == nil {
		return
	}
	dropObjectID := r.ReadInt()
	lock.With(u, func(g *lock.Locked[*field.User]) {
		if f := u.Field(g); f != nil {
			f.PickUpDrop(g, u, dropObjectID)
		}
	})
}
