package handler

import (
	"time"

	"go.uber.org/zap"

	"github.com/CCasusensa/kinoko-sub000/internal/channel"
	"github.com/CCasusensa/kinoko-sub000/internal/field"
	"github.com/CCasusensa/kinoko-sub000/internal/lock"
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
	"github.com/CCasusensa/kinoko-sub000/internal/script"
	"github.com/CCasusensa/kinoko-sub000/internal/world"
)

// npcTalk opens an npc's conversation script.
func (h *handlers) npcTalk(sess any, r *packet.Reader) {
	c, u := playingClient(sess)
	if u == nil {
		return
	}
	npcObjectID := r.ReadInt()

	f := currentField(u)
	if f == nil {
		return
	}
	n, ok := f.Npcs.Get(npcObjectID)
	if !ok || !n.HasScript() {
		return
	}
	h.startScript(c, u, n.Template().Script, n.TemplateID())
}

// scriptAnswer feeds the client's dialog response into the running
// conversation.
func (h *handlers) scriptAnswer(sess any, r *packet.Reader) {
	c, _ := playingClient(sess)
	if c == nil {
		return
	}
	resp := script.Response{
		Action: r.ReadByte(),
		Answer: r.ReadInt(),
		Text:   r.ReadString(),
	}
	convo := c.Conversation()
	if convo == nil {
		return
	}
	convo.Resume(resp)
}

func (h *handlers) startScript(c *channel.Client, u *field.User, name string, npcID int32) {
	scripts := c.Node().Scripts()
	if !scripts.Has(name) {
		h.log.Warn("missing script",
			zap.String("script", name),
			zap.Int32("npcId", npcID))
		return
	}
	convo, err := scripts.Start(name, &scriptActions{c: c, u: u, npcID: npcID})
	if err != nil {
		h.log.Warn("script start failed", zap.String("script", name), zap.Error(err))
		return
	}
	c.SetConversation(convo)
}

// scriptActions is the world surface exposed to conversation scripts.
// Every method runs on the conversation goroutine and does its own
// locking.
type scriptActions struct {
	c     *channel.Client
	u     *field.User
	npcID int32
}

func (a *scriptActions) SendTalk(talkType byte, text string) {
	a.c.WritePacket(npcTalkPacket(a.npcID, talkType, text))
}

func (a *scriptActions) GiveItem(itemID, quantity int32) bool {
	tmpl := a.c.Node().Tables().Items.Get(itemID)
	if tmpl == nil {
		return false
	}
	ok := false
	lock.With(a.u, func(g *lock.Locked[*field.User]) {
		ok = a.u.Data.Inventory.Add(tmpl, quantity)
	})
	return ok
}

func (a *scriptActions) HasItem(itemID, quantity int32) bool {
	tmpl := a.c.Node().Tables().Items.Get(itemID)
	if tmpl == nil {
		return false
	}
	ok := false
	lock.With(a.u, func(g *lock.Locked[*field.User]) {
		ok = a.u.Data.Inventory.CountOf(tmpl.Type, itemID) >= quantity
	})
	return ok
}

func (a *scriptActions) TakeItem(itemID, quantity int32) bool {
	tmpl := a.c.Node().Tables().Items.Get(itemID)
	if tmpl == nil {
		return false
	}
	ok := false
	lock.With(a.u, func(g *lock.Locked[*field.User]) {
		ok = a.u.Data.Inventory.Remove(tmpl.Type, itemID, quantity)
	})
	return ok
}

func (a *scriptActions) GiveExp(exp int64) {
	var statPkt []byte
	lock.With(a.u, func(g *lock.Locked[*field.User]) {
		a.u.AddExp(g, exp)
		statPkt = field.StatChangedPacket(&a.u.Data.Stat)
	})
	a.c.WritePacket(statPkt)
}

func (a *scriptActions) GiveMeso(amount int32) bool {
	ok := false
	lock.With(a.u, func(g *lock.Locked[*field.User]) {
		ok = a.u.Data.Inventory.AddMeso(amount)
	})
	return ok
}

func (a *scriptActions) Warp(mapID int32, portalName string) {
	_ = a.c.Node().ChangeField(a.c, a.u, mapID, portalName)
}

func (a *scriptActions) StartQuest(questID int32) {
	lock.With(a.u, func(g *lock.Locked[*field.User]) {
		a.u.Data.Quests[questID] = &world.QuestRecord{
			QuestID: questID,
			State:   world.QuestStarted,
		}
	})
	a.c.WritePacket(field.QuestRecordPacket(questID, world.QuestStarted, ""))
}

func (a *scriptActions) CompleteQuest(questID int32) {
	lock.With(a.u, func(g *lock.Locked[*field.User]) {
		a.u.Data.Quests[questID] = &world.QuestRecord{
			QuestID:     questID,
			State:       world.QuestCompleted,
			CompletedAt: time.Now(),
		}
	})
	a.c.WritePacket(field.QuestRecordPacket(questID, world.QuestCompleted, ""))
}

func (a *scriptActions) HasQuestStarted(questID int32) bool {
	started := false
	lock.With(a.u, func(g *lock.Locked[*field.User]) {
		started = a.u.Data.HasQuestStarted(questID)
	})
	return started
}

func (a *scriptActions) Level() int16 {
	var lv int16
	lock.With(a.u, func(g *lock.Locked[*field.User]) {
		lv = a.u.Data.Stat.Level
	})
	return lv
}

func (a *scriptActions) Job() int16 {
	var job int16
	lock.With(a.u, func(g *lock.Locked[*field.User]) {
		job = a.u.Data.Stat.Job
	})
	return job
}
