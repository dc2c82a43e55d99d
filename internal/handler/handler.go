// Package handler contains the client packet handlers. Each handler
// receives the dispatching Client and reaches the node, fields and
// central link through it. Handlers run on the session's read
// goroutine; anything blocking (scripts, central round trips) moves to
// its own goroutine.
package handler

import (
	"go.uber.org/zap"

	"github.com/CCasusensa/kinoko-sub000/internal/channel"
	"github.com/CCasusensa/kinoko-sub000/internal/field"
	"github.com/CCasusensa/kinoko-sub000/internal/lock"
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
)

type handlers struct {
	log *zap.Logger
}

// RegisterAll wires every client operation into the registry.
func RegisterAll(reg *packet.Registry, log *zap.Logger) {
	h := &handlers{log: log}

	connected := []packet.SessionState{packet.StateConnected}
	inWorld := []packet.SessionState{packet.StateInWorld}

	reg.Register(packet.InMigrateIn, connected, h.migrateIn)
	reg.Register(packet.InUserMove, inWorld, h.userMove)
	reg.Register(packet.InUserChat, inWorld, h.userChat)
	reg.Register(packet.InWhisper, inWorld, h.whisper)
	reg.Register(packet.InFieldTransfer, inWorld, h.fieldTransfer)
	reg.Register(packet.InChannelTransfer, inWorld, h.channelTransfer)
	reg.Register(packet.InUserAttack, inWorld, h.userAttack)
	reg.Register(packet.InUserSkillUse, inWorld, h.userSkillUse)
	reg.Register(packet.InDropPickUp, inWorld, h.dropPickUp)
	reg.Register(packet.InMiniRoom, inWorld, h.miniRoom)
	reg.Register(packet.InPartyRequest, inWorld, h.partyRequest)
	reg.Register(packet.InNpcTalk, inWorld, h.npcTalk)
	reg.Register(packet.InScriptAnswer, inWorld, h.scriptAnswer)
	reg.Register(packet.InReactorHit, inWorld, h.reactorHit)
	reg.Register(packet.InMobMove, inWorld, h.mobMove)
	reg.Register(packet.InUserQuit, inWorld, h.userQuit)
}

// playingClient resolves the dispatching session to a client with a
// bound user. A nil return means the packet raced a disconnect and
// should be dropped.
func playingClient(sess any) (*channel.Client, *field.User) {
	c, ok := sess.(*channel.Client)
	if !ok {
		return nil, nil
	}
	u := c.User()
	if u == nil {
		return nil, nil
	}
	return c, u
}

// currentField reads the user's field under its guard.
func currentField(u *field.User) *field.Field {
	var f *field.Field
	lock.With(u, func(g *lock.Locked[*field.User]) {
		f = u.Field(g)
	})
	return f
}
