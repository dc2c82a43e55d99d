package handler

import (
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
)

// mobMove relays a controller's movement report for one of its mobs.
// Non-controller reports are dropped inside the field.
func (h *handlers) mobMove(sess any, r *packet.Reader) {
	_, u := playingClient(sess)
	if u == nil {
		return
	}
	mobObjectID := r.ReadInt()
	x := r.ReadShort()
	y := r.ReadShort()
	fh := r.ReadShort()
	moveData := r.ReadBytes(r.Remaining())

	if f := currentField(u); f != nil {
		f.MoveMob(u.CharacterID(), mobObjectID, x, y, fh, moveData)
	}
}

// reactorHit advances a reactor; a finishing hit spills the reactor's
// reward table onto the ground.
func (h *handlers) reactorHit(sess any, r *packet.Reader) {
	_, u := playingClient(sess)
	if u == nil {
		return
	}
	reactorObjectID := r.ReadInt()

	f := currentField(u)
	if f == nil {
		return
	}
	reactor, finished, ok := f.HitReactor(reactorObjectID)
	if !ok || !finished {
		return
	}
	f.SpillRewards(reactor.TemplateID(), reactor.X, reactor.Y)
}
