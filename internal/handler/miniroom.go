package handler

import (
	"go.uber.org/zap"

	"github.com/CCasusensa/kinoko-sub000/internal/field"
	"github.com/CCasusensa/kinoko-sub000/internal/lock"
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
)

// Trade sub-operations inside the mini-room protocol.
const (
	miniRoomInvite  byte = 0
	miniRoomAccept  byte = 1
	miniRoomDecline byte = 2
	miniRoomPutItem byte = 3
	miniRoomPutMeso byte = 4
	miniRoomConfirm byte = 5
	miniRoomLeave   byte = 6
)

// miniRoom handles the trade sub-protocol. Escrow semantics live in
// field.MiniRoom; this handler only parses, routes and notifies.
func (h *handlers) miniRoom(sess any, r *packet.Reader) {
	c, u := playingClient(sess)
	if u == nil {
		return
	}
	op := r.ReadByte()

	f := currentField(u)
	if f == nil {
		return
	}

	if op == miniRoomInvite {
		targetID := r.ReadInt()
		target, ok := f.Users.Get(targetID)
		if !ok || target.CharacterID() == u.CharacterID() {
			return
		}
		mr, err := f.CreateMiniRoom(u, target)
		if err != nil {
			c.WritePacket(miniRoomErrorPacket(err.Error()))
			return
		}
		target.WritePacket(miniRoomInvitePacket(mr.ID(), u.CharacterID(), u.Name()))
		return
	}

	mr := roomOf(f, u)
	if mr == nil {
		return
	}
	other := mr.Other(u)

	switch op {
	case miniRoomAccept:
		if err := mr.Accept(u); err != nil {
			c.WritePacket(miniRoomErrorPacket(err.Error()))
			return
		}
		notifyRoom(u, other, miniRoomStatePacket(mr.ID(), miniRoomAccept, u.CharacterID()))

	case miniRoomDecline, miniRoomLeave:
		mr.Cancel()
		notifyRoom(u, other, miniRoomStatePacket(mr.ID(), op, u.CharacterID()))

	case miniRoomPutItem:
		tab := int(r.ReadByte())
		slot := r.ReadShort()
		qty := r.ReadInt()
		if err := mr.PutItem(u, c.Node().Tables(), tab, slot, qty); err != nil {
			c.WritePacket(miniRoomErrorPacket(err.Error()))
			return
		}
		notifyRoom(u, other, miniRoomOfferPacket(mr.ID(), u.CharacterID(), qty, false))

	case miniRoomPutMeso:
		amount := r.ReadInt()
		if err := mr.PutMoney(u, amount); err != nil {
			c.WritePacket(miniRoomErrorPacket(err.Error()))
			return
		}
		notifyRoom(u, other, miniRoomOfferPacket(mr.ID(), u.CharacterID(), amount, true))

	case miniRoomConfirm:
		completed, err := mr.Confirm(u)
		if err != nil {
			notifyRoom(u, other, miniRoomErrorPacket(err.Error()))
			return
		}
		if completed {
			notifyRoom(u, other, miniRoomCompletePacket(mr.ID()))
		} else {
			notifyRoom(u, other, miniRoomStatePacket(mr.ID(), miniRoomConfirm, u.CharacterID()))
		}

	default:
		h.log.Debug("unknown miniroom op", zap.Uint8("op", op))
	}
}

func roomOf(f *field.Field, u *field.User) *field.MiniRoom {
	var roomID int32
	lock.With(u, func(g *lock.Locked[*field.User]) {
		roomID = u.MiniRoomID
	})
	if roomID == 0 {
		return nil
	}
	return f.MiniRoomByID(roomID)
}

func notifyRoom(u, other *field.User, p []byte) {
	u.WritePacket(p)
	if other != nil {
		other.WritePacket(p)
	}
}
