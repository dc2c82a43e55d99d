package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/CCasusensa/kinoko-sub000/internal/central"
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
)

// partyRequest brokers a party operation through central. The result
// push from central updates every member, including the requester;
// only failures are answered directly here.
func (h *handlers) partyRequest(sess any, r *packet.Reader) {
	c, u := playingClient(sess)
	if u == nil {
		return
	}
	op := central.PartyOp(r.ReadByte())
	targetID := r.ReadInt() // party id for join, character id otherwise

	go func() {
		_, ok, reason, err := c.Node().PartyRequest(context.Background(), op, u.CharacterID(), targetID)
		if err != nil {
			h.log.Warn("party request failed",
				zap.Int32("characterId", u.CharacterID()),
				zap.Error(err))
			return
		}
		if !ok {
			c.WritePacket(partyFailPacket(reason))
		}
	}()
}
