package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/CCasusensa/kinoko-sub000/internal/channel"
	"github.com/CCasusensa/kinoko-sub000/internal/field"
	"github.com/CCasusensa/kinoko-sub000/internal/lock"
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
)

// migrateIn is the first packet of a reconnecting client: consume the
// migration ticket, load the character and enter the world.
func (h *handlers) migrateIn(sess any, r *packet.Reader) {
	c, ok := sess.(*channel.Client)
	if !ok {
		return
	}
	accountID := r.ReadInt()
	characterID := r.ReadInt()
	copy(c.MachineID[:], r.ReadBytes(16))
	copy(c.ClientKey[:], r.ReadBytes(8))

	if err := c.Node().MigrateIn(context.Background(), c, accountID, characterID); err != nil {
		h.log.Warn("migrate-in rejected",
			zap.Int32("characterId", characterID),
			zap.Error(err))
		c.Disconnect()
	}
}

func (h *handlers) userMove(sess any, r *packet.Reader) {
	_, u := playingClient(sess)
	if u == nil {
		return
	}
	x := r.ReadShort()
	y := r.ReadShort()
	fh := r.ReadShort()
	moveData := r.ReadBytes(r.Remaining())

	var f *field.Field
	lock.With(u, func(g *lock.Locked[*field.User]) {
		u.Move(g, x, y, fh)
		f = u.Field(g)
	})
	if f != nil {
		f.BroadcastExcept(userMovePacket(u.CharacterID(), moveData), u.CharacterID())
	}
}

func (h *handlers) userChat(sess any, r *packet.Reader) {
	_, u := playingClient(sess)
	if u == nil {
		return
	}
	text := r.ReadString()
	if f := currentField(u); f != nil {
		f.Broadcast(chatPacket(u.CharacterID(), u.Name(), text))
	}
}

// whisper delivers a private message to a user anywhere in the world
// through the central directory.
func (h *handlers) whisper(sess any, r *packet.Reader) {
	c, u := playingClient(sess)
	if u == nil {
		return
	}
	targetName := r.ReadString()
	text := r.ReadString()

	go func() {
		users, err := c.Node().QueryUsers(context.Background(), targetName)
		if err != nil || len(users) == 0 {
			c.WritePacket(whisperResultPacket(targetName, false))
			return
		}
		if err := c.Node().SendToUser(targetName, whisperPacket(u.Name(), c.Node().ChannelID(), text)); err != nil {
			h.log.Warn("whisper delivery failed", zap.String("target", targetName), zap.Error(err))
			return
		}
		c.WritePacket(whisperResultPacket(targetName, true))
	}()
}

// fieldTransfer handles portal use. Scripted portals run their script
// instead of warping.
func (h *handlers) fieldTransfer(sess any, r *packet.Reader) {
	c, u := playingClient(sess)
	if u == nil {
		return
	}
	portalName := r.ReadString()

	f := currentField(u)
	if f == nil {
		return
	}
	portal := f.Template().PortalByName(portalName)
	if portal == nil {
		h.log.Warn("unknown portal",
			zap.Int32("characterId", u.CharacterID()),
			zap.String("portal", portalName))
		return
	}
	if portal.Script != "" {
		h.startScript(c, u, portal.Script, 0)
		return
	}
	if portal.TargetMap == 0 {
		return
	}
	if err := c.Node().ChangeField(c, u, portal.TargetMap, portal.TargetName); err != nil {
		h.log.Warn("field transfer failed",
			zap.Int32("characterId", u.CharacterID()),
			zap.Int32("targetMap", portal.TargetMap),
			zap.Error(err))
	}
}

func (h *handlers) channelTransfer(sess any, r *packet.Reader) {
	c, u := playingClient(sess)
	if u == nil {
		return
	}
	targetChannel := r.ReadInt()
	go func() {
		if err := c.Node().TransferChannel(context.Background(), c, u, targetChannel); err != nil {
			h.log.Warn("channel transfer failed",
				zap.Int32("characterId", u.CharacterID()),
				zap.Int32("targetChannel", targetChannel),
				zap.Error(err))
		}
	}()
}

func (h *handlers) userQuit(sess any, r *packet.Reader) {
	if c, ok := sess.(*channel.Client); ok {
		c.Disconnect()
	}
}
