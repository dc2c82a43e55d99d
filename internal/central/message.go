// Package central implements the world's coordination process and the
// channel side of its wire protocol. The central server owns the
// authoritative user directory, migration tickets and parties; channel
// nodes reach it over length-framed TCP with correlation-id requests.
package central

import (
	"time"

	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
	"github.com/CCasusensa/kinoko-sub000/internal/world"
)

// MessageKind tags every frame between a channel node and central.
// Requests carry a correlation id echoed by the matching result;
// one-way casts carry correlation id zero.
type MessageKind uint16

const (
	KindInitializeRequest MessageKind = iota + 1
	KindInitializeResult
	KindShutdownRequest
	KindShutdownResult
	KindTransferRequest // grant a migration ticket for an outbound move
	KindTransferResult
	KindMigrateRequest // consume a ticket for an inbound reconnect
	KindMigrateResult
	KindUserConnect
	KindUserUpdate
	KindUserDisconnect
	KindUserPacketRequest // deliver a packet to a named user, wherever they are
	KindUserPacketReceive
	KindUserPacketBroadcast
	KindServerPacketBroadcast
	KindUserQueryRequest
	KindUserQueryResult
	KindPartyRequest
	KindPartyResult
)

// RemoteUser is the directory snapshot of one online character. It is
// what a channel pushes on connect and update, and what queries and
// party results carry back.
type RemoteUser struct {
	ChannelID   int32
	AccountID   int32
	CharacterID int32
	Name        string
	Level       int16
	Job         int16
	FieldID     int32
	PartyID     int32
}

func WriteRemoteUser(w *packet.Writer, u RemoteUser) {
	w.WriteInt(u.ChannelID)
	w.WriteInt(u.AccountID)
	w.WriteInt(u.CharacterID)
	w.WriteString(u.Name)
	w.WriteShort(u.Level)
	w.WriteShort(u.Job)
	w.WriteInt(u.FieldID)
	w.WriteInt(u.PartyID)
}

func ReadRemoteUser(r *packet.Reader) RemoteUser {
	return RemoteUser{
		ChannelID:   r.ReadInt(),
		AccountID:   r.ReadInt(),
		CharacterID: r.ReadInt(),
		Name:        r.ReadString(),
		Level:       r.ReadShort(),
		Job:         r.ReadShort(),
		FieldID:     r.ReadInt(),
		PartyID:     r.ReadInt(),
	}
}

// Temporary stat snapshots ride inside migrate results so buffs
// survive a channel transfer.
func WriteTempStats(w *packet.Writer, snapshot map[world.TemporaryStatKind]world.TemporaryStatOption) {
	w.WriteShort(int16(len(snapshot)))
	for kind, opt := range snapshot {
		w.WriteShort(int16(kind))
		w.WriteInt(opt.Value)
		w.WriteInt(opt.SourceID)
		w.WriteLong(opt.Expire.UnixMilli())
	}
}

func ReadTempStats(r *packet.Reader) map[world.TemporaryStatKind]world.TemporaryStatOption {
	n := int(r.ReadShort())
	if n <= 0 {
		return nil
	}
	out := make(map[world.TemporaryStatKind]world.TemporaryStatOption, n)
	for i := 0; i < n; i++ {
		kind := world.TemporaryStatKind(r.ReadShort())
		opt := world.TemporaryStatOption{
			Value:    r.ReadInt(),
			SourceID: r.ReadInt(),
		}
		opt.Expire = time.UnixMilli(r.ReadLong())
		out[kind] = opt
	}
	return out
}
