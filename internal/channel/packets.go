package channel

import (
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
	"github.com/CCasusensa/kinoko-sub000/internal/world"
)

// setFieldPacket tells the client which map it is on. The full stat
// block rides along on the first send after migrate-in; field moves
// reuse the same shape with the current stats.
func setFieldPacket(channelID int32, mapID int32, portal byte, cd *world.CharacterData) []byte {
	w := packet.NewWriter(packet.OutSetField)
	w.WriteInt(channelID)
	w.WriteInt(mapID)
	w.WriteByte(portal)
	w.WriteInt(cd.ID)
	w.WriteString(cd.Name)
	st := cd.Stat
	w.WriteShort(st.Level)
	w.WriteShort(st.Job)
	w.WriteInt(st.HP)
	w.WriteInt(st.MaxHP)
	w.WriteInt(st.MP)
	w.WriteInt(st.MaxMP)
	w.WriteLong(st.Exp)
	return w.Bytes()
}

// migrateCommandPacket commands the client to reconnect to another
// channel's address.
func migrateCommandPacket(host string, port int32) []byte {
	w := packet.NewWriter(packet.OutMigrateCommand)
	w.WriteBool(true)
	w.WriteString(host)
	w.WriteInt(port)
	return w.Bytes()
}

func transferChannelFailPacket() []byte {
	w := packet.NewWriter(packet.OutTransferChannelFail)
	w.WriteByte(1)
	return w.Bytes()
}

func partyMemberHPPacket(characterID, hp, maxHP int32) []byte {
	w := packet.NewWriter(packet.OutPartyMemberHP)
	w.WriteInt(characterID)
	w.WriteInt(hp)
	w.WriteInt(maxHP)
	return w.Bytes()
}

func partyResultPacket(partyID, leaderID int32, members []int32) []byte {
	w := packet.NewWriter(packet.OutPartyResult)
	w.WriteBool(true)
	w.WriteInt(partyID)
	w.WriteInt(leaderID)
	w.WriteShort(int16(len(members)))
	for _, id := range members {
		w.WriteInt(id)
	}
	return w.Bytes()
}
