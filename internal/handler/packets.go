package handler

import (
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
)

func userMovePacket(characterID int32, moveData []byte) []byte {
	w := packet.NewWriter(packet.OutUserMove)
	w.WriteInt(characterID)
	w.WriteBytes(moveData)
	return w.Bytes()
}

func chatPacket(characterID int32, name, text string) []byte {
	w := packet.NewWriter(packet.OutChat)
	w.WriteInt(characterID)
	w.WriteString(name)
	w.WriteString(text)
	return w.Bytes()
}

func whisperPacket(fromName string, fromChannel int32, text string) []byte {
	w := packet.NewWriter(packet.OutWhisper)
	w.WriteByte(0x12) // receive
	w.WriteString(fromName)
	w.WriteInt(fromChannel)
	w.WriteString(text)
	return w.Bytes()
}

func whisperResultPacket(targetName string, delivered bool) []byte {
	w := packet.NewWriter(packet.OutWhisper)
	w.WriteByte(0x0A) // send result
	w.WriteString(targetName)
	w.WriteBool(delivered)
	return w.Bytes()
}

func attackPacket(characterID, skillID int32, targets []attackTarget) []byte {
	w := packet.NewWriter(packet.OutUserAttack)
	w.WriteInt(characterID)
	w.WriteInt(skillID)
	w.WriteByte(byte(len(targets)))
	for _, t := range targets {
		w.WriteInt(t.mobObjectID)
		w.WriteInt(t.damage)
	}
	return w.Bytes()
}

func temporaryStatSetPacket(sourceID int32) []byte {
	w := packet.NewWriter(packet.OutTemporaryStatSet)
	w.WriteInt(sourceID)
	return w.Bytes()
}

func npcTalkPacket(npcID int32, talkType byte, text string) []byte {
	w := packet.NewWriter(packet.OutNpcTalk)
	w.WriteInt(npcID)
	w.WriteByte(talkType)
	w.WriteString(text)
	return w.Bytes()
}

func miniRoomInvitePacket(roomID, inviterID int32, inviterName string) []byte {
	w := packet.NewWriter(packet.OutMiniRoom)
	w.WriteByte(miniRoomInvite)
	w.WriteInt(roomID)
	w.WriteInt(inviterID)
	w.WriteString(inviterName)
	return w.Bytes()
}

func miniRoomStatePacket(roomID int32, op byte, actorID int32) []byte {
	w := packet.NewWriter(packet.OutMiniRoom)
	w.WriteByte(op)
	w.WriteInt(roomID)
	w.WriteInt(actorID)
	return w.Bytes()
}

func miniRoomOfferPacket(roomID, actorID, amount int32, money bool) []byte {
	w := packet.NewWriter(packet.OutMiniRoom)
	w.WriteByte(miniRoomPutItem)
	w.WriteInt(roomID)
	w.WriteInt(actorID)
	w.WriteBool(money)
	w.WriteInt(amount)
	return w.Bytes()
}

func miniRoomCompletePacket(roomID int32) []byte {
	w := packet.NewWriter(packet.OutMiniRoom)
	w.WriteByte(0x10) // completed
	w.WriteInt(roomID)
	return w.Bytes()
}

func miniRoomErrorPacket(reason string) []byte {
	w := packet.NewWriter(packet.OutMiniRoom)
	w.WriteByte(0x7F) // error
	w.WriteString(reason)
	return w.Bytes()
}

func partyFailPacket(reason string) []byte {
	w := packet.NewWriter(packet.OutPartyResult)
	w.WriteBool(false)
	w.WriteString(reason)
	return w.Bytes()
}
