package field

import (
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
	"github.com/CCasusensa/kinoko-sub000/internal/world"
)

// Message types carried inside an OutMessage packet.
const (
	messageDropPickUp  byte = 0
	messageQuestRecord byte = 1
	messageIncExp      byte = 3
)

// Packet builders for entity lifecycle broadcasts. Anything that
// depends on channel or session state stays in the handler package;
// these cover only what the field itself announces.

func userEnterFieldPacket(u *User) []byte {
	w := packet.NewWriter(packet.OutUserEnterField)
	w.WriteInt(u.CharacterID())
	w.WriteString(u.Name())
	w.WriteShort(u.Data.Stat.Level)
	w.WriteShort(u.Data.Stat.Job)
	w.WriteShort(u.X)
	w.WriteShort(u.Y)
	w.WriteShort(u.Foothold)
	return w.Bytes()
}

func userLeaveFieldPacket(characterID int32) []byte {
	w := packet.NewWriter(packet.OutUserLeaveField)
	w.WriteInt(characterID)
	return w.Bytes()
}

func mobEnterFieldPacket(objectID int32, templateID int32, x, y, fh int16) []byte {
	w := packet.NewWriter(packet.OutMobEnterField)
	w.WriteInt(objectID)
	w.WriteByte(1) // controlled
	w.WriteInt(templateID)
	w.WriteShort(x)
	w.WriteShort(y)
	w.WriteShort(fh)
	return w.Bytes()
}

func mobLeaveFieldPacket(objectID int32, deadType byte) []byte {
	w := packet.NewWriter(packet.OutMobLeaveField)
	w.WriteInt(objectID)
	w.WriteByte(deadType) // 0 = vanish, 1 = death animation
	return w.Bytes()
}

// mobChangeControllerPacket with level 1 tells the receiver it now
// drives the mob; level 0 tells everyone else to stop.
func mobChangeControllerPacket(objectID int32, level byte) []byte {
	w := packet.NewWriter(packet.OutMobChangeController)
	w.WriteByte(level)
	w.WriteInt(objectID)
	return w.Bytes()
}

func mobMovePacket(objectID int32, moveData []byte) []byte {
	w := packet.NewWriter(packet.OutMobMove)
	w.WriteInt(objectID)
	w.WriteBytes(moveData)
	return w.Bytes()
}

func mobHPIndicatorPacket(objectID int32, ratio byte) []byte {
	w := packet.NewWriter(packet.OutMobHPIndicator)
	w.WriteInt(objectID)
	w.WriteByte(ratio)
	return w.Bytes()
}

func npcEnterFieldPacket(n *Npc) []byte {
	w := packet.NewWriter(packet.OutNpcEnterField)
	w.WriteInt(n.ObjectID())
	w.WriteInt(n.TemplateID())
	w.WriteShort(n.X)
	w.WriteShort(n.Y)
	w.WriteBool(!n.Flip)
	w.WriteShort(n.Foothold)
	w.WriteShort(n.RX0)
	w.WriteShort(n.RX1)
	return w.Bytes()
}

func npcLeaveFieldPacket(objectID int32) []byte {
	w := packet.NewWriter(packet.OutNpcLeaveField)
	w.WriteInt(objectID)
	return w.Bytes()
}

// Drop enter types: 1 = drop animation from source, 2 = already on the
// ground (sent to late joiners).
func dropEnterFieldPacket(d *Drop, enterType byte) []byte {
	w := packet.NewWriter(packet.OutDropEnterField)
	w.WriteByte(enterType)
	w.WriteInt(d.ObjectID())
	w.WriteBool(d.IsMoney())
	w.WriteInt(d.ItemID)
	w.WriteInt(d.OwnerID)
	w.WriteByte(byte(d.Ownership))
	w.WriteShort(d.X)
	w.WriteShort(d.Y)
	w.WriteInt(d.SourceID)
	return w.Bytes()
}

// Drop leave types: 0 = expired, 2 = picked up by a user (followed by
// the looter's object id).
func dropLeaveFieldPacket(objectID int32, leaveType byte, pickUpID int32) []byte {
	w := packet.NewWriter(packet.OutDropLeaveField)
	w.WriteByte(leaveType)
	w.WriteInt(objectID)
	if leaveType == 2 {
		w.WriteInt(pickUpID)
	}
	return w.Bytes()
}

func reactorEnterFieldPacket(r *Reactor, state byte) []byte {
	w := packet.NewWriter(packet.OutReactorEnterField)
	w.WriteInt(r.ObjectID())
	w.WriteInt(r.TemplateID())
	w.WriteByte(state)
	w.WriteShort(r.X)
	w.WriteShort(r.Y)
	w.WriteString(r.Name())
	return w.Bytes()
}

func reactorChangeStatePacket(objectID int32, state byte) []byte {
	w := packet.NewWriter(packet.OutReactorChangeState)
	w.WriteInt(objectID)
	w.WriteByte(state)
	return w.Bytes()
}

func reactorLeaveFieldPacket(objectID int32, state byte) []byte {
	w := packet.NewWriter(packet.OutReactorLeaveField)
	w.WriteInt(objectID)
	w.WriteByte(state)
	return w.Bytes()
}

func expGainedPacket(exp int64) []byte {
	w := packet.NewWriter(packet.OutMessage)
	w.WriteByte(messageIncExp)
	w.WriteBool(true) // white text
	w.WriteInt(int32(exp))
	return w.Bytes()
}

func mesoPickUpPacket(amount int32) []byte {
	w := packet.NewWriter(packet.OutMessage)
	w.WriteByte(messageDropPickUp)
	w.WriteBool(true) // money
	w.WriteInt(amount)
	return w.Bytes()
}

func itemPickUpPacket(itemID, quantity int32) []byte {
	w := packet.NewWriter(packet.OutMessage)
	w.WriteByte(messageDropPickUp)
	w.WriteBool(false)
	w.WriteInt(itemID)
	w.WriteInt(quantity)
	return w.Bytes()
}

// QuestRecordPacket tells the client a quest's progress string
// changed. Used by the npc script runtime.
func QuestRecordPacket(questID int32, state world.QuestState, progress string) []byte {
	w := packet.NewWriter(packet.OutMessage)
	w.WriteByte(messageQuestRecord)
	w.WriteShort(int16(questID))
	w.WriteByte(byte(state))
	if state == world.QuestStarted {
		w.WriteString(progress)
	}
	return w.Bytes()
}

func StatChangedPacket(st *world.CharacterStat) []byte {
	w := packet.NewWriter(packet.OutStatChanged)
	w.WriteShort(st.Level)
	w.WriteShort(st.Job)
	w.WriteInt(st.HP)
	w.WriteInt(st.MaxHP)
	w.WriteInt(st.MP)
	w.WriteInt(st.MaxMP)
	w.WriteShort(st.AP)
	w.WriteShort(st.SP)
	w.WriteLong(st.Exp)
	w.WriteShort(st.Pop)
	return w.Bytes()
}
