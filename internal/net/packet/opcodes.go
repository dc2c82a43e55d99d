package packet

// Client → channel operation tags.
const (
	InMigrateIn       uint16 = 0x0014
	InUserMove        uint16 = 0x0029
	InUserChat        uint16 = 0x002A
	InWhisper         uint16 = 0x002C
	InFieldTransfer   uint16 = 0x0026 // portal use
	InChannelTransfer uint16 = 0x0027
	InUserAttack      uint16 = 0x002F
	InUserSkillUse    uint16 = 0x0030
	InDropPickUp      uint16 = 0x0036
	InMiniRoom        uint16 = 0x007C // trade dialog sub-protocol
	InPartyRequest    uint16 = 0x007E
	InNpcTalk         uint16 = 0x003A
	InScriptAnswer    uint16 = 0x003B
	InReactorHit      uint16 = 0x00A8
	InMobMove         uint16 = 0x00BC // controller relay
	InUserQuit        uint16 = 0x00C8
)

// Channel → client operation tags.
const (
	OutMigrateCommand      uint16 = 0x0010
	OutStatChanged         uint16 = 0x001C
	OutMessage             uint16 = 0x0027 // exp gain, drop pickup, quest record
	OutChat                uint16 = 0x0067
	OutWhisper             uint16 = 0x0069
	OutSetField            uint16 = 0x007D
	OutTransferChannelFail uint16 = 0x0083
	OutUserEnterField      uint16 = 0x008F
	OutUserLeaveField      uint16 = 0x0090
	OutUserMove            uint16 = 0x0094
	OutUserAttack          uint16 = 0x0095
	OutTemporaryStatSet    uint16 = 0x001D
	OutTemporaryStatReset  uint16 = 0x001E
	OutNpcTalk             uint16 = 0x0130
	OutMiniRoom            uint16 = 0x00E2
	OutPartyResult         uint16 = 0x00CC
	OutPartyMemberHP       uint16 = 0x00CD
	OutMobEnterField       uint16 = 0x00EC
	OutMobLeaveField       uint16 = 0x00ED
	OutMobChangeController uint16 = 0x00EE
	OutMobMove             uint16 = 0x00EF
	OutMobHPIndicator      uint16 = 0x00FA
	OutNpcEnterField       uint16 = 0x0101
	OutNpcLeaveField       uint16 = 0x0102
	OutDropEnterField      uint16 = 0x010C
	OutDropLeaveField      uint16 = 0x010D
	OutReactorChangeState  uint16 = 0x0117
	OutReactorEnterField   uint16 = 0x0118
	OutReactorLeaveField   uint16 = 0x0119
)
