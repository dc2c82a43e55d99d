package world

import "time"

// CharacterStat is the persistent stat block of one character.
type CharacterStat struct {
	Level  int16
	Job    int16
	Str    int16
	Dex    int16
	Int    int16
	Luk    int16
	HP     int32
	MaxHP  int32
	MP     int32
	MaxMP  int32
	AP     int16
	SP     int16
	Exp    int64
	Pop    int16 // fame
	Field  int32 // last known map id
	Portal byte
}

// SkillRecord is one learned skill.
type SkillRecord struct {
	SkillID int32
	Level   int
}

// QuestState mirrors the original quest record states.
type QuestState int

const (
	QuestNone QuestState = iota
	QuestStarted
	QuestCompleted
)

// QuestRecord is one quest's progress.
type QuestRecord struct {
	QuestID     int32
	State       QuestState
	Progress    string
	CompletedAt time.Time
}

// CharacterData is everything loaded for a character at migrate-in
// and saved at logout. Mutation requires the owning user's guard.
type CharacterData struct {
	ID        int32
	AccountID int32
	Name      string
	Stat      CharacterStat
	Inventory *Inventory
	Skills    map[int32]*SkillRecord
	Quests    map[int32]*QuestRecord

	// Skill cooldowns: skill id -> next usable time. Not persisted.
	Cooldowns map[int32]time.Time
}

func NewCharacterData(id, accountID int32, name string) *CharacterData {
	return &CharacterData{
		ID:        id,
		AccountID: accountID,
		Name:      name,
		Inventory: NewInventory(96),
		Skills:    make(map[int32]*SkillRecord),
		Quests:    make(map[int32]*QuestRecord),
		Cooldowns: make(map[int32]time.Time),
	}
}

// SkillLevel returns the learned level of a skill, 0 if unknown.
func (c *CharacterData) SkillLevel(skillID int32) int {
	if sr, ok := c.Skills[skillID]; ok {
		return sr.Level
	}
	return 0
}

// OnCooldown reports whether a skill is still cooling down at now.
func (c *CharacterData) OnCooldown(skillID int32, now time.Time) bool {
	until, ok := c.Cooldowns[skillID]
	return ok && now.Before(until)
}

// SetCooldown stamps a skill's next usable time.
func (c *CharacterData) SetCooldown(skillID int32, until time.Time) {
	c.Cooldowns[skillID] = until
}

// HasQuestStarted reports whether the quest is in progress.
func (c *CharacterData) HasQuestStarted(questID int32) bool {
	qr, ok := c.Quests[questID]
	return ok && qr.State == QuestStarted
}
