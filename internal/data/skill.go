package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SkillTemplate is the static definition of one skill. Per-level
// numbers are indexed by level-1; a slice shorter than MaxLevel
// repeats its last entry.
type SkillTemplate struct {
	ID         int32   `yaml:"id"`
	Name       string  `yaml:"name"`
	MaxLevel   int     `yaml:"max_level"`
	MPCost     []int32 `yaml:"mp_cost"`
	HPCost     []int32 `yaml:"hp_cost"`
	BulletCost []int32 `yaml:"bullet_cost"`
	DamagePct  []int32 `yaml:"damage_pct"` // percent of basic attack
	MobCount   []int32 `yaml:"mob_count"`  // max targets for AoE
	Cooltime   []int   `yaml:"cooltime_sec"`
	RectL      int16   `yaml:"rect_l"` // AoE rect relative to caster
	RectT      int16   `yaml:"rect_t"`
	RectR      int16   `yaml:"rect_r"`
	RectB      int16   `yaml:"rect_b"`

	Buffs     []SkillBuff `yaml:"buffs"`
	PartyBuff bool        `yaml:"party_buff"` // buffs reach party members in the field
}

// SkillBuff is one temporary stat a skill applies on use.
type SkillBuff struct {
	Stat     string  `yaml:"stat"` // pad, pdd, mad, speed, jump, haste, holy_symbol, dark_sight
	Value    []int32 `yaml:"value"`
	Duration []int   `yaml:"duration_sec"`
}

func (b *SkillBuff) ValueAt(level int) int32 { return levelValue(b.Value, level) }

func (b *SkillBuff) DurationAt(level int) int {
	if len(b.Duration) == 0 {
		return 0
	}
	if level < 1 {
		level = 1
	}
	if level > len(b.Duration) {
		level = len(b.Duration)
	}
	return b.Duration[level-1]
}

func levelValue(vs []int32, level int) int32 {
	if len(vs) == 0 {
		return 0
	}
	if level < 1 {
		level = 1
	}
	if level > len(vs) {
		level = len(vs)
	}
	return vs[level-1]
}

func (s *SkillTemplate) MPCostAt(level int) int32     { return levelValue(s.MPCost, level) }
func (s *SkillTemplate) HPCostAt(level int) int32     { return levelValue(s.HPCost, level) }
func (s *SkillTemplate) BulletCostAt(level int) int32 { return levelValue(s.BulletCost, level) }
func (s *SkillTemplate) DamagePctAt(level int) int32  { return levelValue(s.DamagePct, level) }
func (s *SkillTemplate) MobCountAt(level int) int32   { return levelValue(s.MobCount, level) }

func (s *SkillTemplate) CooltimeAt(level int) int {
	if len(s.Cooltime) == 0 {
		return 0
	}
	if level < 1 {
		level = 1
	}
	if level > len(s.Cooltime) {
		level = len(s.Cooltime)
	}
	return s.Cooltime[level-1]
}

type SkillTable struct {
	skills map[int32]*SkillTemplate
}

func LoadSkillTable(path string) (*SkillTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill table %s: %w", path, err)
	}
	var list []*SkillTemplate
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse skill table %s: %w", path, err)
	}
	t := &SkillTable{skills: make(map[int32]*SkillTemplate, len(list))}
	for _, s := range list {
		t.skills[s.ID] = s
	}
	return t, nil
}

func (t *SkillTable) Get(id int32) *SkillTemplate {
	return t.skills[id]
}

func (t *SkillTable) Count() int {
	return len(t.skills)
}
