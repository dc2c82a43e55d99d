package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MobTemplate is the static definition of one monster kind.
type MobTemplate struct {
	ID          int32   `yaml:"id"`
	Name        string  `yaml:"name"`
	Level       int16   `yaml:"level"`
	MaxHP       int32   `yaml:"max_hp"`
	MaxMP       int32   `yaml:"max_mp"`
	Exp         int32   `yaml:"exp"`
	HPRecovery  int32   `yaml:"hp_recovery"` // per recovery tick
	MPRecovery  int32   `yaml:"mp_recovery"`
	FixedDamage int32   `yaml:"fixed_damage"` // >0: every hit deals exactly this
	Boss        bool    `yaml:"boss"`
	RemoveAfter int     `yaml:"remove_after_sec"` // >0: despawn after this many seconds
	Revives     []int32 `yaml:"revives"`          // mob ids spawned on death
	ReviveDelay int     `yaml:"revive_delay_ms"`
	PADamage    int32   `yaml:"pa_damage"` // physical attack used against users
}

type MobTable struct {
	mobs map[int32]*MobTemplate
}

func LoadMobTable(path string) (*MobTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mob table %s: %w", path, err)
	}
	var list []*MobTemplate
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse mob table %s: %w", path, err)
	}
	t := &MobTable{mobs: make(map[int32]*MobTemplate, len(list))}
	for _, m := range list {
		t.mobs[m.ID] = m
	}
	return t, nil
}

func (t *MobTable) Get(id int32) *MobTemplate {
	return t.mobs[id]
}

func (t *MobTable) Count() int {
	return len(t.mobs)
}
