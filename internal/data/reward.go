package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Reward is one possible drop from a mob kill.
type Reward struct {
	ItemID  int32   `yaml:"item_id"` // 0 = money reward
	Min     int32   `yaml:"min"`
	Max     int32   `yaml:"max"`
	Prob    float64 `yaml:"prob"`
	QuestID int32   `yaml:"quest_id"` // >0 = only drops for quest holders
}

func (r *Reward) IsMoney() bool { return r.ItemID == 0 }
func (r *Reward) IsQuest() bool { return r.QuestID > 0 }

type rewardEntry struct {
	MobID   int32    `yaml:"mob_id"`
	Rewards []Reward `yaml:"rewards"`
}

// RewardTable maps mob template ids to their drop candidates.
type RewardTable struct {
	rewards map[int32][]Reward
}

func LoadRewardTable(path string) (*RewardTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reward table %s: %w", path, err)
	}
	var list []rewardEntry
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse reward table %s: %w", path, err)
	}
	t := &RewardTable{rewards: make(map[int32][]Reward, len(list))}
	for _, e := range list {
		t.rewards[e.MobID] = e.Rewards
	}
	return t, nil
}

// ForMob returns the drop candidates for a mob id; nil when the mob
// drops nothing.
func (t *RewardTable) ForMob(mobID int32) []Reward {
	return t.rewards[mobID]
}

func (t *RewardTable) Count() int {
	return len(t.rewards)
}
