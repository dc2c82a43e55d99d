package data

import "path/filepath"

// Tables bundles every static table the nodes need.
type Tables struct {
	Maps    *MapTable
	Mobs    *MobTable
	Npcs    *NpcTable
	Items   *ItemTable
	Skills  *SkillTable
	Rewards *RewardTable
}

// LoadAll loads every table from the given directory. File names are
// fixed; a missing file is a startup error, not a fallback.
func LoadAll(dir string) (*Tables, error) {
	maps, err := LoadMapTable(filepath.Join(dir, "map_list.yaml"))
	if err != nil {
		return nil, err
	}
	mobs, err := LoadMobTable(filepath.Join(dir, "mob_list.yaml"))
	if err != nil {
		return nil, err
	}
	npcs, err := LoadNpcTable(filepath.Join(dir, "npc_list.yaml"))
	if err != nil {
		return nil, err
	}
	items, err := LoadItemTable(filepath.Join(dir, "item_list.yaml"))
	if err != nil {
		return nil, err
	}
	skills, err := LoadSkillTable(filepath.Join(dir, "skill_list.yaml"))
	if err != nil {
		return nil, err
	}
	rewards, err := LoadRewardTable(filepath.Join(dir, "reward_list.yaml"))
	if err != nil {
		return nil, err
	}
	return &Tables{
		Maps:    maps,
		Mobs:    mobs,
		Npcs:    npcs,
		Items:   items,
		Skills:  skills,
		Rewards: rewards,
	}, nil
}
