package data

// In-memory table constructors. Scripted events build small tables at
// runtime and tests build fixtures without touching the filesystem.

func NewMapTable(maps []*MapTemplate) *MapTable {
	t := &MapTable{maps: make(map[int32]*MapTemplate, len(maps))}
	for _, m := range maps {
		t.maps[m.ID] = m
	}
	return t
}

func NewMobTable(mobs []*MobTemplate) *MobTable {
	t := &MobTable{mobs: make(map[int32]*MobTemplate, len(mobs))}
	for _, m := range mobs {
		t.mobs[m.ID] = m
	}
	return t
}

func NewNpcTable(npcs []*NpcTemplate) *NpcTable {
	t := &NpcTable{npcs: make(map[int32]*NpcTemplate, len(npcs))}
	for _, n := range npcs {
		t.npcs[n.ID] = n
	}
	return t
}

func NewItemTable(items []*ItemTemplate) *ItemTable {
	t := &ItemTable{items: make(map[int32]*ItemTemplate, len(items))}
	for _, it := range items {
		t.items[it.ID] = it
	}
	return t
}

func NewSkillTable(skills []*SkillTemplate) *SkillTable {
	t := &SkillTable{skills: make(map[int32]*SkillTemplate, len(skills))}
	for _, s := range skills {
		t.skills[s.ID] = s
	}
	return t
}

func NewRewardTable(rewards map[int32][]Reward) *RewardTable {
	if rewards == nil {
		rewards = make(map[int32][]Reward)
	}
	return &RewardTable{rewards: rewards}
}
