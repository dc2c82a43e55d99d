package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NpcTemplate is the static definition of one npc kind.
type NpcTemplate struct {
	ID     int32  `yaml:"id"`
	Name   string `yaml:"name"`
	Script string `yaml:"script"` // conversation script name, empty = no dialog
	Trunk  bool   `yaml:"trunk"`  // storage npc
}

type NpcTable struct {
	npcs map[int32]*NpcTemplate
}

func LoadNpcTable(path string) (*NpcTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read npc table %s: %w", path, err)
	}
	var list []*NpcTemplate
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse npc table %s: %w", path, err)
	}
	t := &NpcTable{npcs: make(map[int32]*NpcTemplate, len(list))}
	for _, n := range list {
		t.npcs[n.ID] = n
	}
	return t, nil
}

func (t *NpcTable) Get(id int32) *NpcTemplate {
	return t.npcs[id]
}

func (t *NpcTable) Count() int {
	return len(t.npcs)
}
