package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Inventory tabs. Equipped items live in negative slots of the equip
// tab, matching the persisted representation.
const (
	InvEquip = 1
	InvUse   = 2
	InvSetup = 3
	InvEtc   = 4
	InvCash  = 5
)

// ItemTemplate is the static definition of one item kind.
type ItemTemplate struct {
	ID         int32  `yaml:"id"`
	Name       string `yaml:"name"`
	Type       int    `yaml:"type"` // inventory tab
	SlotMax    int32  `yaml:"slot_max"`
	Price      int32  `yaml:"price"`
	TradeBlock bool   `yaml:"trade_block"`
	Quest      bool   `yaml:"quest"`
	Bullet     bool   `yaml:"bullet"` // consumed by ranged attacks
}

type ItemTable struct {
	items map[int32]*ItemTemplate
}

func LoadItemTable(path string) (*ItemTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read item table %s: %w", path, err)
	}
	var list []*ItemTemplate
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse item table %s: %w", path, err)
	}
	t := &ItemTable{items: make(map[int32]*ItemTemplate, len(list))}
	for _, it := range list {
		t.items[it.ID] = it
	}
	return t, nil
}

func (t *ItemTable) Get(id int32) *ItemTemplate {
	return t.items[id]
}

func (t *ItemTable) Count() int {
	return len(t.items)
}
