// Package data holds the read-only game data catalog. Tables are
// loaded once at startup from YAML files and shared by every node;
// lookups return nil for unknown ids and the caller decides fallback.
package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Portal is a transfer point inside a map.
type Portal struct {
	ID         int32  `yaml:"id"`
	Name       string `yaml:"name"`
	X          int16  `yaml:"x"`
	Y          int16  `yaml:"y"`
	TargetMap  int32  `yaml:"target_map"`
	TargetName string `yaml:"target_name"`
	Script     string `yaml:"script"`
}

// Foothold is a platform segment entities stand on.
type Foothold struct {
	ID int32 `yaml:"id"`
	X1 int16 `yaml:"x1"`
	Y1 int16 `yaml:"y1"`
	X2 int16 `yaml:"x2"`
	Y2 int16 `yaml:"y2"`
}

// LifeSpawn is a static spawn point inside a map. Mobs respawn on the
// field tick once their respawn deadline passes; npcs spawn once at
// field construction.
type LifeSpawn struct {
	Type       string `yaml:"type"` // "mob" or "npc"
	TemplateID int32  `yaml:"template_id"`
	X          int16  `yaml:"x"`
	Y          int16  `yaml:"y"`
	Foothold   int16  `yaml:"fh"`
	Count      int    `yaml:"count"`        // mobs kept alive at this point
	RespawnSec int    `yaml:"respawn_sec"`  // 0 = field default
}

// MapTemplate is the immutable static layout of one map.
type MapTemplate struct {
	ID         int32       `yaml:"id"`
	Name       string      `yaml:"name"`
	ReturnMap  int32       `yaml:"return_map"`
	FieldLimit int32       `yaml:"field_limit"`
	MobRate    float64     `yaml:"mob_rate"`
	Town       bool        `yaml:"town"`
	Portals    []Portal    `yaml:"portals"`
	Footholds  []Foothold  `yaml:"footholds"`
	Life       []LifeSpawn `yaml:"life"`
}

// PortalByID returns the portal with the given id, or nil.
func (m *MapTemplate) PortalByID(id int32) *Portal {
	for i := range m.Portals {
		if m.Portals[i].ID == id {
			return &m.Portals[i]
		}
	}
	return nil
}

// PortalByName returns the portal with the given name, or nil.
func (m *MapTemplate) PortalByName(name string) *Portal {
	for i := range m.Portals {
		if m.Portals[i].Name == name {
			return &m.Portals[i]
		}
	}
	return nil
}

// FootholdBelow returns the id of the nearest foothold directly below
// (x, y), or 0 when the point is over empty space. Used to settle
// drops onto a platform.
func (m *MapTemplate) FootholdBelow(x, y int16) int16 {
	best := int32(0)
	bestY := int16(32767)
	for i := range m.Footholds {
		fh := &m.Footholds[i]
		lo, hi := fh.X1, fh.X2
		if lo > hi {
			lo, hi = hi, lo
		}
		if x < lo || x > hi {
			continue
		}
		fy := fh.yAt(x)
		if fy >= y && fy < bestY {
			bestY = fy
			best = fh.ID
		}
	}
	return int16(best)
}

func (f *Foothold) yAt(x int16) int16 {
	if f.X1 == f.X2 {
		return f.Y1
	}
	dy := int32(f.Y2) - int32(f.Y1)
	dx := int32(f.X2) - int32(f.X1)
	return f.Y1 + int16(dy*int32(x-f.X1)/dx)
}

// MapTable indexes map templates by id.
type MapTable struct {
	maps map[int32]*MapTemplate
}

func LoadMapTable(path string) (*MapTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read map table %s: %w", path, err)
	}
	var list []*MapTemplate
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse map table %s: %w", path, err)
	}
	t := &MapTable{maps: make(map[int32]*MapTemplate, len(list))}
	for _, m := range list {
		t.maps[m.ID] = m
	}
	return t, nil
}

// Get returns the template for a map id, or nil.
func (t *MapTable) Get(id int32) *MapTemplate {
	return t.maps[id]
}

func (t *MapTable) Count() int {
	return len(t.maps)
}
