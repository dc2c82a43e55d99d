package field

import "github.com/CCasusensa/kinoko-sub000/internal/data"

// Npc is a stationary scripted entity. It never mutates after spawn so
// it carries no lock.
type Npc struct {
	Life

	template *data.NpcTemplate
	RX0, RX1 int16 // patrol range
	Flip     bool
}

func NewNpc(template *data.NpcTemplate, x, y int16, fh int16) *Npc {
	n := &Npc{template: template}
	n.X, n.Y, n.Foothold = x, y, fh
	n.RX0, n.RX1 = x, x
	return n
}

func (n *Npc) Template() *data.NpcTemplate { return n.template }
func (n *Npc) TemplateID() int32           { return n.template.ID }

// HasScript reports whether talking to this npc runs a script.
func (n *Npc) HasScript() bool { return n.template.Script != "" }
