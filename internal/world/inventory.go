package world

import (
	"github.com/CCasusensa/kinoko-sub000/internal/data"
)

// Item is one inventory stack.
type Item struct {
	ItemID   int32
	Quantity int32
}

// Inventory holds the five tabs plus the meso balance. All methods
// require the owning user's guard; none of them lock internally.
type Inventory struct {
	tabs     [6]map[int16]*Item // index by data.Inv*, [0] unused
	capacity int16
	Meso     int32
}

func NewInventory(capacity int16) *Inventory {
	inv := &Inventory{capacity: capacity}
	for i := 1; i < len(inv.tabs); i++ {
		inv.tabs[i] = make(map[int16]*Item)
	}
	return inv
}

// Get returns the item at a slot, or nil.
func (inv *Inventory) Get(tab int, slot int16) *Item {
	if tab < 1 || tab >= len(inv.tabs) {
		return nil
	}
	return inv.tabs[tab][slot]
}

// Set places an item directly into a slot, used when loading from
// persistence. A nil item clears the slot.
func (inv *Inventory) Set(tab int, slot int16, item *Item) {
	if tab < 1 || tab >= len(inv.tabs) {
		return
	}
	if item == nil {
		delete(inv.tabs[tab], slot)
		return
	}
	inv.tabs[tab][slot] = item
}

// ForEach visits every stack with its tab and slot.
func (inv *Inventory) ForEach(visit func(tab int, slot int16, item *Item)) {
	for tab := 1; tab < len(inv.tabs); tab++ {
		for slot, item := range inv.tabs[tab] {
			visit(tab, slot, item)
		}
	}
}

// CanAdd reports whether qty of the item fits without mutating.
func (inv *Inventory) CanAdd(tmpl *data.ItemTemplate, qty int32) bool {
	remaining := qty
	slotMax := tmpl.SlotMax
	if slotMax <= 0 {
		slotMax = 1
	}
	tab := inv.tabs[tmpl.Type]
	for _, item := range tab {
		if item.ItemID == tmpl.ID && item.Quantity < slotMax {
			remaining -= slotMax - item.Quantity
			if remaining <= 0 {
				return true
			}
		}
	}
	free := int32(0)
	for slot := int16(1); slot <= inv.capacity; slot++ {
		if tab[slot] == nil {
			free++
		}
	}
	return remaining <= free*slotMax
}

// Add inserts qty of the item, stacking first then filling free
// slots. Returns false without partial mutation when it does not fit;
// callers that checked CanAdd treat a false here as an invariant
// violation.
func (inv *Inventory) Add(tmpl *data.ItemTemplate, qty int32) bool {
	if !inv.CanAdd(tmpl, qty) {
		return false
	}
	slotMax := tmpl.SlotMax
	if slotMax <= 0 {
		slotMax = 1
	}
	tab := inv.tabs[tmpl.Type]
	remaining := qty
	for _, item := range tab {
		if remaining == 0 {
			break
		}
		if item.ItemID == tmpl.ID && item.Quantity < slotMax {
			take := min32(remaining, slotMax-item.Quantity)
			item.Quantity += take
			remaining -= take
		}
	}
	for slot := int16(1); slot <= inv.capacity && remaining > 0; slot++ {
		if tab[slot] != nil {
			continue
		}
		take := min32(remaining, slotMax)
		tab[slot] = &Item{ItemID: tmpl.ID, Quantity: take}
		remaining -= take
	}
	return true
}

// CountOf returns the total quantity of an item across one tab.
func (inv *Inventory) CountOf(tab int, itemID int32) int32 {
	var total int32
	for _, item := range inv.tabs[tab] {
		if item.ItemID == itemID {
			total += item.Quantity
		}
	}
	return total
}

// Remove takes qty of the item out of a tab. Returns false without
// mutation when there is not enough.
func (inv *Inventory) Remove(tab int, itemID int32, qty int32) bool {
	if inv.CountOf(tab, itemID) < qty {
		return false
	}
	remaining := qty
	for slot, item := range inv.tabs[tab] {
		if remaining == 0 {
			break
		}
		if item.ItemID != itemID {
			continue
		}
		take := min32(remaining, item.Quantity)
		item.Quantity -= take
		remaining -= take
		if item.Quantity == 0 {
			delete(inv.tabs[tab], slot)
		}
	}
	return true
}

// RemoveFromSlot takes qty from one specific stack. Returns the item
// id removed and true, or 0 and false when the slot cannot satisfy it.
func (inv *Inventory) RemoveFromSlot(tab int, slot int16, qty int32) (int32, bool) {
	item := inv.Get(tab, slot)
	if item == nil || item.Quantity < qty {
		return 0, false
	}
	item.Quantity -= qty
	id := item.ItemID
	if item.Quantity == 0 {
		delete(inv.tabs[tab], slot)
	}
	return id, true
}

// AddMeso adjusts the meso balance, clamping at zero, and reports
// whether the full delta applied.
func (inv *Inventory) AddMeso(delta int32) bool {
	next := inv.Meso + delta
	if next < 0 {
		return false
	}
	inv.Meso = next
	return true
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}
