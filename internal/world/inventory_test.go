package world

import (
	"testing"

	"github.com/CCasusensa/kinoko-sub000/internal/data"
)

var arrow = &data.ItemTemplate{ID: 2060000, Type: data.InvUse, SlotMax: 100, Bullet: true}
var sword = &data.ItemTemplate{ID: 1302000, Type: data.InvEquip, SlotMax: 1}

func TestInventoryAddStacksThenFills(t *testing.T) {
	inv := NewInventory(4)
	if !inv.Add(arrow, 150) {
		t.Fatal("add failed")
	}
	if got := inv.CountOf(data.InvUse, arrow.ID); got != 150 {
		t.Fatalf("count = %d", got)
	}
	if !inv.Add(arrow, 50) {
		t.Fatal("second add failed")
	}
	// 200 arrows in two full stacks: further 201 must not fit in the
	// remaining two slots.
	if inv.CanAdd(arrow, 201) {
		t.Fatal("CanAdd(201) = true with only two free slots")
	}
	if inv.Add(arrow, 201) {
		t.Fatal("Add(201) succeeded past capacity")
	}
	if got := inv.CountOf(data.InvUse, arrow.ID); got != 200 {
		t.Fatalf("count after failed add = %d, want 200 (no partial mutation)", got)
	}
}

func TestInventoryRemove(t *testing.T) {
	inv := NewInventory(4)
	inv.Add(arrow, 120)
	if inv.Remove(data.InvUse, arrow.ID, 200) {
		t.Fatal("removed more than present")
	}
	if !inv.Remove(data.InvUse, arrow.ID, 110) {
		t.Fatal("remove failed")
	}
	if got := inv.CountOf(data.InvUse, arrow.ID); got != 10 {
		t.Fatalf("count = %d", got)
	}
}

func TestInventoryRemoveFromSlot(t *testing.T) {
	inv := NewInventory(4)
	inv.Add(sword, 1)
	var slot int16 = -1
	inv.ForEach(func(tab int, s int16, it *Item) {
		if it.ItemID == sword.ID {
			slot = s
		}
	})
	if slot < 0 {
		t.Fatal("sword not found")
	}
	if _, ok := inv.RemoveFromSlot(data.InvEquip, slot, 2); ok {
		t.Fatal("removed more than the stack holds")
	}
	id, ok := inv.RemoveFromSlot(data.InvEquip, slot, 1)
	if !ok || id != sword.ID {
		t.Fatalf("RemoveFromSlot = %d, %v", id, ok)
	}
	if inv.Get(data.InvEquip, slot) != nil {
		t.Fatal("slot not cleared")
	}
}

func TestMesoClampsAtZero(t *testing.T) {
	inv := NewInventory(4)
	inv.AddMeso(1000)
	if inv.AddMeso(-2000) {
		t.Fatal("wallet went negative")
	}
	if inv.Meso != 1000 {
		t.Fatalf("meso = %d after rejected withdrawal", inv.Meso)
	}
}
