package field

import (
	"time"

	"github.com/CCasusensa/kinoko-sub000/internal/lock"
)

// DropOwnership controls who may pick a drop up.
type DropOwnership byte

const (
	OwnershipUser  DropOwnership = 0 // owner only, until ownership expires
	OwnershipParty DropOwnership = 1
	OwnershipNone  DropOwnership = 2 // free for all
)

// Drop is an item or meso lying on the ground. Money drops carry
// ItemID 0. Pickup races are settled by the pool: whoever removes the
// drop from the pool gets it.
type Drop struct {
	lock.Mutex
	Life

	ItemID   int32 // 0 for money
	Quantity int32 // item count, or meso amount for money

	OwnerID   int32
	PartyID   int32
	Ownership DropOwnership

	SourceID int32 // object id of the mob that dropped it, 0 for player drops
	QuestID  int32 // 0 unless quest-gated

	createdAt time.Time
	ownerTTL  time.Duration
	expireTTL time.Duration
}

func NewDrop(itemID, quantity, ownerID, partyID int32, ownership DropOwnership, ownerTTL, expireTTL time.Duration) *Drop {
	return &Drop{
		ItemID:    itemID,
		Quantity:  quantity,
		OwnerID:   ownerID,
		PartyID:   partyID,
		Ownership: ownership,
		createdAt: time.Now(),
		ownerTTL:  ownerTTL,
		expireTTL: expireTTL,
	}
}

// IsMoney reports whether the drop is mesos rather than an item.
func (d *Drop) IsMoney() bool { return d.ItemID == 0 }

// CanPickUp reports whether the given user may take the drop at now.
// Ownership protection lapses after the owner ttl; after that anyone
// in the field may loot.
func (d *Drop) CanPickUp(characterID, partyID int32, now time.Time) bool {
	if d.Ownership == OwnershipNone {
		return true
	}
	if now.Sub(d.createdAt) >= d.ownerTTL {
		return true
	}
	if d.Ownership == OwnershipParty && d.PartyID != 0 {
		return partyID == d.PartyID
	}
	return characterID == d.OwnerID
}

// Expired reports whether the drop should vanish from the field.
func (d *Drop) Expired(now time.Time) bool {
	return now.Sub(d.createdAt) >= d.expireTTL
}
