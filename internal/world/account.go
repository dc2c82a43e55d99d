// Package world holds the character-side data model shared by the
// channel nodes and the persistence layer: accounts, character data,
// inventories and temporary stats. Entities that live inside a field
// wrap these types; the field package owns their locking.
package world

import "github.com/CCasusensa/kinoko-sub000/internal/lock"

// Account is the secondary lockable in the locking order: an
// operation that needs both a user and its account always acquires
// the user first.
type Account struct {
	lock.Mutex

	ID             int32
	Username       string
	CharacterSlots int

	// Wallet balances mutated under the account guard.
	NX          int32
	MaplePoints int32
}
