package field

import (
	"errors"
	"sync"

	"github.com/CCasusensa/kinoko-sub000/internal/data"
	"github.com/CCasusensa/kinoko-sub000/internal/lock"
)

var (
	ErrMiniRoomBusy    = errors.New("miniroom: user already in a room")
	ErrMiniRoomGone    = errors.New("miniroom: room no longer exists")
	ErrMiniRoomState   = errors.New("miniroom: operation not valid in this state")
	ErrMiniRoomTrade   = errors.New("miniroom: item cannot be traded")
	ErrMiniRoomBalance = errors.New("miniroom: insufficient meso")
)

// escrowSlot is one stack moved out of a participant's inventory and
// held by the room until the trade completes or unwinds.
type escrowSlot struct {
	template *data.ItemTemplate
	quantity int32
}

// MiniRoom is a two-party trade. Items and meso move into room escrow
// the moment they are offered, so a disconnect can only ever unwind,
// never duplicate. Both sides must confirm; confirming twice is a
// no-op. Room methods take the participants' guards themselves, in
// character-id order. Callers must not hold any user guard.
type MiniRoom struct {
	mu sync.Mutex

	id  int32
	fld *Field

	users     [2]*User // [0] inviter, [1] invitee
	opened    bool     // invitee accepted
	items     [2][]escrowSlot
	meso      [2]int32
	confirmed [2]bool
	closed    bool
}

func (mr *MiniRoom) ID() int32 { return mr.id }

// CreateMiniRoom opens a trade between two users in this field. The
// invitee occupies the room immediately; a second invite to either
// party fails until this room closes.
func (f *Field) CreateMiniRoom(inviter, invitee *User) (*MiniRoom, error) {
	mr := &MiniRoom{
		id:    f.allocObjectID(),
		fld:   f,
		users: [2]*User{inviter, invitee},
	}
	if err := claimMiniRoom(inviter, mr.id); err != nil {
		return nil, err
	}
	if err := claimMiniRoom(invitee, mr.id); err != nil {
		releaseMiniRoom(inviter, mr.id)
		return nil, err
	}
	f.miniRooms.Store(mr.id, mr)
	return mr, nil
}

// MiniRoomByID returns an open room, or nil.
func (f *Field) MiniRoomByID(id int32) *MiniRoom {
	v, ok := f.miniRooms.Load(id)
	if !ok {
		return nil
	}
	return v.(*MiniRoom)
}

func claimMiniRoom(u *User, roomID int32) error {
	var err error
	lock.With(u, func(g *lock.Locked[*User]) {
		if u.MiniRoomID != 0 {
			err = ErrMiniRoomBusy
			return
		}
		u.MiniRoomID = roomID
	})
	return err
}

func releaseMiniRoom(u *User, roomID int32) {
	lock.With(u, func(g *lock.Locked[*User]) {
		if u.MiniRoomID == roomID {
			u.MiniRoomID = 0
		}
	})
}

// Accept marks the invitee as present. Offers are rejected until then.
func (mr *MiniRoom) Accept(u *User) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if mr.closed {
		return ErrMiniRoomGone
	}
	if u != mr.users[1] || mr.opened {
		return ErrMiniRoomState
	}
	mr.opened = true
	return nil
}

// PutItem moves qty of the stack at tab/slot into the room's escrow.
func (mr *MiniRoom) PutItem(u *User, tables *data.Tables, tab int, slot int16, qty int32) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	side, ok := mr.sideOfLocked(u)
	if !ok {
		return ErrMiniRoomGone
	}
	if !mr.opened || mr.confirmed[side] {
		return ErrMiniRoomState
	}

	var err error
	lock.With(u, func(g *lock.Locked[*User]) {
		item := u.Data.Inventory.Get(tab, slot)
		if item == nil || qty <= 0 || qty > item.Quantity {
			err = ErrMiniRoomState
			return
		}
		tmpl := tables.Items.Get(item.ItemID)
		if tmpl == nil || tmpl.TradeBlock || tmpl.Quest {
			err = ErrMiniRoomTrade
			return
		}
		if _, ok := u.Data.Inventory.RemoveFromSlot(tab, slot, qty); !ok {
			err = ErrMiniRoomState
			return
		}
		mr.items[side] = append(mr.items[side], escrowSlot{template: tmpl, quantity: qty})
	})
	return err
}

// PutMoney moves meso into the room's escrow.
func (mr *MiniRoom) PutMoney(u *User, amount int32) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	side, ok := mr.sideOfLocked(u)
	if !ok {
		return ErrMiniRoomGone
	}
	if !mr.opened || mr.confirmed[side] || amount <= 0 {
		return ErrMiniRoomState
	}

	var err error
	lock.With(u, func(g *lock.Locked[*User]) {
		if !u.Data.Inventory.AddMeso(-amount) {
			err = ErrMiniRoomBalance
			return
		}
		mr.meso[side] += amount
	})
	return err
}

// Confirm locks in one side's offer. Repeats are no-ops; the second
// distinct confirm completes the trade. Returns whether the room
// finished, successfully or not.
func (mr *MiniRoom) Confirm(u *User) (completed bool, err error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	side, ok := mr.sideOfLocked(u)
	if !ok {
		return false, ErrMiniRoomGone
	}
	if !mr.opened {
		return false, ErrMiniRoomState
	}
	if mr.confirmed[side] {
		return false, nil
	}
	mr.confirmed[side] = true
	if !mr.confirmed[0] || !mr.confirmed[1] {
		return false, nil
	}
	return true, mr.completeLocked()
}

// Cancel unwinds the trade and returns every escrowed item and meso
// to its original owner. Safe to call on a room that already closed.
func (mr *MiniRoom) Cancel() {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if mr.closed {
		return
	}
	mr.unwindLocked()
	mr.closeLocked()
}

// CancelMiniRoomOf unwinds any open trade the user is part of. Runs
// before the user leaves the field, changes channel or disconnects,
// so escrowed items land back in the inventory that is about to be
// persisted. Callers must not hold any user guard.
func (f *Field) CancelMiniRoomOf(u *User) {
	var roomID int32
	lock.With(u, func(g *lock.Locked[*User]) {
		roomID = u.MiniRoomID
	})
	if roomID == 0 {
		return
	}
	if mr := f.MiniRoomByID(roomID); mr != nil {
		mr.Cancel()
	}
}

// Other returns the counterpart of a participant, or nil.
func (mr *MiniRoom) Other(u *User) *User {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	switch u {
	case mr.users[0]:
		return mr.users[1]
	case mr.users[1]:
		return mr.users[0]
	}
	return nil
}

func (mr *MiniRoom) sideOfLocked(u *User) (int, bool) {
	if mr.closed {
		return 0, false
	}
	switch u {
	case mr.users[0]:
		return 0, true
	case mr.users[1]:
		return 1, true
	}
	return 0, false
}

// completeLocked swaps the escrows. Both guards are held for the
// whole exchange, taken in character-id order, so no observer sees a
// half-applied trade. The adds themselves are the capacity check: a
// per-stack CanAdd cannot see the slots earlier stacks of the same
// escrow consume. Any failed add rolls the receivers back and the
// whole trade unwinds.
func (mr *MiniRoom) completeLocked() error {
	first, second := mr.users[0], mr.users[1]
	if second.CharacterID() < first.CharacterID() {
		first, second = second, first
	}

	var err error
	lock.With(first, func(g1 *lock.Locked[*User]) {
		lock.With(second, func(g2 *lock.Locked[*User]) {
			if !addEscrowLocked(mr.users[0], mr.items[1]) {
				err = ErrMiniRoomState
				return
			}
			if !addEscrowLocked(mr.users[1], mr.items[0]) {
				removeEscrowLocked(mr.users[0], mr.items[1])
				err = ErrMiniRoomState
				return
			}
			mr.users[0].Data.Inventory.AddMeso(mr.meso[1])
			mr.users[1].Data.Inventory.AddMeso(mr.meso[0])
			mr.items[0], mr.items[1] = nil, nil
			mr.meso[0], mr.meso[1] = 0, 0
		})
	})
	if err != nil {
		mr.unwindLocked()
	}
	mr.closeLocked()
	return err
}

// addEscrowLocked plays the escrowed stacks into the receiver's
// inventory in order. On the first stack that does not fit everything
// added so far is taken back out and the escrow is reported as not
// fitting. The receiver's guard is held by the caller.
func addEscrowLocked(recv *User, slots []escrowSlot) bool {
	for i, es := range slots {
		if !recv.Data.Inventory.Add(es.template, es.quantity) {
			removeEscrowLocked(recv, slots[:i])
			return false
		}
	}
	return true
}

// removeEscrowLocked takes previously added escrow stacks back out.
// Removal is by item id and quantity, which is content-equivalent even
// when the stacks merged with ones the receiver already owned.
func removeEscrowLocked(recv *User, slots []escrowSlot) {
	for _, es := range slots {
		recv.Data.Inventory.Remove(es.template.Type, es.template.ID, es.quantity)
	}
}

func (mr *MiniRoom) unwindLocked() {
	for side := 0; side < 2; side++ {
		owner := mr.users[side]
		items := mr.items[side]
		meso := mr.meso[side]
		mr.items[side] = nil
		mr.meso[side] = 0
		lock.With(owner, func(g *lock.Locked[*User]) {
			for _, es := range items {
				if !owner.Data.Inventory.Add(es.template, es.quantity) {
					// No space for the returned stack; put it on the
					// ground at the owner's feet instead of losing it.
					mr.fld.AddDrop(es.template.ID, es.quantity, owner.X, owner.Y)
				}
			}
			owner.Data.Inventory.AddMeso(meso)
		})
	}
}

func (mr *MiniRoom) closeLocked() {
	mr.closed = true
	mr.fld.miniRooms.Delete(mr.id)
	releaseMiniRoom(mr.users[0], mr.id)
	releaseMiniRoom(mr.users[1], mr.id)
}
