package field

import (
	"github.com/CCasusensa/kinoko-sub000/internal/lock"
	"github.com/CCasusensa/kinoko-sub000/internal/world"
)

// ClientConn is the slice of the session a field entity needs: pushing
// packets and severing the connection. Implemented by channel.Client.
type ClientConn interface {
	WritePacket(p []byte)
	Disconnect()
}

// User is a character present in a field. Its object id is the
// character id, stable across field transfers. Lock order: a user's
// guard is taken before the account's when both are needed.
type User struct {
	lock.Mutex
	Life

	conn ClientConn

	Data      *world.CharacterData
	Account   *world.Account
	TempStats *world.TemporaryStats

	fld *Field // current field, set by AddUser/RemoveUser

	PartyID    int32
	MiniRoomID int32 // 0 when not in a trade room

	MessengerID  int32 // open messenger conversation, carried across channels
	EffectItemID int32 // active cosmetic effect item, carried across channels
}

func NewUser(conn ClientConn, data *world.CharacterData, account *world.Account) *User {
	u := &User{
		conn:      conn,
		Data:      data,
		Account:   account,
		TempStats: world.NewTemporaryStats(),
	}
	u.objectID = data.ID
	return u
}

func (u *User) CharacterID() int32 { return u.Data.ID }
func (u *User) Name() string       { return u.Data.Name }

// WritePacket forwards to the client connection. Safe without the
// guard; the session serializes its own writes.
func (u *User) WritePacket(p []byte) {
	if u.conn != nil {
		u.conn.WritePacket(p)
	}
}

func (u *User) Disconnect() {
	if u.conn != nil {
		u.conn.Disconnect()
	}
}

// Field returns the field the user currently occupies, nil between
// transfers. Read under the user's guard.
func (u *User) Field(g *lock.Locked[*User]) *Field {
	return g.Get().fld
}

func (u *User) setField(g *lock.Locked[*User], f *Field) {
	g.Get().fld = f
}

// Move updates the user position from a movement report.
func (u *User) Move(g *lock.Locked[*User], x, y int16, fh int16) {
	usr := g.Get()
	usr.X, usr.Y, usr.Foothold = x, y, fh
}

// AddExp grants experience and applies level ups. Each level up
// restores hp and mp to the new maximum and grants stat points.
func (u *User) AddExp(g *lock.Locked[*User], exp int64) (leveled bool) {
	st := &g.Get().Data.Stat
	if exp <= 0 || st.Level >= 200 {
		return false
	}
	st.Exp += exp
	for st.Level < 200 && st.Exp >= world.ExpToNextLevel(st.Level) {
		st.Exp -= world.ExpToNextLevel(st.Level)
		st.Level++
		st.MaxHP += 20 + int32(st.Level)/4
		st.MaxMP += 12 + int32(st.Level)/6
		st.HP = st.MaxHP
		st.MP = st.MaxMP
		st.AP += 5
		st.SP += 3
		leveled = true
	}
	if st.Level >= 200 {
		st.Exp = 0
	}
	return leveled
}

// ChangeHP adjusts hit points, clamped to [0, MaxHP]. Returns the
// resulting value; zero means the character died.
func (u *User) ChangeHP(g *lock.Locked[*User], delta int32) int32 {
	st := &g.Get().Data.Stat
	st.HP += delta
	if st.HP < 0 {
		st.HP = 0
	}
	if st.HP > st.MaxHP {
		st.HP = st.MaxHP
	}
	return st.HP
}

// ChangeMP adjusts mana, clamped to [0, MaxMP]. Returns false when the
// deduction would go below zero, leaving the value untouched.
func (u *User) ChangeMP(g *lock.Locked[*User], delta int32) bool {
	st := &g.Get().Data.Stat
	if st.MP+delta < 0 {
		return false
	}
	st.MP += delta
	if st.MP > st.MaxMP {
		st.MP = st.MaxMP
	}
	return true
}
