// Package migration implements the tickets that carry a client's
// session between channels. The central process grants a ticket when
// a transfer or login is approved; the target channel consumes it
// when the client reconnects. A ticket is consumed at most once.
package migration

import (
	"errors"
	"sync"
	"time"

	"github.com/CCasusensa/kinoko-sub000/internal/world"
)

var (
	ErrNoTicket = errors.New("migration: no ticket for character")
	ErrExpired  = errors.New("migration: ticket expired")
	ErrMismatch = errors.New("migration: ticket does not match client")
)

// State tracks a ticket through its life. A ticket only ever moves
// forward; Consumed, Expired and Rejected are terminal.
type State int

const (
	StateRequested State = iota
	StateGranted         // waiting for the client to reconnect
	StateConsumed
	StateExpired
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateGranted:
		return "granted"
	case StateConsumed:
		return "consumed"
	case StateExpired:
		return "expired"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Info is one migration ticket. Every identifying field must match at
// consume time; the machine id and client key tie the ticket to the
// exact client instance that requested it.
type Info struct {
	ChannelID   int
	AccountID   int32
	CharacterID int32
	MachineID   [16]byte
	ClientKey   [8]byte

	// Session state that survives the transfer through the ticket.
	TempStats    map[world.TemporaryStatKind]world.TemporaryStatOption
	MessengerID  int32 // open messenger conversation, 0 when none
	EffectItemID int32 // active cosmetic effect item, 0 when none

	state    State
	expireAt time.Time
}

func (i *Info) State() State { return i.state }

func (i *Info) matches(channelID int, accountID, characterID int32, machineID [16]byte, clientKey [8]byte) bool {
	return i.ChannelID == channelID &&
		i.AccountID == accountID &&
		i.CharacterID == characterID &&
		i.MachineID == machineID &&
		i.ClientKey == clientKey
}

// Registry holds the outstanding tickets of the world, keyed by
// character id. It lives in the central process.
type Registry struct {
	mu      sync.Mutex
	tickets map[int32]*Info
	ttl     time.Duration
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		tickets: make(map[int32]*Info),
		ttl:     ttl,
	}
}

// Grant registers a ticket and starts its expiry clock. A still
// outstanding ticket for the same character is rejected and replaced;
// the same character cannot be mid-migration twice.
func (r *Registry) Grant(info *Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.tickets[info.CharacterID]; ok {
		prior.state = StateRejected
	}
	info.state = StateGranted
	info.expireAt = time.Now().Add(r.ttl)
	r.tickets[info.CharacterID] = info
}

// Consume validates and claims the ticket for a reconnecting client.
// Exactly one concurrent caller can succeed; the ticket is removed
// before it is returned. Any outcome spends the ticket: a field
// mismatch discards it rather than leaving it for a retry, and an
// expired ticket is removed on sight.
func (r *Registry) Consume(channelID int, accountID, characterID int32, machineID [16]byte, clientKey [8]byte, now time.Time) (*Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.tickets[characterID]
	if !ok {
		return nil, ErrNoTicket
	}
	if now.After(info.expireAt) {
		info.state = StateExpired
		delete(r.tickets, characterID)
		return nil, ErrExpired
	}
	if !info.matches(channelID, accountID, characterID, machineID, clientKey) {
		info.state = StateRejected
		delete(r.tickets, characterID)
		return nil, ErrMismatch
	}
	info.state = StateConsumed
	delete(r.tickets, characterID)
	return info, nil
}

// Peek reports whether a live ticket exists for the character, without
// claiming it. Login flows use it to refuse a second concurrent login.
func (r *Registry) Peek(characterID int32, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.tickets[characterID]
	return ok && !now.After(info.expireAt)
}

// Sweep drops every expired ticket. Driven by the central scheduler.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, info := range r.tickets {
		if now.After(info.expireAt) {
			info.state = StateExpired
			delete(r.tickets, id)
			n++
		}
	}
	return n
}

// Len returns the number of outstanding tickets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickets)
}
