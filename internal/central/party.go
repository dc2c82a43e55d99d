package central

import (
	"errors"
	"sync"
)

const maxPartySize = 6

var (
	ErrAlreadyInParty = errors.New("party: character already in a party")
	ErrNotInParty     = errors.New("party: character not in a party")
	ErrPartyFull      = errors.New("party: party is full")
	ErrNotLeader      = errors.New("party: only the leader may do that")
	ErrNoSuchParty    = errors.New("party: no such party")
)

// PartyOp selects the operation inside a party request.
type PartyOp byte

const (
	PartyOpCreate PartyOp = iota + 1
	PartyOpJoin
	PartyOpLeave
	PartyOpKick
	PartyOpChangeLeader
)

// Party is one party's membership, tracked centrally. Members hold
// the character ids; the directory resolves them to live users.
type Party struct {
	ID       int32
	LeaderID int32
	Members  []int32
}

func (p *Party) has(characterID int32) bool {
	for _, id := range p.Members {
		if id == characterID {
			return true
		}
	}
	return false
}

func (p *Party) remove(characterID int32) {
	for i, id := range p.Members {
		if id == characterID {
			p.Members = append(p.Members[:i], p.Members[i+1:]...)
			return
		}
	}
}

// partyRegistry owns every party in the world.
type partyRegistry struct {
	mu       sync.Mutex
	nextID   int32
	parties  map[int32]*Party
	byMember map[int32]int32 // character id -> party id
}

func newPartyRegistry() *partyRegistry {
	return &partyRegistry{
		parties:  make(map[int32]*Party),
		byMember: make(map[int32]int32),
	}
}

// Create starts a new party led by the character.
func (pr *partyRegistry) Create(leaderID int32) (*Party, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if _, ok := pr.byMember[leaderID]; ok {
		return nil, ErrAlreadyInParty
	}
	pr.nextID++
	p := &Party{ID: pr.nextID, LeaderID: leaderID, Members: []int32{leaderID}}
	pr.parties[p.ID] = p
	pr.byMember[leaderID] = p.ID
	return p, nil
}

// Join adds a character to an existing party.
func (pr *partyRegistry) Join(partyID, characterID int32) (*Party, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if _, ok := pr.byMember[characterID]; ok {
		return nil, ErrAlreadyInParty
	}
	p, ok := pr.parties[partyID]
	if !ok {
		return nil, ErrNoSuchParty
	}
	if len(p.Members) >= maxPartySize {
		return nil, ErrPartyFull
	}
	p.Members = append(p.Members, characterID)
	pr.byMember[characterID] = partyID
	return p, nil
}

// Leave removes a character. A leaving leader disbands the party; the
// returned disbanded flag tells the caller to notify every member.
func (pr *partyRegistry) Leave(characterID int32) (*Party, bool, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	partyID, ok := pr.byMember[characterID]
	if !ok {
		return nil, false, ErrNotInParty
	}
	p := pr.parties[partyID]
	delete(pr.byMember, characterID)
	p.remove(characterID)
	if characterID == p.LeaderID || len(p.Members) == 0 {
		for _, id := range p.Members {
			delete(pr.byMember, id)
		}
		delete(pr.parties, partyID)
		return p, true, nil
	}
	return p, false, nil
}

// Kick removes a member on the leader's behalf.
func (pr *partyRegistry) Kick(leaderID, targetID int32) (*Party, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	partyID, ok := pr.byMember[leaderID]
	if !ok {
		return nil, ErrNotInParty
	}
	p := pr.parties[partyID]
	if p.LeaderID != leaderID {
		return nil, ErrNotLeader
	}
	if !p.has(targetID) || targetID == leaderID {
		return nil, ErrNotInParty
	}
	p.remove(targetID)
	delete(pr.byMember, targetID)
	return p, nil
}

// ChangeLeader hands leadership to another member.
func (pr *partyRegistry) ChangeLeader(leaderID, targetID int32) (*Party, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	partyID, ok := pr.byMember[leaderID]
	if !ok {
		return nil, ErrNotInParty
	}
	p := pr.parties[partyID]
	if p.LeaderID != leaderID {
		return nil, ErrNotLeader
	}
	if !p.has(targetID) {
		return nil, ErrNotInParty
	}
	p.LeaderID = targetID
	return p, nil
}

// PartyOf returns the party a character belongs to, or nil.
func (pr *partyRegistry) PartyOf(characterID int32) *Party {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if partyID, ok := pr.byMember[characterID]; ok {
		return pr.parties[partyID]
	}
	return nil
}
