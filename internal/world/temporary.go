package world

import "time"

// TemporaryStatKind identifies one buffable stat.
type TemporaryStatKind int

const (
	StatPad TemporaryStatKind = iota // weapon attack
	StatPdd                          // weapon defense
	StatMad                          // magic attack
	StatSpeed
	StatJump
	StatHaste
	StatHolySymbol
	StatDarkSight
)

// TemporaryStatOption is one active buff entry.
type TemporaryStatOption struct {
	Value    int32
	SourceID int32 // skill or item that applied it
	Expire   time.Time
}

// TemporaryStats tracks a user's active buffs. Mutation requires the
// owning user's guard. The same map travels inside a migration ticket
// so buffs survive a channel change.
type TemporaryStats struct {
	stats map[TemporaryStatKind]TemporaryStatOption
}

func NewTemporaryStats() *TemporaryStats {
	return &TemporaryStats{stats: make(map[TemporaryStatKind]TemporaryStatOption)}
}

// Set applies or refreshes a buff.
func (t *TemporaryStats) Set(kind TemporaryStatKind, opt TemporaryStatOption) {
	t.stats[kind] = opt
}

// Get returns the active option for a kind.
func (t *TemporaryStats) Get(kind TemporaryStatKind) (TemporaryStatOption, bool) {
	opt, ok := t.stats[kind]
	return opt, ok
}

// ExpireBy removes every buff whose expiry is at or before now and
// returns the kinds removed, in no particular order.
func (t *TemporaryStats) ExpireBy(now time.Time) []TemporaryStatKind {
	var expired []TemporaryStatKind
	for kind, opt := range t.stats {
		if !opt.Expire.After(now) {
			expired = append(expired, kind)
			delete(t.stats, kind)
		}
	}
	return expired
}

// Snapshot copies the active set, used when building a migration
// ticket.
func (t *TemporaryStats) Snapshot() map[TemporaryStatKind]TemporaryStatOption {
	out := make(map[TemporaryStatKind]TemporaryStatOption, len(t.stats))
	for k, v := range t.stats {
		out[k] = v
	}
	return out
}

// Restore replaces the active set from a snapshot, used on the
// receiving side of a migration.
func (t *TemporaryStats) Restore(snapshot map[TemporaryStatKind]TemporaryStatOption) {
	t.stats = make(map[TemporaryStatKind]TemporaryStatOption, len(snapshot))
	for k, v := range snapshot {
		t.stats[k] = v
	}
}

// Len returns the number of active buffs.
func (t *TemporaryStats) Len() int {
	return len(t.stats)
}
