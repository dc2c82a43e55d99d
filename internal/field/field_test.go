package field

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/CCasusensa/kinoko-sub000/internal/data"
	"github.com/CCasusensa/kinoko-sub000/internal/lock"
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
	"github.com/CCasusensa/kinoko-sub000/internal/sched"
	"github.com/CCasusensa/kinoko-sub000/internal/world"
)

const (
	testMapID  = 104000000
	testMobID  = 100100
	testItemID = 2000000
)

type recordingConn struct {
	mu           sync.Mutex
	packets      [][]byte
	disconnected bool
}

func (c *recordingConn) WritePacket(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets = append(c.packets, p)
}

func (c *recordingConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *recordingConn) countOp(op uint16) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.packets {
		if len(p) >= 2 && binary.LittleEndian.Uint16(p[:2]) == op {
			n++
		}
	}
	return n
}

func testTables() *data.Tables {
	return &data.Tables{
		Maps: data.NewMapTable([]*data.MapTemplate{{
			ID:        testMapID,
			Name:      "test grounds",
			ReturnMap: testMapID,
			Footholds: []data.Foothold{{ID: 1, X1: -1000, Y1: 50, X2: 1000, Y2: 50}},
			Life: []data.LifeSpawn{{
				Type:       "mob",
				TemplateID: testMobID,
				X:          0,
				Y:          0,
				Foothold:   1,
				Count:      2,
				RespawnSec: 1,
			}},
		}}),
		Mobs: data.NewMobTable([]*data.MobTemplate{{
			ID:    testMobID,
			Name:  "test snail",
			Level: 5,
			MaxHP: 100,
			MaxMP: 20,
			Exp:   60,
		}}),
		Npcs:   data.NewNpcTable(nil),
		Items:  data.NewItemTable([]*data.ItemTemplate{{ID: testItemID, Name: "red potion", Type: data.InvUse, SlotMax: 100}}),
		Skills: data.NewSkillTable(nil),
		Rewards: data.NewRewardTable(map[int32][]data.Reward{
			testMobID: {
				{ItemID: 0, Min: 10, Max: 20, Prob: 1.0},
				{ItemID: testItemID, Min: 1, Max: 1, Prob: 1.0},
			},
		}),
	}
}

func testField(t *testing.T) *Field {
	t.Helper()
	s := sched.New(zap.NewNop())
	t.Cleanup(s.Close)
	tables := testTables()
	f := New(Key{MapID: testMapID}, tables.Maps.Get(testMapID), Deps{
		Tables:       tables,
		Log:          zap.NewNop(),
		Scheduler:    s,
		ExpRate:      1.0,
		DropRate:     1.0,
		MesoRate:     1.0,
		TickInterval: time.Hour, // ticks driven manually in tests
		DropTTL:      3 * time.Minute,
		ReactorTTL:   30 * time.Second,
	})
	t.Cleanup(f.Destroy)
	return f
}

func enterTestUser(f *Field, id int32, name string) (*User, *recordingConn) {
	conn := &recordingConn{}
	cd := world.NewCharacterData(id, id, name)
	cd.Stat.Level = 10
	cd.Stat.HP, cd.Stat.MaxHP = 500, 500
	cd.Stat.MP, cd.Stat.MaxMP = 200, 200
	u := NewUser(conn, cd, &world.Account{ID: id})
	lock.With(u, func(g *lock.Locked[*User]) {
		f.EnterUser(g, u, nil)
	})
	return u, conn
}

func killAllMobs(f *Field, u *User) {
	var ids []int32
	f.Mobs.ForEach(func(m *Mob) bool {
		ids = append(ids, m.ObjectID())
		return true
	})
	for _, id := range ids {
		f.DamageMob(u, id, 1_000_000)
	}
}

func TestObjectIDsStrictlyIncreasing(t *testing.T) {
	f := testField(t)
	u, _ := enterTestUser(f, 1, "ids")

	tmpl := f.deps.Tables.Mobs.Get(testMobID)
	var ids []int32
	for i := 0; i < 5; i++ {
		m := f.SpawnMob(tmpl, nil, 0, 0, 1)
		ids = append(ids, m.ObjectID())
		d := f.AddDrop(testItemID, 1, 0, 0)
		ids = append(ids, d.ObjectID())
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("object ids not strictly increasing: %v", ids)
		}
	}

	// Ids are never reused, even after the holder is gone.
	last := ids[len(ids)-1]
	killAllMobs(f, u)
	m := f.SpawnMob(tmpl, nil, 0, 0, 1)
	if m.ObjectID() <= last {
		t.Fatalf("object id %d reused after removals (last was %d)", m.ObjectID(), last)
	}
}

func TestDamageClampsAtZero(t *testing.T) {
	tmpl := &data.MobTemplate{ID: 1, MaxHP: 100}
	m := NewMob(tmpl, nil, 0, 0, 1)
	lock.With(m, func(g *lock.Locked[*Mob]) {
		died := m.Damage(g, 7, 150)
		if !died {
			t.Fatal("overkill damage did not report death")
		}
		if hp := m.HP(g); hp != 0 {
			t.Fatalf("hp after overkill = %d, want 0", hp)
		}
		// A second lethal hit cannot kill again.
		if m.Damage(g, 7, 50) {
			t.Fatal("dead mob reported death a second time")
		}
	})
}

func TestConcurrentLethalDamageKillsExactlyOnce(t *testing.T) {
	f := testField(t)
	u, conn := enterTestUser(f, 1, "slayer")

	var mobID int32
	f.Mobs.ForEach(func(m *Mob) bool {
		mobID = m.ObjectID()
		return false
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.DamageMob(u, mobID, 100)
		}()
	}
	wg.Wait()

	if _, ok := f.Mobs.Get(mobID); ok {
		t.Fatal("mob still present after lethal damage")
	}
	// One death animation, one exp message, one reward roll (two
	// guaranteed drops in the test table).
	deaths := 0
	conn.mu.Lock()
	for _, p := range conn.packets {
		if len(p) >= 7 && binary.LittleEndian.Uint16(p[:2]) == packet.OutMobLeaveField &&
			int32(binary.LittleEndian.Uint32(p[2:6])) == mobID && p[6] == 1 {
			deaths++
		}
	}
	conn.mu.Unlock()
	if deaths != 1 {
		t.Fatalf("death broadcast %d times, want exactly once", deaths)
	}
	if n := conn.countOp(packet.OutMessage); n != 1 {
		t.Fatalf("exp message sent %d times, want exactly once", n)
	}
	if n := f.Drops.Count(); n != 2 {
		t.Fatalf("reward drops = %d, want 2", n)
	}
}

func TestExpSplitProportionalWithTopBonus(t *testing.T) {
	f := testField(t)
	a, _ := enterTestUser(f, 1, "major")
	b, _ := enterTestUser(f, 2, "minor")

	var mobID int32
	f.Mobs.ForEach(func(m *Mob) bool {
		mobID = m.ObjectID()
		return false
	})

	f.DamageMob(b, mobID, 25)
	f.DamageMob(a, mobID, 75)

	// Exp 60: major gets 45 + 12 bonus, minor gets 15.
	if got := a.Data.Stat.Exp; got != 57 {
		t.Fatalf("top attacker exp = %d, want 57", got)
	}
	if got := b.Data.Stat.Exp; got != 15 {
		t.Fatalf("minor attacker exp = %d, want 15", got)
	}
}

func TestRespawnRestoresConfiguredCount(t *testing.T) {
	f := testField(t)
	u, _ := enterTestUser(f, 1, "farmer")

	if n := f.Mobs.Count(); n != 2 {
		t.Fatalf("initial spawn = %d mobs, want 2", n)
	}
	killAllMobs(f, u)
	if n := f.Mobs.Count(); n != 0 {
		t.Fatalf("mobs after kill = %d, want 0", n)
	}

	// Still inside the respawn delay: nothing comes back.
	f.respawnMobs(time.Now())
	if n := f.Mobs.Count(); n != 0 {
		t.Fatalf("mobs respawned before delay elapsed: %d", n)
	}

	f.respawnMobs(time.Now().Add(2 * time.Second))
	if n := f.Mobs.Count(); n != 2 {
		t.Fatalf("mobs after respawn = %d, want 2", n)
	}
	f.Mobs.ForEach(func(m *Mob) bool {
		lock.With(m, func(g *lock.Locked[*Mob]) {
			if hp := m.HP(g); hp != 100 {
				t.Errorf("respawned mob hp = %d, want full 100", hp)
			}
		})
		return true
	})
}

func TestPickUpDropGrantedToOneUser(t *testing.T) {
	f := testField(t)
	a, _ := enterTestUser(f, 1, "looterA")
	b, _ := enterTestUser(f, 2, "looterB")

	d := f.AddDrop(0, 100, 0, 0) // 100 mesos, free for all
	dropID := d.ObjectID()

	results := make(chan bool, 2)
	var wg sync.WaitGroup
	for _, u := range []*User{a, b} {
		wg.Add(1)
		go func(u *User) {
			defer wg.Done()
			lock.With(u, func(g *lock.Locked[*User]) {
				results <- f.PickUpDrop(g, u, dropID)
			})
		}(u)
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("drop granted to %d users, want exactly 1", wins)
	}
	if got := a.Data.Inventory.Meso + b.Data.Inventory.Meso; got != 100 {
		t.Fatalf("total meso gained = %d, want 100", got)
	}
	if _, ok := f.Drops.Get(dropID); ok {
		t.Fatal("drop still on the ground after pickup")
	}
}

func TestDropOwnershipLapses(t *testing.T) {
	now := time.Now()
	d := NewDrop(testItemID, 1, 10, 0, OwnershipUser, 15*time.Second, time.Minute)

	if !d.CanPickUp(10, 0, now) {
		t.Fatal("owner denied their own drop")
	}
	if d.CanPickUp(11, 0, now) {
		t.Fatal("stranger allowed inside the ownership window")
	}
	if !d.CanPickUp(11, 0, now.Add(16*time.Second)) {
		t.Fatal("stranger still denied after ownership lapsed")
	}
}

func TestFailedInventoryAddReturnsDrop(t *testing.T) {
	f := testField(t)
	u, _ := enterTestUser(f, 1, "fullbags")

	// Unknown item template: the add fails and the drop goes back.
	d := f.AddDrop(9999999, 1, 0, 0)
	lock.With(u, func(g *lock.Locked[*User]) {
		if f.PickUpDrop(g, u, d.ObjectID()) {
			t.Fatal("pickup of unknown item succeeded")
		}
	})
	if _, ok := f.Drops.Get(d.ObjectID()); !ok {
		t.Fatal("drop vanished after failed pickup")
	}
}

func TestControllerFollowsUsers(t *testing.T) {
	f := testField(t)
	a, _ := enterTestUser(f, 1, "first")

	f.Mobs.ForEach(func(m *Mob) bool {
		lock.With(m, func(g *lock.Locked[*Mob]) {
			if got := m.Controller(g); got != a.CharacterID() {
				t.Errorf("mob %d controller = %d, want %d", m.ObjectID(), got, a.CharacterID())
			}
		})
		return true
	})

	b, _ := enterTestUser(f, 2, "second")
	lock.With(a, func(g *lock.Locked[*User]) {
		f.LeaveUser(g, a)
	})

	f.Mobs.ForEach(func(m *Mob) bool {
		lock.With(m, func(g *lock.Locked[*Mob]) {
			if got := m.Controller(g); got != b.CharacterID() {
				t.Errorf("mob %d controller after handoff = %d, want %d", m.ObjectID(), got, b.CharacterID())
			}
		})
		return true
	})
}

func TestMobMoveRejectedFromNonController(t *testing.T) {
	f := testField(t)
	a, _ := enterTestUser(f, 1, "driver")
	_, connB := enterTestUser(f, 2, "passenger")

	var m *Mob
	f.Mobs.ForEach(func(mob *Mob) bool {
		m = mob
		return false
	})

	before := connB.countOp(packet.OutMobMove)
	f.MoveMob(999, m.ObjectID(), 50, 50, 1, nil) // not the controller
	if connB.countOp(packet.OutMobMove) != before {
		t.Fatal("movement from non-controller was relayed")
	}

	f.MoveMob(a.CharacterID(), m.ObjectID(), 50, 50, 1, nil)
	if connB.countOp(packet.OutMobMove) != before+1 {
		t.Fatal("movement from controller was not relayed")
	}
	if x, y := m.Position(); x != 50 || y != 50 {
		t.Fatalf("mob position = (%d,%d), want (50,50)", x, y)
	}
}

func TestReactorAdvancesAndResets(t *testing.T) {
	f := testField(t)
	enterTestUser(f, 1, "witness")

	r := f.SpawnReactor(2000, "boxes", 2, 10, 10)

	if _, finished, ok := f.HitReactor(r.ObjectID()); !ok || finished {
		t.Fatal("first hit should advance without finishing")
	}
	if _, finished, ok := f.HitReactor(r.ObjectID()); !ok || !finished {
		t.Fatal("second hit should finish the reactor")
	}
	if _, _, ok := f.HitReactor(r.ObjectID()); ok {
		t.Fatal("hit past the final state was accepted")
	}

	lock.With(r, func(g *lock.Locked[*Reactor]) {
		if !r.ShouldReset(g, time.Now().Add(time.Minute)) {
			t.Fatal("finished reactor not due for reset after its timer")
		}
		r.Reset(g)
		if got := r.State(g); got != 0 {
			t.Fatalf("state after reset = %d, want 0", got)
		}
	})
}

func TestTickExpiresDrops(t *testing.T) {
	f := testField(t)
	f.deps.DropTTL = time.Millisecond
	enterTestUser(f, 1, "watcher")

	d := f.AddDrop(0, 50, 0, 0)
	time.Sleep(5 * time.Millisecond)
	f.onTick()

	if _, ok := f.Drops.Get(d.ObjectID()); ok {
		t.Fatal("expired drop survived the tick")
	}
}

func TestTickSurvivesEntityPanic(t *testing.T) {
	f := testField(t)
	enterTestUser(f, 1, "bystander")

	ran := false
	f.updateEntity(1, "mob", func() { panic("boom") })
	f.updateEntity(2, "mob", func() { ran = true })
	if !ran {
		t.Fatal("update after a panicking entity did not run")
	}
}

func TestTickExpiresBuffsUnderGuard(t *testing.T) {
	f := testField(t)
	u, _ := enterTestUser(f, 1, "buffed")

	// Handlers refresh buffs under the user's guard while ticks expire
	// them. Run both at once; the race detector flags any unguarded
	// access to the buff map.
	past := time.Now().Add(-time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			lock.With(u, func(g *lock.Locked[*User]) {
				u.TempStats.Set(world.StatPad, world.TemporaryStatOption{Value: 10, Expire: past})
			})
		}
	}()
	for i := 0; i < 200; i++ {
		f.onTick()
	}
	<-done
	f.onTick()

	buffs := -1
	lock.With(u, func(g *lock.Locked[*User]) {
		buffs = u.TempStats.Len()
	})
	if buffs != 0 {
		t.Fatalf("%d expired buffs survived the tick", buffs)
	}
}

func TestForEachPartyMemberVisitsOnlyParty(t *testing.T) {
	f := testField(t)
	a, _ := enterTestUser(f, 1, "alpha")
	b, _ := enterTestUser(f, 2, "beta")
	c, _ := enterTestUser(f, 3, "gamma")
	for _, u := range []*User{a, b} {
		lock.With(u, func(g *lock.Locked[*User]) {
			u.PartyID = 7
		})
	}
	lock.With(c, func(g *lock.Locked[*User]) {
		c.PartyID = 9
	})

	visited := map[int32]bool{}
	f.ForEachPartyMember(7, func(g *lock.Locked[*User], member *User) {
		visited[member.CharacterID()] = true
	})
	if !visited[1] || !visited[2] || visited[3] {
		t.Fatalf("visited = %v, want members 1 and 2 only", visited)
	}

	f.ForEachPartyMember(0, func(g *lock.Locked[*User], member *User) {
		t.Fatal("party id zero must visit no one")
	})
}
