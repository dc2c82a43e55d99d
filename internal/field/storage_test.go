package field

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/CCasusensa/kinoko-sub000/internal/lock"
	"github.com/CCasusensa/kinoko-sub000/internal/sched"
)

func testStorage(t *testing.T) *Storage {
	t.Helper()
	s := sched.New(zap.NewNop())
	t.Cleanup(s.Close)
	st := NewStorage(Deps{
		Tables:       testTables(),
		Log:          zap.NewNop(),
		Scheduler:    s,
		ExpRate:      1.0,
		DropRate:     1.0,
		MesoRate:     1.0,
		TickInterval: time.Hour,
		DropTTL:      3 * time.Minute,
		ReactorTTL:   30 * time.Second,
	})
	t.Cleanup(st.Close)
	return st
}

func TestStorageSharedFieldIsReused(t *testing.T) {
	st := testStorage(t)
	a, err := st.Get(testMapID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := st.Get(testMapID)
	if a != b {
		t.Fatal("shared field should be constructed once")
	}
	if _, err := st.Get(999999999); err == nil {
		t.Fatal("unknown map should error")
	}
}

func TestStorageInstancesAreDistinct(t *testing.T) {
	st := testStorage(t)
	shared, _ := st.Get(testMapID)
	inst, err := st.CreateInstance(testMapID, 0)
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if inst == shared {
		t.Fatal("instance must not alias the shared field")
	}
	if inst.Key().InstanceID == 0 {
		t.Fatal("instance key should carry a nonzero instance id")
	}
	st.DestroyInstance(inst.Key())
	if _, ok := st.GetByKey(inst.Key()); ok {
		t.Fatal("destroyed instance should be gone")
	}
}

func TestStorageInstanceExpiryEvictsToReturnMap(t *testing.T) {
	st := testStorage(t)
	inst, err := st.CreateInstance(testMapID, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}

	u, _ := enterTestUser(inst, 1, "alpha")

	deadline := time.Now().Add(2 * time.Second)
	for {
		var f *Field
		lock.With(u, func(g *lock.Locked[*User]) {
			f = u.Field(g)
		})
		if f != nil && f.Key() == (Key{MapID: testMapID}) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("user was not evicted to the return map in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := st.GetByKey(inst.Key()); ok {
		t.Fatal("expired instance should be gone")
	}
}
