package field

import (
	"fmt"
	"sync"
	"time"

	"github.com/CCasusensa/kinoko-sub000/internal/lock"
)

// Storage owns every running field of one channel. Shared fields are
// created lazily on first entry and live until the channel stops;
// instanced fields are created on demand and torn down explicitly.
type Storage struct {
	deps Deps

	mu           sync.Mutex
	fields       map[Key]*Field
	nextInstance int32
}

func NewStorage(deps Deps) *Storage {
	return &Storage{
		deps:   deps,
		fields: make(map[Key]*Field),
	}
}

// Get returns the shared field for a map, creating it on first use.
func (s *Storage) Get(mapID int32) (*Field, error) {
	return s.getByKey(Key{MapID: mapID})
}

// GetByKey returns an already running field, shared or instanced.
func (s *Storage) GetByKey(key Key) (*Field, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[key]
	return f, ok
}

// CreateInstance builds a private copy of a map for a party or a
// scripted event. A positive lifetime schedules the teardown: anyone
// still inside when it expires is moved to the map's return map. With
// lifetime zero the caller owns DestroyInstance.
func (s *Storage) CreateInstance(mapID int32, lifetime time.Duration) (*Field, error) {
	tmpl := s.deps.Tables.Maps.Get(mapID)
	if tmpl == nil {
		return nil, fmt.Errorf("unknown map id %d", mapID)
	}
	s.mu.Lock()
	s.nextInstance++
	key := Key{MapID: mapID, InstanceID: s.nextInstance}
	f := New(key, tmpl, s.deps)
	s.fields[key] = f
	s.mu.Unlock()

	if lifetime > 0 {
		s.deps.Scheduler.Schedule(lifetime, func() { s.expireInstance(key) })
	}
	return f, nil
}

// expireInstance evicts remaining users to the return map and tears
// the instance down.
func (s *Storage) expireInstance(key Key) {
	s.mu.Lock()
	f, ok := s.fields[key]
	delete(s.fields, key)
	s.mu.Unlock()
	if !ok {
		return
	}

	ret, err := s.Get(f.Template().ReturnMap)
	f.Users.ForEach(func(u *User) bool {
		lock.With(u, func(g *lock.Locked[*User]) {
			f.LeaveUser(g, u)
			if err == nil {
				ret.EnterUser(g, u, nil)
			}
		})
		return true
	})
	f.Destroy()
}

// DestroyInstance stops an instanced field. Shared fields (instance 0)
// are never destroyed this way.
func (s *Storage) DestroyInstance(key Key) {
	if key.InstanceID == 0 {
		return
	}
	s.mu.Lock()
	f, ok := s.fields[key]
	delete(s.fields, key)
	s.mu.Unlock()
	if ok {
		f.Destroy()
	}
}

// Close tears down every field. Called at channel shutdown.
func (s *Storage) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, f := range s.fields {
		f.Destroy()
		delete(s.fields, key)
	}
}

// Count returns how many fields are currently running.
func (s *Storage) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fields)
}

func (s *Storage) getByKey(key Key) (*Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.fields[key]; ok {
		return f, nil
	}
	tmpl := s.deps.Tables.Maps.Get(key.MapID)
	if tmpl == nil {
		return nil, fmt.Errorf("unknown map id %d", key.MapID)
	}
	f := New(key, tmpl, s.deps)
	s.fields[key] = f
	return f, nil
}
