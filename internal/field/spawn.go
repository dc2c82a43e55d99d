package field

import (
	"sync/atomic"
	"time"

	"github.com/CCasusensa/kinoko-sub000/internal/data"
)

// SpawnPoint tracks one mob spawn entry from map data. The tick brings
// the alive count back up to the configured count once the respawn
// delay has passed since the last death at this point.
type SpawnPoint struct {
	template *data.MobTemplate
	X, Y     int16
	Foothold int16
	Count    int
	Delay    time.Duration

	alive  atomic.Int32
	nextAt atomic.Int64 // unix nanos of the earliest allowed respawn
}

func NewSpawnPoint(template *data.MobTemplate, life data.LifeSpawn, defaultDelay time.Duration) *SpawnPoint {
	count := life.Count
	if count < 1 {
		count = 1
	}
	delay := time.Duration(life.RespawnSec) * time.Second
	if delay <= 0 {
		delay = defaultDelay
	}
	return &SpawnPoint{
		template: template,
		X:        life.X,
		Y:        life.Y,
		Foothold: life.Foothold,
		Count:    count,
		Delay:    delay,
	}
}

func (sp *SpawnPoint) Template() *data.MobTemplate { return sp.template }

// Missing returns how many mobs this point should spawn at now, zero
// while fully populated or still in the respawn delay.
func (sp *SpawnPoint) Missing(now time.Time) int {
	missing := sp.Count - int(sp.alive.Load())
	if missing <= 0 {
		return 0
	}
	if now.UnixNano() < sp.nextAt.Load() {
		return 0
	}
	return missing
}

// NotifySpawned records mobs entering the world from this point.
func (sp *SpawnPoint) NotifySpawned(n int) {
	sp.alive.Add(int32(n))
}

// NotifyDeath records a death and arms the respawn delay.
func (sp *SpawnPoint) NotifyDeath(now time.Time) {
	sp.alive.Add(-1)
	sp.nextAt.Store(now.Add(sp.Delay).UnixNano())
}
