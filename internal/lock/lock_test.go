package lock

import (
	"sync"
	"sync/atomic"
	"testing"
)

type guarded struct {
	Mutex
	n int
}

func TestMutualExclusion(t *testing.T) {
	g := &guarded{}
	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				With(g, func(l *Locked[*guarded]) {
					if inside.Add(1) > 1 {
						t.Error("two goroutines inside the same guard")
					}
					l.Get().n++
					inside.Add(-1)
				})
			}
		}()
	}
	wg.Wait()
	if g.n != 16*1000 {
		t.Fatalf("n = %d, want %d", g.n, 16*1000)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	g := &guarded{}
	l := Acquire(g)
	l.Release()
	l.Release() // must not unlock twice

	// Lock must be free again.
	done := make(chan struct{})
	go func() {
		With(g, func(*Locked[*guarded]) {})
		close(done)
	}()
	<-done
}

func TestGetAfterReleasePanics(t *testing.T) {
	g := &guarded{}
	l := Acquire(g)
	l.Release()
	defer func() {
		if recover() == nil {
			t.Fatal("Get after Release did not panic")
		}
	}()
	l.Get()
}

func TestWithReleasesOnPanic(t *testing.T) {
	g := &guarded{}
	func() {
		defer func() { recover() }()
		With(g, func(*Locked[*guarded]) { panic("boom") })
	}()
	// Guard must have been released despite the panic.
	l := Acquire(g)
	l.Release()
}
