// Package sched provides the event scheduler shared by field ticks,
// skill cooldowns and world events. A single decision goroutine keeps
// the timer bookkeeping; task bodies run on short-lived goroutines so
// a slow task can never stall the timer.
package sched

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a handle to a scheduled task. Cancel is safe to call from
// any goroutine and is a no-op once a one-shot task has fired or the
// task was cancelled already.
type Task struct {
	at        time.Time
	interval  time.Duration // 0 for one-shot
	fn        func()
	cancelled atomic.Bool
	index     int // heap index, decision goroutine only
}

// Cancel prevents future executions of the task. An execution already
// in flight runs to completion.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
}

type taskHeap []*Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler owns the timer heap. All heap mutation happens on the
// decision goroutine; Schedule hands new tasks over via a channel.
type Scheduler struct {
	addCh   chan *Task
	closeCh chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	log     *zap.Logger
}

func New(log *zap.Logger) *Scheduler {
	s := &Scheduler{
		addCh:   make(chan *Task, 128),
		closeCh: make(chan struct{}),
		log:     log,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Schedule runs fn once after delay.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) *Task {
	return s.add(&Task{at: time.Now().Add(delay), fn: fn})
}

// ScheduleWithFixedDelay runs fn after initial, then repeatedly with
// the given delay. A late firing re-arms relative to now; it does not
// compound a backlog of missed intervals.
func (s *Scheduler) ScheduleWithFixedDelay(initial, delay time.Duration, fn func()) *Task {
	return s.add(&Task{at: time.Now().Add(initial), interval: delay, fn: fn})
}

// Submit runs fn on its own goroutine immediately.
func (s *Scheduler) Submit(fn func()) {
	s.dispatch(fn)
}

func (s *Scheduler) add(t *Task) *Task {
	select {
	case s.addCh <- t:
	case <-s.closeCh:
		t.cancelled.Store(true)
	}
	return t
}

// Close stops the decision goroutine. Pending tasks are dropped;
// in-flight task bodies run to completion.
func (s *Scheduler) Close() {
	s.once.Do(func() { close(s.closeCh) })
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	var h taskHeap
	heap.Init(&h)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if len(h) > 0 {
			timer.Reset(time.Until(h[0].at))
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case t := <-s.addCh:
			heap.Push(&h, t)
		case <-timer.C:
			now := time.Now()
			for len(h) > 0 && !h[0].at.After(now) {
				t := heap.Pop(&h).(*Task)
				if t.cancelled.Load() {
					continue
				}
				s.dispatch(t.fn)
				if t.interval > 0 {
					t.at = time.Now().Add(t.interval)
					heap.Push(&h, t)
				}
			}
		case <-s.closeCh:
			return
		}
	}
}

// dispatch runs fn on a fresh goroutine with panic containment: a
// panicking task is logged, never fatal to the scheduler.
func (s *Scheduler) dispatch(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("scheduled task panicked",
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}
