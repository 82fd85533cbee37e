package fsm

import (
	"container/heap"
	"sync"
	"time"
)

// Clock abstracts time so the scheduler can be driven deterministically in
// tests. RealClock is used in production.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is a Clock backed by the time package.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// timeoutEntry is one armed timeout waiting in the scheduler's priority
// queue, tagged with the state it was armed in so a late fire following a
// cancel-then-rearm race can be told apart from the current arming.
type timeoutEntry struct {
	id           MachineID
	armedInState StateName
	fireAt       time.Time
	seq          uint64
	index        int
}

type timeoutQueue []*timeoutEntry

func (q timeoutQueue) Len() int { return len(q) }
func (q timeoutQueue) Less(i, j int) bool {
	if q[i].fireAt.Equal(q[j].fireAt) {
		return q[i].seq < q[j].seq
	}
	return q[i].fireAt.Before(q[j].fireAt)
}
func (q timeoutQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *timeoutQueue) Push(x interface{}) {
	e := x.(*timeoutEntry)
	e.index = len(*q)
	*q = append(*q, e)
}
func (q *timeoutQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// TimeoutSink receives a synthetic timeout event for id, armed while the
// machine was in armedInState. The registry wires this to deliver the event
// through the normal Send path so stale fires are rejected the same way any
// other late event would be.
type TimeoutSink func(id MachineID, armedInState StateName, ev Event)

// Scheduler is a single-threaded, logical-clock timeout scheduler shared by
// every machine in one registry. It runs on its own goroutine, armed
// entirely through channel operations, so its internal heap never needs a
// mutex.
type Scheduler struct {
	clock Clock
	sink  TimeoutSink

	armC   chan *timeoutEntry
	cancelC chan MachineID
	stopC  chan struct{}
	doneC  chan struct{}

	mu      sync.Mutex
	current map[MachineID]StateName

	seq uint64
}

// NewScheduler starts a Scheduler delivering fired timeouts to sink.
func NewScheduler(clock Clock, sink TimeoutSink) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	s := &Scheduler{
		clock:   clock,
		sink:    sink,
		armC:    make(chan *timeoutEntry),
		cancelC: make(chan MachineID),
		stopC:   make(chan struct{}),
		doneC:   make(chan struct{}),
		current: make(map[MachineID]StateName),
	}
	go s.run()
	return s
}

// Arm (re)arms a timeout for id, tagged with the state it was armed in.
// Arming a new timeout for an id implicitly cancels any previous one.
func (s *Scheduler) Arm(id MachineID, armedInState StateName, d time.Duration) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.current[id] = armedInState
	s.mu.Unlock()

	entry := &timeoutEntry{id: id, armedInState: armedInState, fireAt: s.clock.Now().Add(d), seq: seq}
	select {
	case s.armC <- entry:
	case <-s.doneC:
	}
}

// Cancel disarms any timeout pending for id. A timeout that has already
// fired and is in flight to sink is unaffected; the armed-in-state tag lets
// the eventual receiver discard it if it is stale.
func (s *Scheduler) Cancel(id MachineID) {
	s.mu.Lock()
	delete(s.current, id)
	s.mu.Unlock()

	select {
	case s.cancelC <- id:
	case <-s.doneC:
	}
}

// Stop halts the scheduler's goroutine. No further timeouts will fire.
func (s *Scheduler) Stop() {
	close(s.stopC)
	<-s.doneC
}

func (s *Scheduler) run() {
	defer close(s.doneC)

	q := &timeoutQueue{}
	heap.Init(q)
	byID := make(map[MachineID]*timeoutEntry)

	var timerC <-chan time.Time
	var timer *time.Timer
	resetTimer := func() {
		if timer != nil {
			timer.Stop()
			timerC = nil
		}
		if q.Len() == 0 {
			return
		}
		d := (*q)[0].fireAt.Sub(s.clock.Now())
		if d < 0 {
			d = 0
		}
		timer = time.NewTimer(d)
		timerC = timer.C
	}

	for {
		select {
		case <-s.stopC:
			return

		case e := <-s.armC:
			if old, ok := byID[e.id]; ok && old.index >= 0 {
				heap.Remove(q, old.index)
			}
			heap.Push(q, e)
			byID[e.id] = e
			resetTimer()

		case id := <-s.cancelC:
			if old, ok := byID[id]; ok {
				if old.index >= 0 {
					heap.Remove(q, old.index)
				}
				delete(byID, id)
				resetTimer()
			}

		case <-timerC:
			now := s.clock.Now()
			for q.Len() > 0 && !(*q)[0].fireAt.After(now) {
				e := heap.Pop(q).(*timeoutEntry)
				delete(byID, e.id)
				// Delivered on its own goroutine so a slow or backpressured
				// sink never stalls the scheduler's own timer loop.
				go s.sink(e.id, e.armedInState, newTimeoutEvent(e.armedInState))
			}
			resetTimer()
		}
	}
}
