// Package looper provides single-threaded task queues with cancellable delayed tasks.
//
// All state owned by a component is mutated only from tasks running on that component's
// Looper. Other goroutines communicate with it exclusively by posting tasks.
package looper

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/teslamotors/bluetooth-policy/internal/log"
)

var (
	ErrAlreadyStarted = errors.New("looper already started")
	ErrFakeClock      = errors.New("looper with a fake clock must be driven manually")
)

type timerState int

const (
	timerPending timerState = iota
	timerFired
	timerCancelled
)

// Timer is a handle to a delayed task.
type Timer struct {
	looper   *Looper
	deadline time.Time
	seq      uint64
	fn       func()
	index    int
	state    timerState
	queued   bool
}

// Cancel prevents the task from running. It returns false if the task already ran or was
// already cancelled. Cancel may be called from any goroutine, and on a nil Timer.
func (t *Timer) Cancel() bool {
	if t == nil {
		return false
	}
	l := t.looper
	l.lock.Lock()
	defer l.lock.Unlock()
	if t.state != timerPending {
		return false
	}
	t.state = timerCancelled
	if !t.queued {
		heap.Remove(&l.delayed, t.index)
	}
	return true
}

// Deadline returns the instant at which the task becomes ready.
func (t *Timer) Deadline() time.Time {
	return t.deadline
}

type task struct {
	fn    func()
	timer *Timer
}

// Looper runs posted tasks one at a time, in the order they became ready.
type Looper struct {
	name  string
	clock Clock
	log   log.Logger

	lock    sync.Mutex
	ready   []task
	delayed timerHeap
	seq     uint64
	stopped bool
	wake    chan struct{}

	doneLock  sync.Mutex
	started   bool
	terminate chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

// New creates a Looper. A nil clock selects RealClock.
func New(name string, clock Clock) *Looper {
	if clock == nil {
		clock = RealClock{}
	}
	return &Looper{
		name:      name,
		clock:     clock,
		log:       log.Tag("looper").With(name),
		wake:      make(chan struct{}, 1),
		terminate: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (l *Looper) Name() string {
	return l.name
}

func (l *Looper) Now() time.Time {
	return l.clock.Now()
}

func (l *Looper) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Post enqueues fn behind every task that is already ready, including timers that have expired.
func (l *Looper) Post(fn func()) {
	l.lock.Lock()
	if !l.stopped {
		l.promote(l.clock.Now())
		l.ready = append(l.ready, task{fn: fn})
	}
	l.lock.Unlock()
	l.signal()
}

// PostDelayed schedules fn to become ready after d. Tasks with the same deadline become ready in
// the order they were posted.
func (l *Looper) PostDelayed(d time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	l.lock.Lock()
	l.seq++
	t := &Timer{
		looper:   l,
		deadline: l.clock.Now().Add(d),
		seq:      l.seq,
		fn:       fn,
	}
	if l.stopped {
		t.state = timerCancelled
		l.lock.Unlock()
		return t
	}
	heap.Push(&l.delayed, t)
	l.lock.Unlock()
	l.signal()
	return t
}

// promote moves expired timers onto the ready queue. Caller holds l.lock.
func (l *Looper) promote(now time.Time) {
	for len(l.delayed) > 0 && !l.delayed[0].deadline.After(now) {
		t := heap.Pop(&l.delayed).(*Timer)
		t.queued = true
		l.ready = append(l.ready, task{fn: t.fn, timer: t})
	}
}

// next pops the next runnable task.
func (l *Looper) next() (func(), bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.promote(l.clock.Now())
	for len(l.ready) > 0 {
		t := l.ready[0]
		l.ready[0] = task{}
		l.ready = l.ready[1:]
		if t.timer != nil {
			if t.timer.state != timerPending {
				continue
			}
			t.timer.state = timerFired
		}
		return t.fn, true
	}
	return nil, false
}

func (l *Looper) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Recovered from panic in task: %v", r)
		}
	}()
	fn()
}

// DispatchAll runs ready tasks on the calling goroutine until none remain, including tasks
// posted by the tasks it runs. It returns the number of tasks run.
func (l *Looper) DispatchAll() int {
	count := 0
	for {
		fn, ok := l.next()
		if !ok {
			return count
		}
		l.run(fn)
		count++
	}
}

// MoveTimeForward advances a FakeClock by d, running each delayed task at its own deadline. It
// returns the number of tasks run.
func (l *Looper) MoveTimeForward(d time.Duration) int {
	fake, ok := l.clock.(*FakeClock)
	if !ok {
		panic(ErrFakeClock)
	}
	target := fake.Now().Add(d)
	count := l.DispatchAll()
	for {
		l.lock.Lock()
		var deadline time.Time
		pending := len(l.delayed) > 0 && !l.delayed[0].deadline.After(target)
		if pending {
			deadline = l.delayed[0].deadline
		}
		l.lock.Unlock()
		if !pending {
			break
		}
		fake.set(deadline)
		count += l.DispatchAll()
	}
	fake.set(target)
	return count + l.DispatchAll()
}

// Pending returns the number of tasks that are waiting, ready or delayed.
func (l *Looper) Pending() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.ready) + len(l.delayed)
}

func (l *Looper) nextWait() (time.Duration, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if len(l.ready) > 0 {
		return 0, true
	}
	if len(l.delayed) == 0 {
		return 0, false
	}
	return l.delayed[0].deadline.Sub(l.clock.Now()), true
}

// Start launches the loop goroutine and returns once it is running. The loop exits when ctx is
// cancelled or Stop is called.
func (l *Looper) Start(ctx context.Context) error {
	if _, ok := l.clock.(*FakeClock); ok {
		return ErrFakeClock
	}
	l.doneLock.Lock()
	defer l.doneLock.Unlock()
	if l.started {
		return ErrAlreadyStarted
	}
	l.started = true
	ready := make(chan struct{})
	go l.listen(ctx, ready)
	<-ready
	return nil
}

func (l *Looper) listen(ctx context.Context, ready chan<- struct{}) {
	defer close(l.done)
	close(ready)
	l.log.Debug("Looper started")
	for {
		l.DispatchAll()
		var timer *time.Timer
		var expired <-chan time.Time
		wait, ok := l.nextWait()
		if ok {
			if wait <= 0 {
				continue
			}
			timer = time.NewTimer(wait)
			expired = timer.C
		}
		exit := false
		select {
		case <-ctx.Done():
			l.log.Debug("Looper context done: %s", ctx.Err())
			exit = true
		case <-l.terminate:
			l.log.Debug("Looper stopped")
			exit = true
		case <-l.wake:
		case <-expired:
		}
		if timer != nil {
			timer.Stop()
		}
		if exit {
			return
		}
	}
}

// Done is closed when the loop goroutine exits.
func (l *Looper) Done() <-chan struct{} {
	return l.done
}

// Stop terminates the loop goroutine and waits for the running task, if any, to finish. Pending
// tasks are discarded and later posts are ignored. Stop must not be called from a task running on l.
func (l *Looper) Stop() {
	l.stopOnce.Do(func() {
		close(l.terminate)
	})
	l.doneLock.Lock()
	started := l.started
	l.doneLock.Unlock()
	if started {
		<-l.done
	}
	l.lock.Lock()
	l.stopped = true
	for _, t := range l.delayed {
		t.state = timerCancelled
	}
	l.delayed = nil
	l.ready = nil
	l.lock.Unlock()
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
