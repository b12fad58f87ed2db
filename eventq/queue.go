// Package eventq provides the serialized execution context shared by the
// GAP and Security Manager engines. One goroutine drains a queue of
// closures; application requests, controller events and timer fires are
// all posted onto it, so no two state-machine mutations ever run
// concurrently.
package eventq

import (
	"sync"
	"time"
)

// Queue executes posted functions one at a time in posting order.
type Queue struct {
	mu     sync.Mutex
	ch     chan func()
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// New starts a queue with the given buffering depth.
func New(depth int) *Queue {
	q := &Queue{
		ch:   make(chan func(), depth),
		done: make(chan struct{}),
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for fn := range q.ch {
		fn()
	}
}

// Post enqueues fn for execution. Posting to a closed queue is a no-op.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.ch <- fn
}

// Sync posts fn and waits for it to run, for callers outside the queue
// context that need a result. Must not be called from the queue goroutine.
func (q *Queue) Sync(fn func()) {
	done := make(chan struct{})
	q.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-q.done:
	}
}

// Close stops the queue after draining already-posted work.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
	close(q.done)
}

// Timer is a pending delayed post. Timer fires never run inline in the
// runtime timer goroutine; the callback is posted onto the queue.
type Timer struct {
	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

// CallAfter schedules fn to be posted onto the queue after d.
func (q *Queue) CallAfter(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		tm.mu.Lock()
		fire := !tm.stopped
		tm.mu.Unlock()
		if fire {
			q.Post(fn)
		}
	})
	return tm
}

// Stop cancels the timer. Stopping an already-stopped timer is a no-op.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.t.Stop()
}
