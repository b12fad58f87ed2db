package eventq

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueSerializes(t *testing.T) {
	q := New(16)
	defer q.Close()

	var active, overlaps int32
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		last := i == 99
		q.Post(func() {
			if atomic.AddInt32(&active, 1) != 1 {
				atomic.AddInt32(&overlaps, 1)
			}
			atomic.AddInt32(&active, -1)
			if last {
				close(done)
			}
		})
	}
	<-done
	if overlaps != 0 {
		t.Fatalf("%d callbacks overlapped", overlaps)
	}
}

func TestQueuePreservesOrder(t *testing.T) {
	q := New(16)
	defer q.Close()

	var got []int
	for i := 0; i < 50; i++ {
		n := i
		q.Post(func() { got = append(got, n) })
	}
	q.Sync(func() {})
	for i, n := range got {
		if n != i {
			t.Fatalf("event %d processed at position %d", n, i)
		}
	}
}

func TestSyncWaits(t *testing.T) {
	q := New(1)
	defer q.Close()

	ran := false
	q.Sync(func() { ran = true })
	if !ran {
		t.Fatal("Sync returned before the function ran")
	}
}

func TestCallAfter(t *testing.T) {
	q := New(4)
	defer q.Close()

	fired := make(chan struct{})
	q.CallAfter(10*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerStopIdempotent(t *testing.T) {
	q := New(4)
	defer q.Close()

	tm := q.CallAfter(time.Hour, func() { t.Error("timer fired") })
	tm.Stop()
	tm.Stop()

	var nilTimer *Timer
	nilTimer.Stop() // must not panic
}

func TestPostAfterCloseIsNoop(t *testing.T) {
	q := New(4)
	q.Close()
	q.Post(func() { t.Error("posted after close") })
	time.Sleep(20 * time.Millisecond)
}
