package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = r.Teardown() })
	return r
}

func TestTimerFiresInDeadlineOrder(t *testing.T) {
	r := newTestReactor(t)
	base := time.Unix(1700000000, 0)
	r.now = func() time.Time { return base }

	var order []string
	a := NewTimer(func() { order = append(order, "a") })
	b := NewTimer(func() { order = append(order, "b") })
	c := NewTimer(func() { order = append(order, "c") })

	r.TimerSet(b, 200)
	r.TimerSet(a, 100)
	r.TimerSet(c, 300)

	r.now = func() time.Time { return base.Add(250 * time.Millisecond) }
	r.drainExpiredTimers()

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected [a b], got %v", order)
	}
	if !c.scheduled {
		t.Fatalf("timer c should still be scheduled")
	}
}

func TestTimerSetReplacesDeadline(t *testing.T) {
	r := newTestReactor(t)
	base := time.Unix(1700000000, 0)
	r.now = func() time.Time { return base }

	fired := false
	tm := NewTimer(func() { fired = true })

	r.TimerSet(tm, 1000)
	r.TimerSet(tm, 5000) // replace: should not fire at the old deadline

	r.now = func() time.Time { return base.Add(1500 * time.Millisecond) }
	r.drainExpiredTimers()

	if fired {
		t.Fatalf("timer fired at old deadline after being rescheduled")
	}
	if len(r.timers) != 1 {
		t.Fatalf("expected exactly one pending timer, got %d", len(r.timers))
	}
}

func TestTimerCancelIdempotent(t *testing.T) {
	r := newTestReactor(t)
	tm := NewTimer(func() {})
	r.TimerCancel(tm) // never scheduled
	r.TimerSet(tm, 0)
	r.TimerCancel(tm)
	r.TimerCancel(tm) // already canceled
	if tm.scheduled {
		t.Fatalf("timer should not be scheduled after cancel")
	}
}

func TestTimerZeroDelayFiresOnNextIteration(t *testing.T) {
	r := newTestReactor(t)
	base := time.Unix(1700000000, 0)
	r.now = func() time.Time { return base }

	fired := false
	tm := NewTimer(func() { fired = true })
	r.TimerSet(tm, 0)

	r.drainExpiredTimers()
	if !fired {
		t.Fatalf("zero-delay timer should fire immediately")
	}
}

func TestWatchIdempotentRegistration(t *testing.T) {
	r := newTestReactor(t)
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})

	calls := 0
	cb := func(fd int, readable, writable bool) { calls++ }

	if err := r.Watch(fds[0], 1, Readable, cb); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	// Duplicate registration for the same (fd, token) must be idempotent,
	// not a second epoll_ctl ADD (which would return EEXIST).
	if err := r.Watch(fds[0], 1, Readable, cb); err != nil {
		t.Fatalf("re-Watch: %v", err)
	}
	if len(r.byFd[fds[0]]) != 1 {
		t.Fatalf("expected one watch key for fd, got %d", len(r.byFd[fds[0]]))
	}
}

func TestUnwatchNonexistentIsNoop(t *testing.T) {
	r := newTestReactor(t)
	if err := r.Unwatch(999, 0); err != nil {
		t.Fatalf("Unwatch on unregistered key should be a no-op, got %v", err)
	}
}

func TestInvokeRunsOnReactorGoroutineFromForeignGoroutine(t *testing.T) {
	r := newTestReactor(t)

	done := make(chan struct{})
	var ran bool
	go func() {
		r.Invoke(func() {
			ran = true
			r.Stop()
			close(done)
		})
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- r.Run() }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for invoked callback")
	}
	if err := <-runDone; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Fatalf("expected invoked callback to run")
	}
}

func TestInvokeRunsQueuedCallsInOrder(t *testing.T) {
	r := newTestReactor(t)
	var order []int
	r.qmu.Lock()
	r.invokeQ = append(r.invokeQ, func() { order = append(order, 1) }, func() { order = append(order, 2) })
	r.qmu.Unlock()

	r.drainInvoke()

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected [1 2], got %v", order)
	}
	r.qmu.Lock()
	n := len(r.invokeQ)
	r.qmu.Unlock()
	if n != 0 {
		t.Fatalf("expected invoke queue to be drained, got %d pending", n)
	}
}

func TestRunDispatchesReadableFd(t *testing.T) {
	r := newTestReactor(t)
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})

	done := make(chan struct{})
	err := r.Watch(fds[0], 0, Readable, func(fd int, readable, writable bool) {
		if !readable {
			t.Errorf("expected readable=true")
		}
		r.Stop()
		close(done)
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	go func() {
		_, _ = unix.Write(fds[1], []byte("x"))
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- r.Run() }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for dispatch")
	}
	if err := <-runDone; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
