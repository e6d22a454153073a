// Package reactor implements a single-threaded, cooperative event loop:
// a monotonic timer wheel combined with epoll-based file descriptor
// readiness dispatch. It is the foundation the broker client and GATT
// service run their callbacks on; nothing in this package may block.
package reactor

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Interest describes the readiness a watch cares about.
type Interest uint8

const (
	// Readable watches for incoming data.
	Readable Interest = 1 << iota
	// Writable watches for buffer space becoming available.
	Writable
)

func (i Interest) epollEvents() uint32 {
	var ev uint32
	if i&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if i&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Callback is invoked when a watched fd becomes ready. readable/writable
// report which of the requested interests fired.
type Callback func(fd int, readable, writable bool)

// TimerCallback is invoked when a scheduled timer fires.
type TimerCallback func()

// Exhausted is returned by Watch when the platform refuses to register
// another fd (epoll_ctl ENOSPC/ENOMEM). It is fatal only for the watch
// that triggered it.
var Exhausted = errors.New("reactor: exhausted")

type watch struct {
	fd       int
	interest Interest
	cb       Callback
}

// watchKey identifies a watch registration. Per spec, at most one active
// registration exists per (fd, callback identity, arg) tuple; since Go
// callbacks carry their own captured state, identity is approximated by
// fd plus a caller-supplied token distinguishing multiple watchers on the
// same fd (rare in practice — almost always one watcher per fd).
type watchKey struct {
	fd    int
	token uintptr
}

// Timer is a schedulable, cancelable unit of deferred work. Callers embed
// or hold a *Timer and pass it to TimerSet/TimerCancel; a Timer tracks
// its own heap index and scheduled state, replacing the C source's
// CONTAINER_OF-from-timer-field idiom with a typed, self-contained value.
type Timer struct {
	deadline  time.Time
	cb        TimerCallback
	scheduled bool
	index     int // heap index, maintained by container/heap
}

// NewTimer creates an idle, unscheduled timer invoking cb when fired.
func NewTimer(cb TimerCallback) *Timer {
	return &Timer{cb: cb, index: -1}
}

type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
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
	t.index = -1
	*h = old[:n-1]
	return t
}

// Reactor owns the file watch table, the timer heap and the epoll fd.
// It owns no application state; it only dispatches.
type Reactor struct {
	epfd    int
	watches map[watchKey]*watch
	byFd    map[int][]watchKey // fds with >1 watcher, for interest merging
	timers  timerHeap
	running bool
	now     func() time.Time

	wakeR, wakeW int

	qmu     sync.Mutex
	invokeQ []func()
}

// New creates a Reactor backed by a fresh epoll instance.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	r := &Reactor{
		epfd:    epfd,
		watches: make(map[watchKey]*watch),
		byFd:    make(map[int][]watchKey),
		now:     time.Now,
	}

	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK); err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("reactor: wake pipe: %w", err)
	}
	r.wakeR, r.wakeW = fds[0], fds[1]
	if err := r.Watch(r.wakeR, 0, Readable, r.onWake); err != nil {
		_ = unix.Close(r.wakeR)
		_ = unix.Close(r.wakeW)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("reactor: watch wake pipe: %w", err)
	}
	return r, nil
}

// Invoke queues fn to run on the Reactor goroutine and wakes the loop
// so it runs promptly. Safe to call from any goroutine, including ones
// the Reactor itself knows nothing about — this is the mechanism
// collaborator callbacks and other foreign-goroutine call sites must
// use to touch Reactor-confined state instead of calling TimerSet
// directly, which is not goroutine-safe.
func (r *Reactor) Invoke(fn func()) {
	r.qmu.Lock()
	r.invokeQ = append(r.invokeQ, fn)
	r.qmu.Unlock()
	var b [1]byte
	_, _ = unix.Write(r.wakeW, b[:])
}

func (r *Reactor) onWake(fd int, readable, writable bool) {
	var buf [64]byte
	for {
		n, err := unix.Read(r.wakeR, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	r.drainInvoke()
}

// drainInvoke runs on the Reactor goroutine. It loops until the queue is
// empty rather than assuming one pass suffices, since a drained callback
// may itself call Invoke.
func (r *Reactor) drainInvoke() {
	for {
		r.qmu.Lock()
		fns := r.invokeQ
		r.invokeQ = nil
		r.qmu.Unlock()
		if len(fns) == 0 {
			return
		}
		for _, fn := range fns {
			fn()
		}
	}
}

// Close releases the epoll fd. It does not close watched fds.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}

// Watch registers interest in fd, keyed by (fd, token). A second Watch
// call with the same key replaces the interest mask and callback
// in place (idempotent re-registration); a different mask updates the
// underlying epoll registration rather than adding a duplicate one.
func (r *Reactor) Watch(fd int, token uintptr, interest Interest, cb Callback) error {
	key := watchKey{fd: fd, token: token}
	_, existed := r.watches[key]
	r.watches[key] = &watch{fd: fd, interest: interest, cb: cb}
	if !existed {
		r.byFd[fd] = append(r.byFd[fd], key)
	}
	return r.syncEpoll(fd)
}

// Unwatch removes a registration. Unwatching a non-existent key is a no-op.
func (r *Reactor) Unwatch(fd int, token uintptr) error {
	key := watchKey{fd: fd, token: token}
	if _, ok := r.watches[key]; !ok {
		return nil
	}
	delete(r.watches, key)
	keys := r.byFd[fd]
	for i, k := range keys {
		if k == key {
			r.byFd[fd] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(r.byFd[fd]) == 0 {
		delete(r.byFd, fd)
		_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		return nil
	}
	return r.syncEpoll(fd)
}

// syncEpoll recomputes the merged interest mask for fd and installs it,
// adding the epoll registration on first watcher and modifying it on
// subsequent interest changes.
func (r *Reactor) syncEpoll(fd int) error {
	keys := r.byFd[fd]
	var merged Interest
	for _, k := range keys {
		merged |= r.watches[k].interest
	}
	ev := &unix.EpollEvent{Events: merged.epollEvents() | unix.EPOLLERR | unix.EPOLLHUP, Fd: int32(fd)}

	op := unix.EPOLL_CTL_MOD
	if len(keys) == 1 {
		op = unix.EPOLL_CTL_ADD
	}
	if err := unix.EpollCtl(r.epfd, op, fd, ev); err != nil {
		if op == unix.EPOLL_CTL_ADD && errors.Is(err, unix.ENOSPC) {
			return Exhausted
		}
		// fd may already be registered (e.g. re-Watch after interest change
		// raced an ADD); fall back to MOD.
		if op == unix.EPOLL_CTL_ADD {
			if modErr := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev); modErr == nil {
				return nil
			}
		}
		return fmt.Errorf("reactor: epoll_ctl: %w", err)
	}
	return nil
}

// TimerSet schedules t to fire after delayMs milliseconds, replacing any
// existing deadline. delayMs == 0 fires on the next iteration.
func (r *Reactor) TimerSet(t *Timer, delayMs int64) {
	if t.scheduled {
		r.timerCancelLocked(t)
	}
	t.deadline = r.now().Add(time.Duration(delayMs) * time.Millisecond)
	t.scheduled = true
	heap.Push(&r.timers, t)
}

// TimerCancel removes t from the schedule. Idempotent.
func (r *Reactor) TimerCancel(t *Timer) {
	if !t.scheduled {
		return
	}
	r.timerCancelLocked(t)
}

func (r *Reactor) timerCancelLocked(t *Timer) {
	if t.index >= 0 && t.index < len(r.timers) && r.timers[t.index] == t {
		heap.Remove(&r.timers, t.index)
	}
	t.scheduled = false
}

// nextTimeout computes the epoll_wait timeout in milliseconds: the
// earliest pending deadline minus now, clamped to >= 0, or -1 (block
// indefinitely) if no timers are pending.
func (r *Reactor) nextTimeout() int {
	if len(r.timers) == 0 {
		return -1
	}
	d := time.Until(r.timers[0].deadline)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > int(^uint32(0)>>1) {
		ms = int64(^uint32(0) >> 1)
	}
	return int(ms)
}

// drainExpiredTimers fires every timer whose deadline has passed, in
// deadline order. Firing order, not insertion order, matters here: a
// timer rescheduled by its own callback goes back in at its new
// deadline and may or may not fire again in the same drain pass.
func (r *Reactor) drainExpiredTimers() {
	now := r.now()
	for len(r.timers) > 0 && !r.timers[0].deadline.After(now) {
		t := heap.Pop(&r.timers).(*Timer)
		t.scheduled = false
		t.cb()
	}
}

const maxEpollEvents = 64

// Run enters the loop and blocks until Stop is called from within a
// callback. Ready fds are dispatched before expired timers within each
// iteration; fd readiness is re-evaluated every iteration since it may
// change between callbacks.
func (r *Reactor) Run() error {
	r.running = true
	events := make([]unix.EpollEvent, maxEpollEvents)
	for r.running {
		timeout := r.nextTimeout()
		n, err := unix.EpollWait(r.epfd, events, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			readable := events[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0
			writable := events[i].Events&unix.EPOLLOUT != 0
			for _, key := range append([]watchKey(nil), r.byFd[fd]...) {
				w, ok := r.watches[key]
				if !ok {
					continue // unwatched by an earlier callback this iteration
				}
				w.cb(fd, readable, writable)
			}
		}
		r.drainExpiredTimers()
	}
	return nil
}

// Stop ends the loop after the current iteration finishes.
func (r *Reactor) Stop() {
	r.running = false
}

// Teardown cancels every scheduled timer and removes every file watch,
// then closes the epoll fd. Called once during agent shutdown.
func (r *Reactor) Teardown() error {
	for len(r.timers) > 0 {
		heap.Pop(&r.timers)
	}
	for fd := range r.byFd {
		_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	r.watches = make(map[watchKey]*watch)
	r.byFd = make(map[int][]watchKey)
	_ = unix.Close(r.wakeR)
	_ = unix.Close(r.wakeW)
	return r.Close()
}
