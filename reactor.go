package executor

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// reactor owns this executor's completion ring, its foreign-wake
// eventfd, and the bookkeeping needed to answer "is there pending work"
// without a syscall (§4.7 C7).
//
// Design note: the source this is modeled on routes every cross-thread
// wake through the foreign-wake fd because its task memory cannot
// safely be touched from a foreign thread without it. Go's atomics and
// mutexes make direct cross-thread mutation of a Cell's state bits and
// run-queue safe, so this reactor collapses "foreign-wake notification"
// into the same run-queue enqueue path used for local wakes; the
// foreign-wake fd's sole remaining job is interrupting a blocked
// PollIO when the target executor is parked (§4.7 step 2, §5).
type reactor struct { // betteralign:ignore
	ring ring

	wakeFd      int
	wakeWriteFd int
	wakeBuf     [8]byte
	wakePending atomic.Bool
}

func newReactor() (*reactor, error) {
	wakeFd, wakeWriteFd, err := createWakeFd(0, EFD_CLOEXEC|EFD_NONBLOCK)
	if err != nil {
		return nil, &IoFailureError{Op: "eventfd", Cause: err}
	}

	r := &reactor{wakeFd: wakeFd, wakeWriteFd: wakeWriteFd}

	if err := r.ring.Init(); err != nil {
		_ = closeWakeFd(wakeFd, wakeWriteFd)
		return nil, &IoFailureError{Op: "epoll_create1", Cause: err}
	}

	if err := r.ring.RegisterFD(wakeFd, EventRead, func(IOEvents) {
		r.drainWakeFd()
	}); err != nil {
		_ = r.ring.Close()
		_ = closeWakeFd(wakeFd, wakeWriteFd)
		return nil, &IoFailureError{Op: "register wake fd", Cause: err}
	}

	return r, nil
}

func (r *reactor) drainWakeFd() {
	for {
		_, err := unix.Read(r.wakeFd, r.wakeBuf[:])
		if err != nil {
			break
		}
	}
	r.wakePending.Store(false)
}

// notify interrupts a blocked PollIO, deduplicating concurrent callers
// so a storm of wakes costs at most one eventfd write between reactor
// iterations.
func (r *reactor) notify() {
	if r.wakePending.CompareAndSwap(false, true) {
		var one uint64 = 1
		buf := (*[8]byte)(unsafe.Pointer(&one))[:]
		_, _ = unix.Write(r.wakeWriteFd, buf)
	}
}

func (r *reactor) close() error {
	err := r.ring.Close()
	_ = closeWakeFd(r.wakeFd, r.wakeWriteFd)
	return err
}

// needPreempt cheaply answers "might the completion ring have work
// waiting" without a syscall (§4.7 "Pre-emption signaling"). FastPoller
// is an epoll adapter with no exposed kernel ring head/tail pointers to
// cache, so this is modeled on its own version counter instead: any
// registration/modification bumps it, and dispatchEvents runs inline
// during PollIO, so the cheap acquire-ordered signal available here is
// "did the poller's registration set change," which is the analogous
// quantity for this adapter.
func (r *reactor) needPreempt(lastVersion uint64) (uint64, bool) {
	v := r.ring.version.Load()
	return v, v != lastVersion
}

// react runs one iteration of the 6-step algorithm from §4.7. timeout
// is the caller-supplied bound (Run passes a fixed 50ms); react
// never blocks past min(timeout, the staged timer's next deadline).
func (exec *Executor) react(timeout time.Duration) error {
	now := time.Now()
	exec.timer.Advance(now)

	// Step 1: drain expired timers, collect their wakers, then fire
	// them only after the timer's own bookkeeping is no longer being
	// mutated, so a woken task can safely insert or cancel a new timer
	// from within its own poll (§4.7 "Re-entrancy discipline").
	expired := exec.timer.DrainExpired()
	producedWork := len(expired) > 0
	for _, e := range expired {
		if e.waker != nil {
			e.waker.WakeByRef()
		}
	}

	// Step 2: already-delivered foreign wakes are just Cell state
	// mutations plus a run-queue push (see reactor's doc comment); by
	// the time react() observes them they have already taken effect,
	// so this step reduces to noticing whether the wake eventfd fired.
	if exec.reactor.wakePending.Load() {
		producedWork = true
	}
	exec.reactor.drainWakeFd()

	// Step 3: compute the sleep deadline.
	sleepFor := timeout
	if next, ok := exec.timer.NextDeadline(); ok {
		untilTimer := next.Sub(now)
		if untilTimer < 0 {
			untilTimer = 0
		}
		if sleepFor < 0 || untilTimer < sleepFor {
			sleepFor = untilTimer
		}
	}

	// Step 4: non-blocking poll if steps 1-2 produced work; otherwise
	// block up to the computed deadline.
	timeoutMs := 0
	if !producedWork {
		timeoutMs = durationToPollMs(sleepFor)
	}

	if _, err := exec.reactor.ring.PollIO(timeoutMs); err != nil {
		return &IoFailureError{Op: "poll completion ring", Cause: err}
	}
	// Step 5 (resolve completions, wake attached tasks) happens inline:
	// FastPoller.PollIO dispatches each ready fd's registered callback
	// during the call above, and those callbacks are themselves Waker
	// invocations.

	// Step 6: timers or channel wakers may have fired while blocked.
	exec.timer.Advance(time.Now())
	for _, e := range exec.timer.DrainExpired() {
		if e.waker != nil {
			e.waker.WakeByRef()
		}
	}
	exec.reactor.drainWakeFd()

	return nil
}

// durationToPollMs converts a deadline duration to the millisecond
// timeout PollIO expects, with -1 meaning "block indefinitely" (no
// caller timeout and no pending timer).
func durationToPollMs(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	if ms > int64(^uint32(0)>>1) {
		return int(^uint32(0) >> 1)
	}
	return int(ms)
}
