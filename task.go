package executor

import (
	"sync/atomic"
)

// QueueID identifies one of an executor's run-queues (GLOSSARY
// "Run-queue"; SUPPLEMENTED FEATURES "Run-queue handles").
type QueueID uint32

// Future is the suspended computation a Cell drives to completion. Poll
// returns (value, true) when ready, or (nil, false) when pending, in
// which case the future must arrange for cx.Waker (or a clone of it) to
// be woken once progress is possible (§4.2 "run").
type Future interface {
	Poll(cx *Context) (value any, ready bool)
}

// FutureFunc adapts a plain function to the Future interface, the way
// the teacher's Task.Runnable adapted a closure to the run-queue.
type FutureFunc func(cx *Context) (value any, ready bool)

// Poll implements Future.
func (f FutureFunc) Poll(cx *Context) (any, bool) { return f(cx) }

// Context is passed to Future.Poll, carrying the Waker a pending future
// must register with whatever it's waiting on (a timer, the reactor, or
// a shared channel).
type Context struct {
	Waker *Waker
}

// Waker lets any code that holds it schedule its associated Cell for
// another poll (§4.2 "wake / wake_by_ref"). A Waker is a weak reference:
// it does not by itself keep the Cell's slot from being reclaimed.
// Instead, the moment a wake actually schedules the cell, Cell.wake
// takes the run-queue's own reference (§4.2 refcounting rule), which is
// what keeps the cell alive until that run-queue entry is drained. A
// Waker produced on executor E may be invoked from any goroutine: wake()
// updates the Cell's atomic state bits and pushes it onto E's
// mutex-guarded run-queue directly, from whichever goroutine calls it,
// and interrupts E's reactor if E is parked.
type Waker struct {
	cell *Cell
}

// newWaker wraps cell in a Waker. Futures may retain the returned
// pointer (or copies of it) across suspensions; a Waker has no
// finalizer-like cost when simply dropped, since it carries no
// reference of its own.
func newWaker(cell *Cell) *Waker {
	return &Waker{cell: cell}
}

// Wake schedules the task. Equivalent to WakeByRef; kept as a distinct
// method to mirror the by-value/by-reference wake pair callers expect
// from §4.2, even though this implementation has only one reference
// mode to release.
func (w *Waker) Wake() {
	w.WakeByRef()
}

// WakeByRef schedules the task, if it isn't already scheduled or
// closed.
func (w *Waker) WakeByRef() {
	if w == nil || w.cell == nil {
		return
	}
	w.cell.wake()
}

// Cell is the task header + future slot + output slot described in §3.
// It is allocated from, and freed back to, an Arena slot (C1); its
// vtable is simply the stored Future interface value plus the methods
// below, rather than a hand-rolled dispatch table.
//
// Thread Safety: the state bits and refcount are atomic so a Waker
// invoked from any goroutine can mutate them without a lock; a wake
// from another goroutine touches only those fields and the run-queue
// push (see Waker). The future, output and other fields are touched
// only from the owning executor's goroutine.
type Cell struct {
	slot     uint32
	freeNext uint32 // arena free-list link; valid only while unallocated

	state    atomic.Uint64
	refcount atomic.Int32

	queueID QueueID
	exec    *Executor

	future Future
	output any

	// panicVal holds the recovered panic value when the future's poll
	// unwound (§7 TaskPanic). Mutually exclusive with a non-nil output.
	panicVal any

	awaiterWaker *Waker

	// detached marks a cell spawned via SpawnDetached: set once, before
	// the cell is ever enqueued (spawnCell), so it's immutable for the
	// cell's whole life and safe to read from run() without a lock.
	// HANDLE is held for a detached cell exactly like a joined one
	// (keeping it alive across suspensions, since a Waker is a weak
	// reference - see Waker's doc comment); run() drops HANDLE itself
	// the moment the future actually completes or panics, instead of
	// the caller dropping it up front.
	detached bool
}

func (c *Cell) loadState() cellState { return cellState(c.state.Load()) }

func (c *Cell) setBits(bits cellState) {
	for {
		old := c.state.Load()
		if c.state.CompareAndSwap(old, old|uint64(bits)) {
			return
		}
	}
}

func (c *Cell) clearBits(bits cellState) {
	for {
		old := c.state.Load()
		if c.state.CompareAndSwap(old, old&^uint64(bits)) {
			return
		}
	}
}

func (c *Cell) incRef() { c.refcount.Add(1) }

// decRef drops one reference, destroying the cell if this was the last
// one and every other gate (HANDLE, SCHEDULED, RUNNING) is also clear
// (§4.2 refcounting rule).
func (c *Cell) decRef() {
	if c.refcount.Add(-1) == 0 {
		c.maybeDestroy()
	}
}

func (c *Cell) maybeDestroy() {
	if c.refcount.Load() != 0 {
		return
	}
	st := c.loadState()
	if st&(stateHandle|stateScheduled|stateRunning) != 0 {
		return
	}
	c.destroy()
}

// destroy routes deallocation back to the owning arena, if the cell is
// arena-allocated and the arena is still alive; a bulk arena teardown
// may already have reclaimed the slot, in which case this is a no-op
// (§4.2 "Destruction routes to the arena ... otherwise it is a no-op").
func (c *Cell) destroy() {
	c.future = nil
	c.output = nil
	c.panicVal = nil
	c.awaiterWaker = nil
	if c.loadState()&stateArenaAllocated != 0 && c.exec != nil && c.exec.arena != nil && !c.exec.arena.closed {
		c.exec.arena.Deallocate(c)
	}
}

// wake is the shared implementation behind Waker.Wake/WakeByRef (§4.2
// "schedule"): unless CLOSED is set, if SCHEDULED is clear, set it, take the run-queue's
// reference, and push the cell onto its owning run-queue; otherwise
// no-op (§4.2 "schedule").
func (c *Cell) wake() {
	for {
		old := cellState(c.state.Load())
		if old&stateClosed != 0 {
			return
		}
		if old&stateScheduled != 0 {
			return
		}
		if c.state.CompareAndSwap(uint64(old), uint64(old|stateScheduled)) {
			c.incRef()
			c.exec.enqueue(c)
			return
		}
	}
}

// run drives one poll of the cell's future (§4.2 "run"). It is called
// exclusively from the owning executor's goroutine while draining a
// run-queue.
func (c *Cell) run() {
	for {
		old := c.state.Load()
		next := (old &^ uint64(stateScheduled)) | uint64(stateRunning)
		if c.state.CompareAndSwap(old, next) {
			break
		}
	}

	value, ready, panicVal := c.pollRecover()

	if panicVal != nil {
		c.panicVal = panicVal
		c.future = nil
		c.finishRun(stateClosed | stateCompleted)
		c.wakeAwaiter()
		if c.detached {
			c.dropHandle()
		}
		c.decRef()
		return
	}

	if ready {
		c.output = value
		c.future = nil
		c.finishRun(stateCompleted)
		c.wakeAwaiter()
		if c.detached {
			c.dropHandle()
		}
		c.decRef()
		return
	}

	// Pending: clear RUNNING. If a wake landed during the poll,
	// stateScheduled is already set (the nested wake() call already
	// re-enqueued), satisfying "if SCHEDULED was re-set during the
	// poll ... re-enqueue" without extra work here.
	c.finishRun(0)
	if c.loadState()&stateClosed != 0 {
		// cancel() observed mid-poll: drop the future now that run has
		// returned control, per §4.2 "cancel".
		c.future = nil
	}
	c.decRef()
}

// finishRun clears RUNNING and ORs in extra, atomically.
func (c *Cell) finishRun(extra cellState) {
	for {
		old := c.state.Load()
		next := (old &^ uint64(stateRunning)) | uint64(extra)
		if c.state.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *Cell) pollRecover() (value any, ready bool, panicVal any) {
	defer func() {
		if r := recover(); r != nil {
			panicVal = r
		}
	}()
	cx := &Context{Waker: newWaker(c)}
	value, ready = c.future.Poll(cx)
	return
}

func (c *Cell) wakeAwaiter() {
	if c.awaiterWaker != nil {
		w := c.awaiterWaker
		c.awaiterWaker = nil
		w.Wake()
	}
}

// cancel sets CLOSED (§4.2 "cancel"). If the cell isn't RUNNING, the
// future is dropped in place immediately; if it is RUNNING, Cell.run
// observes CLOSED after the poll returns and drops it then.
func (c *Cell) cancel() {
	for {
		old := cellState(c.state.Load())
		next := old | stateClosed
		if c.state.CompareAndSwap(uint64(old), uint64(next)) {
			if old&stateRunning == 0 {
				c.future = nil
			}
			return
		}
	}
}

// joinPoll implements §4.2 "join_poll": if COMPLETED, atomically clears
// it and returns the output (or the recovered panic); otherwise stashes
// cx.Waker as the awaiter and reports Pending.
func (c *Cell) joinPoll(cx *Context) (value any, panicVal any, ready bool) {
	for {
		old := cellState(c.state.Load())
		if old&stateCompleted == 0 {
			break
		}
		next := old &^ stateCompleted
		if c.state.CompareAndSwap(uint64(old), uint64(next)) {
			return c.output, c.panicVal, true
		}
	}
	c.awaiterWaker = cx.Waker
	return nil, nil, false
}

// dropHandle clears HANDLE (§4.2 "drop_handle"). If the cell already
// completed, the (unread) output is discarded.
func (c *Cell) dropHandle() {
	c.clearBits(stateHandle)
	if c.loadState()&stateCompleted != 0 {
		c.output = nil
	}
	c.maybeDestroy()
}

// JoinHandle is the caller-facing handle returned by Spawn, letting the
// spawner await the task's output, cancel it, or detach from it
// (§4.2's HANDLE bit; SUPPLEMENTED FEATURES "scoped/detached spawn").
// A JoinHandle is single-owner: it must not be copied after first use,
// since Detach/Cancel/Poll each consume or observe the underlying Cell
// reference exactly once.
type JoinHandle[T any] struct {
	cell *Cell
}

// Poll implements the join half of §4.2 "join_poll", type-asserting the
// stored output to T. A panic recovered from the task surfaces as a
// TaskPanicError.
func (h JoinHandle[T]) Poll(cx *Context) (value T, err error, ready bool) {
	out, panicVal, ready := h.cell.joinPoll(cx)
	if !ready {
		return value, nil, false
	}
	if panicVal != nil {
		return value, &TaskPanicError{Value: panicVal}, true
	}
	if out != nil {
		value, _ = out.(T)
	}
	return value, nil, true
}

// Cancel requests cooperative cancellation of the task (§4.2 "cancel").
// It does not wait for the task to actually stop; a pending poll may
// still run to its next suspension point before observing CLOSED.
func (h JoinHandle[T]) Cancel() {
	h.cell.cancel()
}

// Detach releases this handle's HANDLE reference without canceling the
// task, letting it run to completion with its output discarded
// (§4.2 "drop_handle"; SUPPLEMENTED FEATURES "detached spawn").
func (h JoinHandle[T]) Detach() {
	h.cell.dropHandle()
}
