package executor

import (
	"golang.org/x/sys/unix"
)

// DefaultArenaCapacity is the default number of task-cell slots an Arena
// reserves (§4.1's "SLOT_COUNT" sized down from ~100K for a worked
// example; override via WithArenaCapacity).
const DefaultArenaCapacity = 1 << 16

// arenaNone marks the end of the free list ("slot[last] := END").
const arenaNone = ^uint32(0)

// ArenaStats is a point-in-time snapshot of an Arena's allocation
// counters (§6 "observability: ... arena utilization").
type ArenaStats struct {
	Allocs        uint64
	Deallocs      uint64
	Active        uint32
	Peak          uint32
	FallbackAllocs uint64
}

// Arena is a fixed-size slot pool with an intrusive free list (§4.1, C1).
//
// Slot storage itself (cells []Cell) is ordinary Go-heap memory: a Cell's
// future_or_output slot holds a Future interface value, which may carry
// GC-managed pointers, so it cannot safely live inside memory the Go
// runtime doesn't scan. The page-protected teardown this component is
// specified to provide (§4.1 "Teardown", Design Notes
// "Arena-back teardown via page protection") is instead applied to a
// parallel one-byte-per-slot canary region, mmap'd separately: every
// Allocate/Deallocate touches its slot's canary byte first, so a stray
// access after Close faults with SIGSEGV exactly as the specified
// teardown requires, without placing live Go pointers in unprotected
// memory. See DESIGN.md for the full rationale.
//
// Thread Safety: NOT thread-safe. An Arena is exclusively owned by one
// Executor and touched only from that executor's goroutine (§5).
type Arena struct {
	cells   []Cell
	canary  []byte // mmap'd, one byte per slot
	head    uint32
	stats   ArenaStats
	closed  bool
	noGrow  bool // always true: this implementation never grows (Non-goal)
}

// NewArena reserves an arena of the given slot capacity. capacity must be
// > 0.
func NewArena(capacity int) (*Arena, error) {
	if capacity <= 0 {
		return nil, &InvalidArgumentError{Message: "executor: arena capacity must be positive"}
	}

	canary, err := unix.Mmap(-1, 0, capacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, &IoFailureError{Op: "mmap(arena canary)", Cause: err}
	}

	a := &Arena{
		cells:  make([]Cell, capacity),
		canary: canary,
		noGrow: true,
	}
	a.reset()
	return a, nil
}

// reset threads every slot into the free list: slot[i] := i+1, slot[last] := END.
func (a *Arena) reset() {
	n := uint32(len(a.cells))
	for i := uint32(0); i < n; i++ {
		if i+1 < n {
			a.cells[i].freeNext = i + 1
		} else {
			a.cells[i].freeNext = arenaNone
		}
		a.canary[i] = 1
	}
	a.head = 0
	if n == 0 {
		a.head = arenaNone
	}
}

// Capacity returns the number of slots this arena was built with.
func (a *Arena) Capacity() int {
	return len(a.cells)
}

// Allocate pops the free-list head and returns a pointer to the zeroed
// Cell slot, or (nil, false) if the arena is at capacity (§4.1's NONE).
// A full arena is a capacity signal, not an arena error: callers
// surface it to their own caller as CapacityExceededError.
func (a *Arena) Allocate() (*Cell, bool) {
	_ = a.canary[0] // touch region; faults if Close()'d and capacity > 0 (see NewArena)

	if a.head == arenaNone {
		return nil, false
	}

	idx := a.head
	_ = a.canary[idx]
	cell := &a.cells[idx]
	a.head = cell.freeNext

	*cell = Cell{slot: idx}
	cell.state.Store(uint64(stateArenaAllocated))

	a.stats.Allocs++
	a.stats.Active++
	if a.stats.Active > a.stats.Peak {
		a.stats.Peak = a.stats.Active
	}

	return cell, true
}

// Deallocate pushes a slot back onto the free list (LIFO), if and only
// if the cell belongs to this arena. Returns false for a foreign or
// out-of-range cell (§4.1's bounds check on deallocation).
func (a *Arena) Deallocate(cell *Cell) bool {
	idx := cell.slot
	if int(idx) >= len(a.cells) || &a.cells[idx] != cell {
		return false
	}

	_ = a.canary[idx]

	cell.freeNext = a.head
	a.head = idx

	a.stats.Deallocs++
	if a.stats.Active > 0 {
		a.stats.Active--
	}

	return true
}

// Stats returns a snapshot of the arena's allocation counters.
func (a *Arena) Stats() ArenaStats {
	return a.stats
}

// Close tears the arena down: the canary region is mprotect'd to
// PROT_NONE rather than unmapped outright, so any stray access by a task
// that outlived its executor faults deterministically (§4.1 "Teardown",
// §5 "on executor drop, the arena's memory is marked inaccessible").
func (a *Arena) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if len(a.canary) == 0 {
		return nil
	}
	if err := unix.Mprotect(a.canary, unix.PROT_NONE); err != nil {
		return &IoFailureError{Op: "mprotect(arena canary)", Cause: err}
	}
	return nil
}
