package executor

import "strings"

// cellState is the bit-flag state machine carried by every Cell (§3
// "Invariants on state", §4.2). Unlike ExecutorState, these bits are
// independent, not mutually exclusive positions in a lattice: several
// may be set at once (e.g. CLOSED|COMPLETED after a panic).
type cellState uint64

const (
	// stateScheduled means the cell holds a live run-queue entry.
	stateScheduled cellState = 1 << iota
	// stateRunning means the cell is currently inside Cell.run.
	stateRunning
	// stateCompleted means the future has produced an output (or the
	// task panicked/was canceled without one).
	stateCompleted
	// stateClosed is terminal with respect to stateScheduled: a closed
	// cell is never re-scheduled.
	stateClosed
	// stateHandle means a live JoinHandle still references this cell.
	stateHandle
	// stateArenaAllocated is set at birth and never cleared; it routes
	// destruction back to the owning Arena.
	stateArenaAllocated
)

func (s cellState) String() string {
	if s == 0 {
		return "none"
	}
	var b strings.Builder
	add := func(bit cellState, name string) {
		if s&bit == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString(name)
	}
	add(stateScheduled, "SCHEDULED")
	add(stateRunning, "RUNNING")
	add(stateCompleted, "COMPLETED")
	add(stateClosed, "CLOSED")
	add(stateHandle, "HANDLE")
	add(stateArenaAllocated, "ARENA_ALLOCATED")
	return b.String()
}
