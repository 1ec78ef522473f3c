package executor

import (
	"sync"
	"testing"
	"time"
)

// newTestExecutor builds a minimal Executor sufficient to drive Cell
// lifecycle tests without a live reactor: enough for spawnCell,
// Cell.run, and Cell.wake's enqueue path, without ever blocking in
// epoll.
func newTestExecutor(t *testing.T, queueCount int) *Executor {
	t.Helper()
	arena, err := NewArena(16)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	t.Cleanup(func() { _ = arena.Close() })

	exec := &Executor{
		state:       NewFastState(),
		arena:       arena,
		timer:       NewStagedTimer(time.Now()),
		queues:      make([]*ChunkedIngress, queueCount),
		queueMu:     make([]*sync.Mutex, queueCount),
		queueNames:  make([]string, queueCount),
		queueStats:  make([]*queueCounters, queueCount),
		drainBudget: 64,
	}
	for i := range exec.queues {
		exec.queues[i] = NewChunkedIngress()
		exec.queueMu[i] = &sync.Mutex{}
		exec.queueStats[i] = &queueCounters{}
	}
	return exec
}

func (exec *Executor) popAndRunOne(t *testing.T, queueIdx int) *Cell {
	t.Helper()
	cell, ok := exec.popQueue(queueIdx)
	if !ok {
		t.Fatalf("expected a scheduled cell on queue %d", queueIdx)
	}
	cell.run()
	return cell
}

func TestSpawn_ImmediateReadyFutureCompletesAndJoins(t *testing.T) {
	exec := newTestExecutor(t, 1)

	handle, err := Spawn[int](exec, 0, FutureFunc(func(cx *Context) (any, bool) {
		return 7, true
	}))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	exec.popAndRunOne(t, 0)

	value, pollErr, ready := handle.Poll(&Context{})
	if !ready {
		t.Fatal("expected the join to be ready after run()")
	}
	if pollErr != nil {
		t.Fatalf("unexpected error: %v", pollErr)
	}
	if value != 7 {
		t.Fatalf("expected value 7, got %v", value)
	}
}

func TestSpawn_PendingFutureIsReScheduledOnWake(t *testing.T) {
	exec := newTestExecutor(t, 1)

	ready := false
	handle, err := Spawn[string](exec, 0, FutureFunc(func(cx *Context) (any, bool) {
		if !ready {
			return nil, false
		}
		return "done", true
	}))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	cell := exec.popAndRunOne(t, 0)
	if exec.queues[0].Length() != 0 {
		t.Fatal("a pending future must not re-schedule itself")
	}

	ready = true
	cell.wake()
	if exec.queues[0].Length() != 1 {
		t.Fatal("wake() should re-enqueue the cell")
	}

	exec.popAndRunOne(t, 0)
	value, _, done := handle.Poll(&Context{})
	if !done || value != "done" {
		t.Fatalf("expected the task to complete with %q, got %v done=%v", "done", value, done)
	}
}

func TestJoinHandle_CancelStopsFutureFromRunningAgain(t *testing.T) {
	exec := newTestExecutor(t, 1)

	polls := 0
	handle, err := Spawn[int](exec, 0, FutureFunc(func(cx *Context) (any, bool) {
		polls++
		return nil, false
	}))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	cell := exec.popAndRunOne(t, 0)
	handle.Cancel()

	if cell.loadState()&stateClosed == 0 {
		t.Fatal("Cancel should set the CLOSED bit")
	}

	cell.wake()
	if exec.queues[0].Length() != 0 {
		t.Fatal("wake() on a closed cell must not reschedule it")
	}
}

func TestTaskPanic_SurfacesAsTaskPanicError(t *testing.T) {
	exec := newTestExecutor(t, 1)

	handle, err := Spawn[int](exec, 0, FutureFunc(func(cx *Context) (any, bool) {
		panic("boom")
	}))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	exec.popAndRunOne(t, 0)

	_, pollErr, done := handle.Poll(&Context{})
	if !done {
		t.Fatal("a panicking poll should still complete the join")
	}
	var panicErr *TaskPanicError
	if pollErr == nil {
		t.Fatal("expected a non-nil error")
	}
	var ok bool
	panicErr, ok = pollErr.(*TaskPanicError)
	if !ok {
		t.Fatalf("expected *TaskPanicError, got %T", pollErr)
	}
	if panicErr.Value != "boom" {
		t.Fatalf("expected recovered panic value %q, got %v", "boom", panicErr.Value)
	}
}

func TestSpawnDetached_DiscardsOutputAndFreesCell(t *testing.T) {
	exec := newTestExecutor(t, 1)

	if err := SpawnDetached(exec, 0, FutureFunc(func(cx *Context) (any, bool) {
		return 1, true
	})); err != nil {
		t.Fatalf("SpawnDetached: %v", err)
	}

	statsBefore := exec.arena.Stats()
	exec.popAndRunOne(t, 0)
	statsAfter := exec.arena.Stats()

	if statsAfter.Deallocs != statsBefore.Deallocs+1 {
		t.Fatalf("expected the detached cell's slot to be freed on completion, before=%+v after=%+v", statsBefore, statsAfter)
	}
}

func TestSpawnDetached_SuspendingFutureSurvivesUntilCompletion(t *testing.T) {
	exec := newTestExecutor(t, 1)

	ready := false
	if err := SpawnDetached(exec, 0, FutureFunc(func(cx *Context) (any, bool) {
		if !ready {
			return nil, false
		}
		return 1, true
	})); err != nil {
		t.Fatalf("SpawnDetached: %v", err)
	}

	statsBeforeFirstPoll := exec.arena.Stats()
	cell := exec.popAndRunOne(t, 0)
	statsAfterFirstPoll := exec.arena.Stats()
	if statsAfterFirstPoll.Deallocs != statsBeforeFirstPoll.Deallocs {
		t.Fatalf("a detached task that suspends on its first poll must not be freed yet, before=%+v after=%+v", statsBeforeFirstPoll, statsAfterFirstPoll)
	}
	if cell.loadState()&stateHandle == 0 {
		t.Fatal("a suspended detached cell must keep HANDLE set until it actually completes")
	}

	// Simulate the cell's parked Waker firing well after the first poll
	// returned, the way a timer or channel would.
	ready = true
	cell.wake()
	if exec.queues[0].Length() != 1 {
		t.Fatal("wake() should re-enqueue the suspended detached cell")
	}

	statsBeforeSecondPoll := exec.arena.Stats()
	exec.popAndRunOne(t, 0)
	statsAfterSecondPoll := exec.arena.Stats()
	if statsAfterSecondPoll.Deallocs != statsBeforeSecondPoll.Deallocs+1 {
		t.Fatalf("expected the detached cell to be freed exactly once on completion, before=%+v after=%+v", statsBeforeSecondPoll, statsAfterSecondPoll)
	}
}

func TestSpawn_InvalidQueueRejected(t *testing.T) {
	exec := newTestExecutor(t, 1)
	if _, err := Spawn[int](exec, 5, FutureFunc(func(cx *Context) (any, bool) { return nil, true })); err == nil {
		t.Fatal("expected an error for an out-of-range queue id")
	}
}

func TestSpawn_CapacityExceeded(t *testing.T) {
	exec := newTestExecutor(t, 1)
	exec.arena, _ = NewArena(1)

	if _, err := Spawn[int](exec, 0, FutureFunc(func(cx *Context) (any, bool) { return nil, true })); err != nil {
		t.Fatalf("first spawn should succeed: %v", err)
	}
	_, err := Spawn[int](exec, 0, FutureFunc(func(cx *Context) (any, bool) { return nil, true }))
	if err == nil {
		t.Fatal("expected CapacityExceededError once the arena is full")
	}
	if _, ok := err.(*CapacityExceededError); !ok {
		t.Fatalf("expected *CapacityExceededError, got %T", err)
	}
}
