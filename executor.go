// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package executor

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	catrate "github.com/joeycumines/go-catrate"
)

// executorIDCounter assigns each Executor a small, process-unique id,
// used to address it as a shared-channel endpoint's peer (§4.4
// "connect").
var executorIDCounter atomic.Uint64

// Executor is the thread-per-core runtime core (§8, C8): an arena of
// task cells, one or more run-queues, a staged timer, and a reactor,
// all touched exclusively from the single goroutine that calls Run
// (§5).
type Executor struct { // betteralign:ignore
	id uint64

	state   *FastState
	arena   *Arena
	timer   *StagedTimer
	reactor *reactor

	logger     *Logger
	logLimiter *catrate.Limiter
	metrics    *Metrics
	tps        *TPSCounter

	drainBudget int

	// queuesMu guards the slice headers of queues/queueMu/queueNames/
	// queueStats, so NewQueue can grow them after the executor has
	// started (glommio's TaskQueueHandle allows registering new task
	// queues at any time). Per-queue contention still goes through that
	// queue's own *sync.Mutex, not this one.
	queuesMu   sync.RWMutex
	queues     []*ChunkedIngress
	queueMu    []*sync.Mutex
	queueNames []string
	queueStats []*queueCounters

	preemptVersion atomic.Uint64

	loopGoroutineID atomic.Uint64

	stopOnce sync.Once
	loopDone chan struct{}
}

// queueCounters tracks a single run-queue's lifetime admission/
// completion counts (SUPPLEMENTED FEATURES "Run-queue handles"),
// mirroring glommio's per-TaskQueue IoStats bookkeeping.
type queueCounters struct {
	queued   atomic.Uint64
	executed atomic.Uint64
}

// QueueStats is a point-in-time snapshot of one run-queue's identity
// and lifetime counters.
type QueueStats struct {
	ID       QueueID
	Name     string
	Queued   uint64
	Executed uint64
}

// New builds an Executor from the given options, allocating its arena
// and reactor up front so Spawn can be called before Run (§8 "an
// executor accepts spawns before it starts running").
func New(opts ...ExecutorOption) (*Executor, error) {
	cfg, err := resolveExecutorOptions(opts)
	if err != nil {
		return nil, err
	}

	arena, err := NewArena(cfg.arenaCapacity)
	if err != nil {
		return nil, err
	}

	r, err := newReactor()
	if err != nil {
		_ = arena.Close()
		return nil, err
	}

	logger := cfg.logger
	if logger == nil {
		logger = discardLogger()
	}

	limiter := newLogLimiter()
	if cfg.logRatesSet {
		limiter = catrate.NewLimiter(cfg.logRates)
	}

	queues := make([]*ChunkedIngress, cfg.queueCount)
	queueMu := make([]*sync.Mutex, cfg.queueCount)
	queueNames := make([]string, cfg.queueCount)
	queueStats := make([]*queueCounters, cfg.queueCount)
	for i := range queues {
		queues[i] = NewChunkedIngress()
		queueMu[i] = &sync.Mutex{}
		queueStats[i] = &queueCounters{}
	}

	exec := &Executor{
		id:          executorIDCounter.Add(1),
		state:       NewFastState(),
		arena:       arena,
		timer:       NewStagedTimer(time.Now()),
		reactor:     r,
		logger:      logger,
		logLimiter:  limiter,
		drainBudget: cfg.drainBudget,
		queues:      queues,
		queueMu:     queueMu,
		queueNames:  queueNames,
		queueStats:  queueStats,
		loopDone:    make(chan struct{}),
	}
	if cfg.metricsEnabled {
		exec.metrics = &Metrics{}
		exec.tps = NewTPSCounter(10*time.Second, time.Second)
	}

	return exec, nil
}

// Metrics returns the executor's metrics snapshot, or nil if
// WithMetrics(true) was never passed to New.
func (exec *Executor) Metrics() *Metrics {
	return exec.metrics
}

// NewQueue registers an additional named run-queue and returns its
// QueueID (SUPPLEMENTED FEATURES "Run-queue handles", grounded in
// glommio's TaskQueueHandle: spawning targets a named queue, not just
// a bare integer, and each queue keeps its own lifetime counters).
// Safe to call at any time, including while Run is draining the
// existing queues.
func (exec *Executor) NewQueue(name string) QueueID {
	exec.queuesMu.Lock()
	defer exec.queuesMu.Unlock()

	id := QueueID(len(exec.queues))
	exec.queues = append(exec.queues, NewChunkedIngress())
	exec.queueMu = append(exec.queueMu, &sync.Mutex{})
	exec.queueNames = append(exec.queueNames, name)
	exec.queueStats = append(exec.queueStats, &queueCounters{})
	return id
}

// QueueStats returns a lifetime snapshot of every run-queue registered
// with this executor, in QueueID order.
func (exec *Executor) QueueStats() []QueueStats {
	exec.queuesMu.RLock()
	defer exec.queuesMu.RUnlock()

	out := make([]QueueStats, len(exec.queues))
	for i, counters := range exec.queueStats {
		out[i] = QueueStats{
			ID:       QueueID(i),
			Name:     exec.queueNames[i],
			Queued:   counters.queued.Load(),
			Executed: counters.executed.Load(),
		}
	}
	return out
}

// NeedPreempt cheaply reports whether the reactor's registration set
// has changed since the last call (SUPPLEMENTED FEATURES "need_preempt
// cheap check"), letting a long-running task decide to yield without
// a syscall on every poll.
func (exec *Executor) NeedPreempt() bool {
	last := exec.preemptVersion.Load()
	v, changed := exec.reactor.needPreempt(last)
	if changed {
		exec.preemptVersion.Store(v)
	}
	return changed
}

// spawnCell allocates a cell from the arena, wires it to this executor
// and the given run-queue, and enters it at the initial state required
// by §4.2's spawn description: SCHEDULED (the run-queue's reference,
// mirroring what Cell.wake would do) and HANDLE (a destruction gate
// tracked by bit, not by refcount — see Cell.maybeDestroy). refcount
// starts at 1, representing the SCHEDULED run-queue entry created
// below. detached is recorded on the cell itself, before it is ever
// enqueued, so a future that suspends (parking a Waker in a timer or
// channel) keeps its HANDLE gate until run() observes actual
// completion, rather than losing it the instant SpawnDetached returns.
func spawnCell(exec *Executor, queueID QueueID, future Future, detached bool) (*Cell, error) {
	if exec.state.Load() == StateTerminated || exec.state.Load() == StateTerminating {
		return nil, ErrExecutorShutdown
	}
	exec.queuesMu.RLock()
	validQueue := int(queueID) >= 0 && int(queueID) < len(exec.queues)
	exec.queuesMu.RUnlock()
	if !validQueue {
		return nil, ErrInvalidQueue
	}

	cell, ok := exec.arena.Allocate()
	if !ok {
		return nil, &CapacityExceededError{Resource: "arena", Capacity: exec.arena.Capacity()}
	}

	cell.exec = exec
	cell.queueID = queueID
	cell.future = future
	cell.detached = detached
	cell.refcount.Store(1)
	cell.setBits(stateScheduled | stateHandle)

	exec.enqueueQueue(queueID, cell)

	return cell, nil
}

// Spawn admits future onto queueID, returning a JoinHandle for its
// eventual output (§4.2 "spawn"). Go has no generic methods, so Spawn
// is a free function parameterized on the expected output type.
func Spawn[T any](exec *Executor, queueID QueueID, future Future) (JoinHandle[T], error) {
	cell, err := spawnCell(exec, queueID, future, false)
	if err != nil {
		return JoinHandle[T]{}, err
	}
	return JoinHandle[T]{cell: cell}, nil
}

// SpawnDetached admits future onto queueID without returning a handle:
// the task runs to completion (or cancellation via its own logic) with
// its output silently discarded (SUPPLEMENTED FEATURES "detached
// spawn"). Unlike Spawn, no JoinHandle ever observes HANDLE, so the
// cell keeps that gate set for itself until Cell.run sees the future
// actually finish, only then dropping HANDLE on the detached task's
// behalf. Dropping it up front, before the first poll, would
// let a suspending future's parked Waker (e.g. Sleep, or a channel
// park) outlive the cell: once the run-queue's own reference was
// released, the cell would be freed back to the arena while a timer or
// peer channel still held a pointer to it.
func SpawnDetached(exec *Executor, queueID QueueID, future Future) error {
	_, err := spawnCell(exec, queueID, future, true)
	return err
}

// SpawnScoped admits future onto queueID and cancels it automatically
// when ctx is done (SUPPLEMENTED FEATURES "scoped spawn"), returning a
// JoinHandle as Spawn does. The watcher goroutine it starts exits only
// when ctx is done; callers should use a scope-lifetime context (the
// usual case for this feature) rather than context.Background.
func SpawnScoped[T any](ctx context.Context, exec *Executor, queueID QueueID, future Future) (JoinHandle[T], error) {
	handle, err := Spawn[T](exec, queueID, future)
	if err != nil {
		return handle, err
	}
	cell := handle.cell
	go func() {
		<-ctx.Done()
		cell.cancel()
		cell.wake()
	}()
	return handle, nil
}

// enqueue implements the scheduler interface task.go's Cell.wake()
// depends on: push cell onto its own queue and, if this executor is
// parked, interrupt it (see reactor.go's doc comment on why this is
// safe to call from any goroutine in this Go-native adaptation).
func (exec *Executor) enqueue(cell *Cell) {
	exec.enqueueQueue(cell.queueID, cell)
}

func (exec *Executor) enqueueQueue(queueID QueueID, cell *Cell) {
	exec.queuesMu.RLock()
	idx := int(queueID)
	if idx < 0 || idx >= len(exec.queues) {
		idx = 0
	}
	queue := exec.queues[idx]
	mu := exec.queueMu[idx]
	counters := exec.queueStats[idx]
	exec.queuesMu.RUnlock()

	mu.Lock()
	queue.Push(cell)
	depth := queue.Length()
	mu.Unlock()
	counters.queued.Add(1)

	if exec.metrics != nil {
		exec.metrics.Queue.UpdateRunQueue(depth)
	}
	if exec.state.Load() == StateSleeping {
		exec.reactor.notify()
	}
}

// Run drains this executor's run-queues and reactor until ctx is
// cancelled or Shutdown is called, blocking the calling goroutine for
// as long as it runs (§8 "run loop"; mirrors the teacher's Loop.Run).
func (exec *Executor) Run(ctx context.Context) error {
	if exec.isOwnGoroutine() {
		return &InvalidArgumentError{Message: "executor: Run called reentrantly from its own goroutine"}
	}
	if !exec.state.TryTransition(StateAwake, StateRunning) {
		switch exec.state.Load() {
		case StateTerminated, StateTerminating:
			return ErrExecutorShutdown
		default:
			return ErrExecutorAlreadyRunning
		}
	}

	defer close(exec.loopDone)

	exec.loopGoroutineID.Store(getGoroutineID())
	defer exec.loopGoroutineID.Store(0)

	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			exec.reactor.notify()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	for {
		select {
		case <-ctx.Done():
			exec.beginShutdown()
		default:
		}

		state := exec.state.Load()
		if state == StateTerminating {
			exec.drainAll()
			exec.state.Store(StateTerminated)
			_ = exec.reactor.close()
			_ = exec.arena.Close()
			return nil
		}

		exec.tick()

		exec.state.TryTransition(StateRunning, StateSleeping)
		if err := exec.react(50 * time.Millisecond); err != nil {
			exec.logPollError(err)
		}
		exec.state.TryTransition(StateSleeping, StateRunning)
	}
}

// tick drains up to drainBudget cells per queue, polling each one
// (§8's "drain budget" bound on worst-case reactor latency).
func (exec *Executor) tick() {
	for idx := 0; idx < exec.queueCount(); idx++ {
		budget := exec.drainBudget
		for budget > 0 {
			cell, ok := exec.popQueue(idx)
			if !ok {
				break
			}
			exec.pollCell(cell)
			budget--
		}
	}
}

// queueCount reads the current number of registered run-queues,
// consistent with a concurrent NewQueue call (SUPPLEMENTED FEATURES
// "Run-queue handles").
func (exec *Executor) queueCount() int {
	exec.queuesMu.RLock()
	defer exec.queuesMu.RUnlock()
	return len(exec.queues)
}

func (exec *Executor) popQueue(idx int) (*Cell, bool) {
	exec.queuesMu.RLock()
	queue := exec.queues[idx]
	mu := exec.queueMu[idx]
	counters := exec.queueStats[idx]
	exec.queuesMu.RUnlock()

	mu.Lock()
	cell, ok := queue.Pop()
	depth := queue.Length()
	mu.Unlock()
	if ok {
		counters.executed.Add(1)
	}
	if exec.metrics != nil {
		exec.metrics.Queue.UpdateRunQueue(depth)
	}
	return cell, ok
}

func (exec *Executor) pollCell(cell *Cell) {
	var start time.Time
	if exec.metrics != nil {
		start = time.Now()
	}

	cell.run()

	if exec.metrics != nil {
		exec.metrics.PollLatency.Record(time.Since(start))
		exec.tps.Increment()
		exec.metrics.mu.Lock()
		exec.metrics.TasksPerSecond = exec.tps.TPS()
		exec.metrics.mu.Unlock()
	}
}

// drainAll runs every remaining scheduled cell to completion or
// suspension one last time during shutdown, instead of abandoning
// queued cells mid-flight. It does not cancel them: beginShutdown only
// changes the executor state, and no cell's CLOSED bit is set here.
func (exec *Executor) drainAll() {
	for idx := 0; idx < exec.queueCount(); idx++ {
		for {
			cell, ok := exec.popQueue(idx)
			if !ok {
				break
			}
			exec.pollCell(cell)
		}
	}
}

func (exec *Executor) beginShutdown() {
	for {
		current := exec.state.Load()
		if current == StateTerminating || current == StateTerminated {
			return
		}
		if exec.state.TryTransition(current, StateTerminating) {
			return
		}
	}
}

// Shutdown requests a graceful stop and waits for Run to return, or
// for ctx to expire first.
func (exec *Executor) Shutdown(ctx context.Context) error {
	var result error
	exec.stopOnce.Do(func() {
		exec.beginShutdown()
		exec.reactor.notify()
		select {
		case <-exec.loopDone:
		case <-ctx.Done():
			result = ctx.Err()
		}
	})
	if result != nil {
		return result
	}
	if exec.state.Load() != StateTerminated {
		return ErrExecutorShutdown
	}
	return nil
}

func (exec *Executor) logPollError(err error) {
	if !allowLog(exec.logLimiter, pollErrorLogCategory) {
		return
	}
	exec.logger.Err().Err(err).Log("reactor poll failed")
}

func (exec *Executor) isOwnGoroutine() bool {
	id := exec.loopGoroutineID.Load()
	if id == 0 {
		return false
	}
	return getGoroutineID() == id
}

// getGoroutineID parses the current goroutine's id out of a runtime
// stack trace header, the same trick the teacher's loop used to detect
// reentrant calls without a per-call context parameter.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
