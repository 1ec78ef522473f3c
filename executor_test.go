package executor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutor_NewQueueRegistersNamedQueueWithStats(t *testing.T) {
	exec := newTestExecutor(t, 1)

	qid := exec.NewQueue("low-latency")
	if qid != 1 {
		t.Fatalf("expected the second queue to get id 1, got %d", qid)
	}

	handle, err := Spawn[int](exec, qid, FutureFunc(func(cx *Context) (any, bool) {
		return 5, true
	}))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	exec.popAndRunOne(t, int(qid))
	if _, _, ready := handle.Poll(&Context{}); !ready {
		t.Fatal("expected the task on the new named queue to run")
	}

	stats := exec.QueueStats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 queues, got %d", len(stats))
	}
	if stats[1].Name != "low-latency" || stats[1].Queued != 1 || stats[1].Executed != 1 {
		t.Fatalf("unexpected stats for the named queue: %+v", stats[1])
	}
}

func TestExecutor_NeedPreemptTracksReactorRegistrationChanges(t *testing.T) {
	exec, err := New(WithArenaCapacity(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The reactor registers its own wake fd during newReactor, so the
	// very first read observes that registration as a change.
	if !exec.NeedPreempt() {
		t.Fatal("expected the first read to observe the reactor's own wake-fd registration")
	}
	if exec.NeedPreempt() {
		t.Fatal("a second consecutive read with no registration changes should report false")
	}
}

func TestExecutor_RunCompletesSpawnedTaskThenShutdown(t *testing.T) {
	exec, err := New(WithArenaCapacity(16))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	handle, err := Spawn[int](exec, 0, FutureFunc(func(cx *Context) (any, bool) {
		return 99, true
	}))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- exec.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	var value int
	for {
		v, pollErr, ready := handle.Poll(&Context{})
		if ready {
			if pollErr != nil {
				t.Fatalf("unexpected task error: %v", pollErr)
			}
			value = v
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the spawned task to complete")
		case <-time.After(time.Millisecond):
		}
	}
	if value != 99 {
		t.Fatalf("expected 99, got %d", value)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := exec.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-runErrCh; err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}
}

func TestExecutor_SpawnRejectedAfterShutdown(t *testing.T) {
	exec, err := New(WithArenaCapacity(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- exec.Run(ctx) }()

	cancel()
	select {
	case runErr := <-runErrCh:
		if runErr != nil {
			t.Fatalf("Run returned an error: %v", runErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run to return after cancellation")
	}

	_, err = Spawn[int](exec, 0, FutureFunc(func(cx *Context) (any, bool) { return nil, true }))
	if err != ErrExecutorShutdown {
		t.Fatalf("expected ErrExecutorShutdown, got %v", err)
	}
}

func TestExecutor_ReentrantRunRejected(t *testing.T) {
	exec, err := New(WithArenaCapacity(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reentrantErrCh := make(chan error, 1)
	if _, spawnErr := Spawn[int](exec, 0, FutureFunc(func(cx *Context) (any, bool) {
		reentrantErrCh <- exec.Run(context.Background())
		return nil, true
	})); spawnErr != nil {
		t.Fatalf("Spawn: %v", spawnErr)
	}

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- exec.Run(ctx) }()

	select {
	case reentrantErr := <-reentrantErrCh:
		var invalidArg *InvalidArgumentError
		if !errors.As(reentrantErr, &invalidArg) {
			t.Fatalf("expected *InvalidArgumentError for a reentrant Run, got %v (%T)", reentrantErr, reentrantErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the reentrant Run call to return")
	}

	cancel()
	<-runErrCh
}
