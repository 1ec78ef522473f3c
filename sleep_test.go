package executor

import (
	"testing"
	"time"
)

func TestSleep_PendingUntilDeadlineThenReady(t *testing.T) {
	exec := newTestExecutor(t, 1)

	handle, err := Spawn[any](exec, 0, Sleep(exec, 5*time.Millisecond))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	exec.popAndRunOne(t, 0)
	if _, _, ready := handle.Poll(&Context{}); ready {
		t.Fatal("Sleep should not be ready on the first poll")
	}

	// Sleep re-checks the real clock when polled again, so let its 5ms
	// deadline actually pass before firing the timer.
	time.Sleep(10 * time.Millisecond)
	exec.timer.Advance(time.Now().Add(10 * time.Millisecond))
	expired := exec.timer.DrainExpired()
	if len(expired) != 1 {
		t.Fatalf("expected the sleep timer to expire, got %v", expired)
	}
	for _, e := range expired {
		if e.waker != nil {
			e.waker.WakeByRef()
		}
	}

	if exec.queues[0].Length() != 1 {
		t.Fatal("the expired timer's waker should re-schedule the sleeping task")
	}
	exec.popAndRunOne(t, 0)
	if _, _, ready := handle.Poll(&Context{}); !ready {
		t.Fatal("Sleep should be ready once its deadline has passed")
	}
}
