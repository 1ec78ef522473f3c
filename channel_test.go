package executor

import "testing"

func TestChannel_TrySendTryRecvRoundTrip(t *testing.T) {
	exec := newTestExecutor(t, 1)
	sender, receiver := NewChannel(4, exec, exec)

	if err := sender.TrySend(1); err != nil {
		t.Fatalf("TrySend: %v", err)
	}
	if err := sender.TrySend(2); err != nil {
		t.Fatalf("TrySend: %v", err)
	}

	v, ok, err := receiver.TryRecv()
	if !ok || err != nil || v != 1 {
		t.Fatalf("expected (1, true, nil), got (%v, %v, %v)", v, ok, err)
	}
	v, ok, err = receiver.TryRecv()
	if !ok || err != nil || v != 2 {
		t.Fatalf("expected (2, true, nil), got (%v, %v, %v)", v, ok, err)
	}
}

func TestChannel_TrySendCapacityExceeded(t *testing.T) {
	exec := newTestExecutor(t, 1)
	sender, _ := NewChannel(1, exec, exec)

	if err := sender.TrySend("a"); err != nil {
		t.Fatalf("first TrySend should succeed: %v", err)
	}
	err := sender.TrySend("b")
	if err == nil {
		t.Fatal("expected CapacityExceededError on a full ring")
	}
	if _, ok := err.(*CapacityExceededError); !ok {
		t.Fatalf("expected *CapacityExceededError, got %T", err)
	}
}

func TestChannel_SenderSeesReceiverDisconnect(t *testing.T) {
	exec := newTestExecutor(t, 1)
	sender, receiver := NewChannel(2, exec, exec)

	receiver.Disconnect()

	err := sender.TrySend(1)
	if err == nil {
		t.Fatal("expected an error once the receiver has disconnected")
	}
	if _, ok := err.(*PeerDisconnectedError); !ok {
		t.Fatalf("expected *PeerDisconnectedError, got %T", err)
	}
}

func TestChannel_ReceiverSeesProducerDisconnectAfterDrain(t *testing.T) {
	exec := newTestExecutor(t, 1)
	sender, receiver := NewChannel(2, exec, exec)

	if err := sender.TrySend("last"); err != nil {
		t.Fatalf("TrySend: %v", err)
	}
	sender.Disconnect()

	// The buffered value must still be observable before end-of-stream.
	v, ok, err := receiver.TryRecv()
	if !ok || err != nil || v != "last" {
		t.Fatalf("expected to drain the buffered value first, got (%v, %v, %v)", v, ok, err)
	}

	_, ok, err = receiver.TryRecv()
	if ok {
		t.Fatal("expected no value once drained and disconnected")
	}
	if _, isDisconnect := err.(*PeerDisconnectedError); !isDisconnect {
		t.Fatalf("expected *PeerDisconnectedError, got %v (%T)", err, err)
	}
}

func TestChannel_SendFutureParksThenWakesOnSpaceFreed(t *testing.T) {
	exec := newTestExecutor(t, 1)
	sender, receiver := NewChannel(1, exec, exec)

	if err := sender.TrySend("a"); err != nil {
		t.Fatalf("TrySend: %v", err)
	}

	handle, err := Spawn[any](exec, 0, sender.Send("b"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	exec.popAndRunOne(t, 0)
	if _, _, ready := handle.Poll(&Context{}); ready {
		t.Fatal("Send future should still be pending while the ring is full")
	}
	if sender.state.sendWaiter == nil {
		t.Fatal("a pending Send should register its waker as the send waiter")
	}

	// Draining the buffered value frees a slot and should wake the
	// parked send future.
	if _, ok, _ := receiver.TryRecv(); !ok {
		t.Fatal("expected to drain the buffered value")
	}
	if exec.queues[0].Length() != 1 {
		t.Fatal("freeing a slot should re-schedule the parked send future")
	}

	exec.popAndRunOne(t, 0)
	if _, _, ready := handle.Poll(&Context{}); !ready {
		t.Fatal("Send future should complete once it can push")
	}

	v, ok, _ := receiver.TryRecv()
	if !ok || v != "b" {
		t.Fatalf("expected to receive the previously-blocked value %q, got %v ok=%v", "b", v, ok)
	}
}

func TestChannel_RecvFutureParksThenWakesOnSend(t *testing.T) {
	exec := newTestExecutor(t, 1)
	sender, receiver := NewChannel(4, exec, exec)

	handle, err := Spawn[any](exec, 0, receiver.Recv())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	exec.popAndRunOne(t, 0)
	if _, _, ready := handle.Poll(&Context{}); ready {
		t.Fatal("Recv future should be pending against an empty ring")
	}
	if sender.state.recvWaiter == nil {
		t.Fatal("a pending Recv should register its waker as the recv waiter")
	}

	if err := sender.TrySend("hello"); err != nil {
		t.Fatalf("TrySend: %v", err)
	}
	if exec.queues[0].Length() != 1 {
		t.Fatal("sending into an empty ring should re-schedule the parked recv future")
	}

	exec.popAndRunOne(t, 0)
	value, _, ready := handle.Poll(&Context{})
	if !ready {
		t.Fatal("Recv future should complete once a value has arrived")
	}
	if value != "hello" {
		t.Fatalf("expected %q, got %v", "hello", value)
	}
}
