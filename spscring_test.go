package executor

import "testing"

func TestSPSCRing_CapacityRoundsUpToPowerOfTwo(t *testing.T) {
	p, c := NewSPSCRing(10)
	if got := len(p.core.slots); got != 16 {
		t.Fatalf("expected capacity 10 to round up to 16 slots, got %d", got)
	}
	_ = c
}

func TestSPSCRing_FillDrainRefill(t *testing.T) {
	p, c := NewSPSCRing(10) // rounds up to 16

	for i := 0; i < 16; i++ {
		if _, ok := p.TryPush(i); !ok {
			t.Fatalf("push #%d into a fresh 16-slot ring should succeed", i)
		}
	}

	v, ok := p.TryPush(99)
	if ok {
		t.Fatal("push into a full ring should fail")
	}
	if v != 99 {
		t.Fatalf("a failed push must return the caller's value, got %v", v)
	}

	got, ok := c.TryPop()
	if !ok || got != 0 {
		t.Fatalf("expected to pop the first pushed value 0, got %v ok=%v", got, ok)
	}

	if _, ok := p.TryPush(99); !ok {
		t.Fatal("push should succeed once a slot has been freed")
	}

	for i := 1; i < 16; i++ {
		got, ok := c.TryPop()
		if !ok || got != i {
			t.Fatalf("expected to pop %d in order, got %v ok=%v", i, got, ok)
		}
	}
	got, ok = c.TryPop()
	if !ok || got != 99 {
		t.Fatalf("expected to pop the refilled 99 last, got %v ok=%v", got, ok)
	}
	if _, ok := c.TryPop(); ok {
		t.Fatal("ring should be empty now")
	}
}

func TestSPSCRing_CapacityOneBoundary(t *testing.T) {
	p, c := NewSPSCRing(1)

	if _, ok := p.TryPush("a"); !ok {
		t.Fatal("first push into a capacity-1 ring should succeed")
	}
	if _, ok := p.TryPush("b"); ok {
		t.Fatal("second push into a full capacity-1 ring should fail")
	}

	v, ok := c.TryPop()
	if !ok || v != "a" {
		t.Fatalf("expected to pop %q, got %v ok=%v", "a", v, ok)
	}

	if _, ok := p.TryPush("b"); !ok {
		t.Fatal("push after drain should succeed")
	}
}

func TestSPSCRing_DisconnectObservedByPeer(t *testing.T) {
	p, c := NewSPSCRing(4)
	p.connect(1)
	c.connect(2)

	if p.ConsumerDisconnected() {
		t.Fatal("fresh ring should not report the consumer disconnected")
	}

	c.Disconnect()
	if !p.ConsumerDisconnected() {
		t.Fatal("producer should observe the consumer's disconnect")
	}

	if _, ok := p.TryPush("x"); ok {
		t.Fatal("push to a disconnected consumer should fail")
	}

	p2, c2 := NewSPSCRing(4)
	p2.Disconnect()
	if !c2.ProducerDisconnected() {
		t.Fatal("consumer should observe the producer's disconnect")
	}
}
