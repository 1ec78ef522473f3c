package executor

import (
	"testing"
	"time"
)

func TestTimingWheel_Level0ExpiryOrder(t *testing.T) {
	base := time.Now()
	w := NewTimingWheel(base)

	var fired []uint64

	idA := w.Insert(base.Add(5*time.Millisecond), nil)
	idB := w.Insert(base.Add(10*time.Millisecond), nil)
	idC := w.Insert(base.Add(2*time.Millisecond), nil)

	w.Advance(base.Add(3 * time.Millisecond))
	for _, e := range w.DrainExpired() {
		fired = append(fired, e.id)
	}
	if len(fired) != 1 || fired[0] != idC {
		t.Fatalf("expected only idC to fire by t=3ms, got %v", fired)
	}

	w.Advance(base.Add(6 * time.Millisecond))
	fired = nil
	for _, e := range w.DrainExpired() {
		fired = append(fired, e.id)
	}
	if len(fired) != 1 || fired[0] != idA {
		t.Fatalf("expected idA to fire by t=6ms, got %v", fired)
	}

	w.Advance(base.Add(11 * time.Millisecond))
	fired = nil
	for _, e := range w.DrainExpired() {
		fired = append(fired, e.id)
	}
	if len(fired) != 1 || fired[0] != idB {
		t.Fatalf("expected idB to fire by t=11ms, got %v", fired)
	}
}

func TestTimingWheel_CancelRemovesBeforeExpiry(t *testing.T) {
	base := time.Now()
	w := NewTimingWheel(base)

	id := w.Insert(base.Add(5*time.Millisecond), nil)
	if !w.Cancel(id) {
		t.Fatal("Cancel of a live timer should succeed")
	}
	if w.Cancel(id) {
		t.Fatal("Cancel of an already-cancelled timer should fail")
	}

	w.Advance(base.Add(10 * time.Millisecond))
	if got := w.DrainExpired(); len(got) != 0 {
		t.Fatalf("cancelled timer should never fire, got %v", got)
	}
}

func TestTimingWheel_CascadeAcrossLevels(t *testing.T) {
	base := time.Now()
	w := NewTimingWheel(base)

	// 300ms crosses the level0 (256ms) boundary, landing in level1 until
	// cascaded down.
	id := w.Insert(base.Add(300*time.Millisecond), nil)

	w.Advance(base.Add(299 * time.Millisecond))
	if got := w.DrainExpired(); len(got) != 0 {
		t.Fatalf("timer at 300ms must not fire at 299ms, got %v", got)
	}

	w.Advance(base.Add(301 * time.Millisecond))
	fired := w.DrainExpired()
	if len(fired) != 1 || fired[0].id != id {
		t.Fatalf("expected the cascaded timer to fire by 301ms, got %v", fired)
	}
}

func TestTimingWheel_NextDeadlineTracksEarliest(t *testing.T) {
	base := time.Now()
	w := NewTimingWheel(base)

	if _, ok := w.NextDeadline(); ok {
		t.Fatal("empty wheel should report no next deadline")
	}

	w.Insert(base.Add(50*time.Millisecond), nil)
	idEarlier := w.Insert(base.Add(20*time.Millisecond), nil)

	next, ok := w.NextDeadline()
	if !ok {
		t.Fatal("expected a next deadline")
	}
	if !next.Equal(base.Add(20 * time.Millisecond)) {
		t.Fatalf("expected next deadline to be the earlier timer, got %v", next)
	}

	w.Cancel(idEarlier)
	next, ok = w.NextDeadline()
	if !ok || !next.Equal(base.Add(50*time.Millisecond)) {
		t.Fatalf("expected next deadline to become the remaining timer, got %v ok=%v", next, ok)
	}
}
