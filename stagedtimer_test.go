package executor

import (
	"testing"
	"time"
)

func TestStagedTimer_StaysInlineBelowThreshold(t *testing.T) {
	base := time.Now()
	s := NewStagedTimer(base)

	for i := 0; i < inlineTimerThreshold; i++ {
		s.Insert(base.Add(time.Duration(i+1)*time.Millisecond), nil)
	}

	if s.Promoted() {
		t.Fatal("should not promote to a wheel at exactly the threshold")
	}
	if s.Len() != inlineTimerThreshold {
		t.Fatalf("expected %d timers, got %d", inlineTimerThreshold, s.Len())
	}
}

func TestStagedTimer_PromotesAndPreservesIDs(t *testing.T) {
	base := time.Now()
	s := NewStagedTimer(base)

	var ids []uint64
	for i := 0; i < inlineTimerThreshold; i++ {
		ids = append(ids, s.Insert(base.Add(time.Duration(i+1)*time.Millisecond), nil))
	}

	// One more insert should trigger promotion.
	lastID := s.Insert(base.Add(500*time.Millisecond), nil)
	if !s.Promoted() {
		t.Fatal("expected promotion to a wheel after exceeding the inline threshold")
	}

	// Every id issued before promotion must still be cancellable.
	for _, id := range ids {
		if !s.Cancel(id) {
			t.Fatalf("expected pre-promotion id %d to still be cancellable", id)
		}
	}
	if !s.Cancel(lastID) {
		t.Fatalf("expected post-promotion id %d to be cancellable", lastID)
	}
}

func TestStagedTimer_AdvanceAndDrainBeforeAndAfterPromotion(t *testing.T) {
	base := time.Now()
	s := NewStagedTimer(base)

	idEarly := s.Insert(base.Add(5*time.Millisecond), nil)
	s.Advance(base.Add(10 * time.Millisecond))
	expired := s.DrainExpired()
	if len(expired) != 1 || expired[0].id != idEarly {
		t.Fatalf("expected idEarly to expire inline, got %v", expired)
	}

	for i := 0; i < inlineTimerThreshold+1; i++ {
		s.Insert(base.Add(time.Duration(1000+i)*time.Millisecond), nil)
	}
	if !s.Promoted() {
		t.Fatal("expected promotion")
	}

	next, ok := s.NextDeadline()
	if !ok {
		t.Fatal("expected a next deadline after promotion")
	}
	if !next.Equal(base.Add(1000 * time.Millisecond)) {
		t.Fatalf("expected the earliest post-promotion deadline, got %v", next)
	}
}
