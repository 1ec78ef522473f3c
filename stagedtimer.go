package executor

import "time"

// inlineTimerThreshold is T from §4.6: the staged timer promotes from
// its linear inline buffer to a TimingWheel once more than this many
// timers are live at once.
const inlineTimerThreshold = 256

// inlineTimerEntry is one timer held in the Inline storage mode.
type inlineTimerEntry struct {
	id       uint64
	deadline time.Time
	waker    *Waker
}

// StagedTimer is the C4 component: a small-N linear buffer that
// promotes, once it would exceed inlineTimerThreshold live timers, to a
// TimingWheel (§4.6). The id sequence is shared across both modes so
// ids remain stable across promotion.
//
// Thread Safety: NOT thread-safe; owned by one executor's reactor.
type StagedTimer struct {
	base   time.Time
	nextID uint64

	// inline holds entries while in Inline mode; nil once promoted.
	inline []inlineTimerEntry
	// inlineExpired accumulates entries Advance moved out of inline,
	// mirroring TimingWheel's expired buffer so both modes present the
	// same DrainExpired contract.
	inlineExpired []inlineTimerEntry

	wheel *TimingWheel // non-nil once promoted
}

// NewStagedTimer creates a staged timer in Inline mode, with base as
// the time origin a subsequent promotion's wheel will use.
func NewStagedTimer(base time.Time) *StagedTimer {
	return &StagedTimer{base: base}
}

// Promoted reports whether this staged timer has promoted to a wheel.
func (s *StagedTimer) Promoted() bool {
	return s.wheel != nil
}

// Insert arms a timer for deadline and returns a stable id (§4.6).
// Inserting past the threshold promotes to a wheel first.
func (s *StagedTimer) Insert(deadline time.Time, waker *Waker) uint64 {
	if s.wheel != nil {
		return s.wheel.Insert(deadline, waker)
	}

	if len(s.inline) >= inlineTimerThreshold {
		s.promote()
		return s.wheel.Insert(deadline, waker)
	}

	id := s.nextID
	s.nextID++
	s.inline = append(s.inline, inlineTimerEntry{id: id, deadline: deadline, waker: waker})
	return id
}

// promote constructs a wheel, replays every live inline entry with its
// original id, and swaps storage (§4.6 "Promotion").
func (s *StagedTimer) promote() {
	w := NewTimingWheel(s.base)
	w.nextID = s.nextID
	for _, e := range s.inline {
		w.insertWithID(e.id, w.msSince(e.deadline), e.waker)
	}
	s.inline = nil
	s.wheel = w
}

// Cancel removes a timer by id; O(n) swap-remove in Inline mode, O(1)
// in Wheel mode (§4.6).
func (s *StagedTimer) Cancel(id uint64) bool {
	if s.wheel != nil {
		return s.wheel.Cancel(id)
	}
	for i, e := range s.inline {
		if e.id != id {
			continue
		}
		last := len(s.inline) - 1
		s.inline[i] = s.inline[last]
		s.inline = s.inline[:last]
		return true
	}
	return false
}

// Advance moves every timer whose deadline has passed into the expired
// buffer (§4.6 "advance moves entries whose deadline ≤ now").
func (s *StagedTimer) Advance(now time.Time) {
	if s.wheel != nil {
		s.wheel.Advance(now)
		return
	}

	kept := s.inline[:0]
	for _, e := range s.inline {
		if !e.deadline.After(now) {
			s.inlineExpired = append(s.inlineExpired, e)
		} else {
			kept = append(kept, e)
		}
	}
	s.inline = kept
}

// DrainExpired removes and returns every timer Advance moved into the
// expired buffer, as (id, waker) pairs.
func (s *StagedTimer) DrainExpired() []timerEntry {
	if s.wheel != nil {
		return s.wheel.DrainExpired()
	}
	if len(s.inlineExpired) == 0 {
		return nil
	}
	out := make([]timerEntry, len(s.inlineExpired))
	for i, e := range s.inlineExpired {
		out[i] = timerEntry{id: e.id, waker: e.waker}
	}
	s.inlineExpired = nil
	return out
}

// Len reports the number of live timers across either storage mode.
func (s *StagedTimer) Len() int {
	if s.wheel != nil {
		return s.wheel.Len()
	}
	return len(s.inline)
}

// NextDeadline returns the earliest deadline among live timers and
// true, or the zero time and false if none are armed. No minimum is
// cached: Inline mode finds it by linear scan over its (already bounded
// to T) entries, and Wheel mode delegates to TimingWheel.NextDeadline,
// which scans the wheel's levels and overflow map.
func (s *StagedTimer) NextDeadline() (time.Time, bool) {
	if s.wheel != nil {
		return s.wheel.NextDeadline()
	}
	if len(s.inline) == 0 {
		return time.Time{}, false
	}
	min := s.inline[0].deadline
	for _, e := range s.inline[1:] {
		if e.deadline.Before(min) {
			min = e.deadline
		}
	}
	return min, true
}
