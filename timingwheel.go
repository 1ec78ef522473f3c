package executor

import (
	"sort"
	"time"
)

// Wheel level geometry (§3 "Timing Wheel", §4.5).
const (
	level0Slots = 256
	level1Slots = 64
	level2Slots = 64
	level3Slots = 64

	level1ResolutionMs = 256
	level2ResolutionMs = 16384
	level3ResolutionMs = 1048576

	// overflowThresholdMs is the point (≈18h) beyond which a deadline
	// can't be addressed by level 3 and lands in the overflow map.
	overflowThresholdMs = 67108864

	// overflowHorizonMs bounds how far ahead of "now" the overflow map
	// is swept back into the wheel on each Advance (§4.5 step 4).
	overflowHorizonMs = overflowThresholdMs
)

// timerLocation names where a live timer entry sits, for O(1) removal
// (§3 "Timer Location"). levelOverflow marks an entry parked in the
// overflow map instead of a wheel slot.
type timerLocation struct {
	level       uint8
	slot        int
	indexInSlot int
}

const levelOverflow uint8 = 255

// timerEntry is one armed timer (§3 "Timer Entry").
type timerEntry struct {
	id       uint64
	deadline int64 // milliseconds since the wheel's base time
	waker    *Waker
}

// TimingWheel is the 4-level hierarchical timer structure described in
// §4.5: O(1) insert and cancel for anything within ~18 hours, an
// overflow map keyed by deadline beyond that, and tick-driven cascading
// between levels.
//
// Thread Safety: NOT thread-safe; owned exclusively by one Executor's
// reactor and touched only from that executor's goroutine.
type TimingWheel struct {
	base        time.Time
	currentTick int64
	nextID      uint64

	index map[uint64]timerLocation
	expired []timerEntry

	level0 [level0Slots][]timerEntry
	level1 [level1Slots][]timerEntry
	level2 [level2Slots][]timerEntry
	level3 [level3Slots][]timerEntry

	// overflow holds entries beyond level 3's ~18h horizon, keyed by
	// deadline so the sweep in Advance can scan in order.
	overflow map[int64][]timerEntry
}

// NewTimingWheel creates a wheel whose tick 0 corresponds to base.
func NewTimingWheel(base time.Time) *TimingWheel {
	return &TimingWheel{
		base:     base,
		index:    make(map[uint64]timerLocation),
		overflow: make(map[int64][]timerEntry),
	}
}

func (w *TimingWheel) msSince(t time.Time) int64 {
	return t.Sub(w.base).Milliseconds()
}

// Insert arms a timer for deadline, returning a stable id usable with
// Cancel (§4.5 "Insert").
func (w *TimingWheel) Insert(deadline time.Time, waker *Waker) uint64 {
	id := w.nextID
	w.nextID++
	w.insertWithID(id, w.msSince(deadline), waker)
	return id
}

// insertWithID places an entry carrying a caller-chosen id, used by the
// staged timer to preserve ids across promotion (§4.6).
func (w *TimingWheel) insertWithID(id uint64, deadlineMs int64, waker *Waker) {
	if id >= w.nextID {
		w.nextID = id + 1
	}
	w.insertEntry(timerEntry{id: id, deadline: deadlineMs, waker: waker})
}

func (w *TimingWheel) insertEntry(e timerEntry) {
	ticksUntil := e.deadline - w.currentTick
	if ticksUntil < 0 {
		ticksUntil = 0
	}

	var level uint8
	var slot int
	switch {
	case ticksUntil < level0Slots:
		level, slot = 0, int(e.deadline%level0Slots)
	case ticksUntil < int64(level1Slots)*level1ResolutionMs:
		level, slot = 1, int((e.deadline/level1ResolutionMs)%level1Slots)
	case ticksUntil < int64(level2Slots)*level2ResolutionMs:
		level, slot = 2, int((e.deadline/level2ResolutionMs)%level2Slots)
	case ticksUntil < overflowThresholdMs:
		level, slot = 3, int((e.deadline/level3ResolutionMs)%level3Slots)
	default:
		w.overflow[e.deadline] = append(w.overflow[e.deadline], e)
		w.index[e.id] = timerLocation{level: levelOverflow, slot: 0, indexInSlot: len(w.overflow[e.deadline]) - 1}
		return
	}

	bucket := w.bucket(level, slot)
	*bucket = append(*bucket, e)
	w.index[e.id] = timerLocation{level: level, slot: slot, indexInSlot: len(*bucket) - 1}
}

func (w *TimingWheel) bucket(level uint8, slot int) *[]timerEntry {
	switch level {
	case 0:
		return &w.level0[slot]
	case 1:
		return &w.level1[slot]
	case 2:
		return &w.level2[slot]
	default:
		return &w.level3[slot]
	}
}

// Cancel removes a timer by id in O(1) for in-wheel entries (§4.5
// "Cancel"). Returns false if the id is unknown (already fired or
// already canceled).
func (w *TimingWheel) Cancel(id uint64) bool {
	loc, ok := w.index[id]
	if !ok {
		return false
	}
	delete(w.index, id)

	if loc.level == levelOverflow {
		return w.cancelOverflow(id)
	}

	bucket := w.bucket(loc.level, loc.slot)
	w.swapRemove(bucket, loc.indexInSlot)
	return true
}

// swapRemove drops index i from bucket by moving the last element into
// its place, then fixing up that element's index entry (§4.5 "Cancel").
func (w *TimingWheel) swapRemove(bucket *[]timerEntry, i int) {
	b := *bucket
	last := len(b) - 1
	if i != last {
		b[i] = b[last]
		moved := b[i]
		if loc, ok := w.index[moved.id]; ok {
			loc.indexInSlot = i
			w.index[moved.id] = loc
		}
	}
	*bucket = b[:last]
}

// cancelOverflow scans every (rare, cold) overflow bucket for the
// matching id; the index does not record an overflow entry's deadline.
func (w *TimingWheel) cancelOverflow(id uint64) bool {
	for deadline, bucket := range w.overflow {
		for i, e := range bucket {
			if e.id != id {
				continue
			}
			last := len(bucket) - 1
			bucket[i] = bucket[last]
			bucket = bucket[:last]
			if len(bucket) == 0 {
				delete(w.overflow, deadline)
				return true
			}
			w.overflow[deadline] = bucket
			if i < len(bucket) {
				if loc, ok := w.index[bucket[i].id]; ok {
					loc.indexInSlot = i
					w.index[bucket[i].id] = loc
				}
			}
			return true
		}
	}
	return false
}

// Advance ticks the wheel forward to now, cascading levels and moving
// due entries into the expired buffer (§4.5 "Advance").
func (w *TimingWheel) Advance(now time.Time) {
	target := w.msSince(now)
	for w.currentTick < target {
		w.currentTick++
		w.expireLevel0()

		if w.currentTick%level0Slots == 0 {
			w.cascade(1)
		}
		if w.currentTick%(level0Slots*level1Slots) == 0 {
			w.cascade(2)
		}
		if w.currentTick%(level0Slots*level1Slots*level2Slots) == 0 {
			w.cascade(3)
		}
	}
	w.sweepOverflow(target)
}

func (w *TimingWheel) expireLevel0() {
	slot := int(w.currentTick % level0Slots)
	bucket := w.level0[slot]
	w.level0[slot] = nil
	for _, e := range bucket {
		delete(w.index, e.id)
		w.expired = append(w.expired, e)
	}
}

// cascade empties the due slot of the given level and re-inserts every
// entry, most of which land in a lower level (§4.5 step 2-3).
func (w *TimingWheel) cascade(level uint8) {
	var slots int
	var resolution int64
	switch level {
	case 1:
		slots, resolution = level1Slots, level1ResolutionMs
	case 2:
		slots, resolution = level2Slots, level2ResolutionMs
	case 3:
		slots, resolution = level3Slots, level3ResolutionMs
	}

	slot := int((w.currentTick / resolution) % int64(slots))
	bucket := *w.bucket(level, slot)
	*w.bucket(level, slot) = nil

	for _, e := range bucket {
		delete(w.index, e.id)
		w.insertEntry(e)
	}
}

// sweepOverflow migrates overflow entries whose deadline has come
// within the wheel's ~18h horizon back into the wheel (§4.5 step 4).
func (w *TimingWheel) sweepOverflow(nowMs int64) {
	if len(w.overflow) == 0 {
		return
	}
	horizon := nowMs + overflowHorizonMs

	var due []int64
	for deadline := range w.overflow {
		if deadline <= horizon {
			due = append(due, deadline)
		}
	}
	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })

	for _, deadline := range due {
		bucket := w.overflow[deadline]
		delete(w.overflow, deadline)
		for _, e := range bucket {
			delete(w.index, e.id)
			w.insertEntry(e)
		}
	}
}

// DrainExpired removes and returns every entry moved to the expired
// buffer by Advance (§4.5 "Drain expired").
func (w *TimingWheel) DrainExpired() []timerEntry {
	if len(w.expired) == 0 {
		return nil
	}
	out := w.expired
	w.expired = nil
	return out
}

// Len reports the number of live (unfired, uncanceled) timers.
func (w *TimingWheel) Len() int {
	return len(w.index)
}

// NextDeadline returns the earliest deadline (in wall-clock time) among
// all live timers, answering Design Notes' "expose the wheel's
// minimum-future-slot time" open question. Every level and the overflow
// map are scanned on each call: a level-1 entry not yet cascaded can be
// due before a later-inserted level-0 entry, so level 0 alone does not
// give the minimum. No separately maintained cached-minimum field is
// kept.
func (w *TimingWheel) NextDeadline() (time.Time, bool) {
	if len(w.index) == 0 {
		return time.Time{}, false
	}

	found := false
	var min int64
	consider := func(ms int64) {
		if !found || ms < min {
			min, found = ms, true
		}
	}
	if ms, ok := w.minInLevel(w.level0[:]); ok {
		consider(ms)
	}
	if ms, ok := w.minInLevel(w.level1[:]); ok {
		consider(ms)
	}
	if ms, ok := w.minInLevel(w.level2[:]); ok {
		consider(ms)
	}
	if ms, ok := w.minInLevel(w.level3[:]); ok {
		consider(ms)
	}
	for deadline := range w.overflow {
		consider(deadline)
	}
	if !found {
		return time.Time{}, false
	}
	return w.base.Add(time.Duration(min) * time.Millisecond), true
}

func (w *TimingWheel) minInLevel(buckets [][]timerEntry) (int64, bool) {
	found := false
	var min int64
	for _, bucket := range buckets {
		for _, e := range bucket {
			if !found || e.deadline < min {
				min, found = e.deadline, true
			}
		}
	}
	return min, found
}
