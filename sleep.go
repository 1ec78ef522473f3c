package executor

import "time"

// Sleep returns a Future that completes once d has elapsed, backed by
// the executor's staged timer (C4). It is the user-facing counterpart
// to StagedTimer.Insert: tasks that need "wait, then continue" timing
// without hand-rolling timer bookkeeping use this instead.
//
// The returned Future must only be polled from exec's own goroutine,
// like any other Future.
func Sleep(exec *Executor, d time.Duration) Future {
	var deadline time.Time
	inserted := false
	return FutureFunc(func(cx *Context) (any, bool) {
		now := time.Now()
		if !inserted {
			deadline = now.Add(d)
			inserted = true
		} else if !now.Before(deadline) {
			return nil, true
		}
		exec.timer.Insert(deadline, cx.Waker)
		return nil, false
	})
}
