package executor

import (
	"time"

	catrate "github.com/joeycumines/go-catrate"
)

// overloadLogCategory and pollErrorLogCategory are the catrate
// categories used to throttle the executor's own diagnostic logging, so
// a sustained overload or a flapping poll source can't itself become a
// logging-induced performance problem.
const (
	overloadLogCategory   = "overload"
	pollErrorLogCategory  = "poll-error"
	foreignWakeLogCategory = "foreign-wake"
)

// defaultLogRates bounds diagnostic log volume to at most 1 line per
// second and 20 per minute, per category.
func defaultLogRates() map[time.Duration]int {
	return map[time.Duration]int{
		time.Second: 1,
		time.Minute: 20,
	}
}

// newLogLimiter builds the catrate.Limiter backing an Executor's
// throttled warning/error logging (§6 "observability"; ambient
// concern, not itself a spec component).
func newLogLimiter() *catrate.Limiter {
	return catrate.NewLimiter(defaultLogRates())
}

// allowLog reports whether a log line in category should be emitted
// right now, given exec's configured rate limiter. A nil limiter (the
// zero Executor, or rate limiting explicitly disabled) always allows.
func allowLog(limiter *catrate.Limiter, category string) bool {
	if limiter == nil {
		return true
	}
	_, ok := limiter.Allow(category)
	return ok
}
