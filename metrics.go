package executor

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks runtime statistics for an Executor.
// Metrics are designed to be low-overhead and thread-safe.
// All metrics are optional and can be attached to an Executor via WithMetrics.
//
// Thread Safety:
//   - All Metrics methods are thread-safe and can be called from any goroutine.
//   - LatencyMetrics uses sync.RWMutex (single-writer, multi-reader).
//   - QueueMetrics uses sync.RWMutex (single-writer, multi-reader).
//   - TPSCounter uses atomic operations and mutex for rotation.
//   - Executor.Metrics returns the live *Metrics, not a copy.
//
// Example:
//
//	ex, _ := New(WithMetrics(true))
//	_ = ex.Run(ctx)
//	stats := ex.Metrics()
//	stats.PollLatency.Sample()
//	fmt.Printf("tasks/s: %.2f, p99 poll latency: %v\n",
//		stats.TasksPerSecond, stats.PollLatency.P99)
type Metrics struct {
	// PollLatency tracks time spent in a single Cell.run call.
	PollLatency LatencyMetrics

	// Queue tracks run-queue and foreign-channel depths.
	Queue QueueMetrics

	mu sync.Mutex

	// TasksPerSecond is the rolling throughput of completed task polls.
	TasksPerSecond float64
}

// LatencyMetrics tracks latency distribution with percentiles.
// Uses the P-Square algorithm for O(1) streaming percentile estimation,
// which is more efficient than an O(n log n) sorting approach for a
// per-tick hot path.
type LatencyMetrics struct {
	// Pointer fields first for optimal alignment (betteralign)
	psquare *pSquareMultiQuantile

	// Lock for thread-safe access
	mu sync.RWMutex

	// Legacy sample buffer retained for exact percentiles while the
	// sample count is too small for the P-Square estimator to have
	// converged.
	sampleIdx   int
	sampleCount int
	samples     [sampleSize]time.Duration

	// Computed percentiles (cached after Sample() call)
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
	Max time.Duration

	// Statistics
	Mean time.Duration
	Sum  time.Duration
}

// sampleSize is the maximum number of latency samples to retain.
// We keep a rolling buffer of 1000 samples to compute percentiles.
const sampleSize = 1000

// Record records a single Cell.run duration.
// Uses the O(1) P-Square algorithm for streaming percentile updates.
func (l *LatencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Initialize P-Square estimator on first use (lazy initialization)
	if l.psquare == nil {
		// Track P50 (0.5), P90 (0.9), P95 (0.95), P99 (0.99)
		l.psquare = newPSquareMultiQuantile(0.50, 0.90, 0.95, 0.99)
	}

	// Update P-Square estimator with the new sample (O(1))
	l.psquare.Update(float64(duration))

	// Also update legacy sample buffer for exact percentiles when
	// count < sampleSize.
	if l.sampleCount >= sampleSize {
		old := l.samples[l.sampleIdx]
		l.Sum -= old
	}

	l.samples[l.sampleIdx] = duration
	l.Sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Sample computes percentiles from collected samples.
// This should be called periodically (e.g. once per reactor tick) to
// update the cached percentile values. Returns the number of samples
// used for computation.
func (l *LatencyMetrics) Sample() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.sampleCount
	if count == 0 {
		return 0
	}

	// For small sample counts (< 5), use exact sorting for correctness.
	if count < 5 || l.psquare == nil {
		sorted := make([]time.Duration, count)
		copy(sorted, l.samples[:count])

		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i] < sorted[j]
		})

		l.P50 = sorted[percentileIndex(count, 50)]
		l.P90 = sorted[percentileIndex(count, 90)]
		l.P95 = sorted[percentileIndex(count, 95)]
		l.P99 = sorted[percentileIndex(count, 99)]
		l.Max = sorted[count-1]
		l.Mean = l.Sum / time.Duration(count)

		return count
	}

	// Index 0 = P50, Index 1 = P90, Index 2 = P95, Index 3 = P99
	l.P50 = time.Duration(l.psquare.Quantile(0))
	l.P90 = time.Duration(l.psquare.Quantile(1))
	l.P95 = time.Duration(l.psquare.Quantile(2))
	l.P99 = time.Duration(l.psquare.Quantile(3))
	l.Max = time.Duration(l.psquare.Max())

	// Mean still derives from the ring buffer's Sum, so it tracks only
	// the last sampleSize observations, while the P-Square percentiles
	// above cover every observation recorded.
	l.Mean = l.Sum / time.Duration(count)

	return count
}

// percentileIndex computes the index for a given percentile (0-100).
func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

// QueueMetrics tracks depth statistics for the three backlogs a running
// task spends time waiting in: the local run-queue (§8), the staged
// timer's inline stage (§4.4), and the foreign-producer side of a
// shared channel endpoint (§4.6).
type QueueMetrics struct {
	mu sync.RWMutex

	// Current observed depths
	RunQueueCurrent int
	TimerCurrent    int
	ForeignCurrent  int

	// Maximum observed depths
	RunQueueMax int
	TimerMax    int
	ForeignMax  int

	// Exponential moving averages (alpha=0.1); warmstart to the first
	// observed value so a cold start doesn't bias towards zero.
	RunQueueAvg float64
	TimerAvg    float64
	ForeignAvg  float64

	runQueueEMAInitialized bool
	timerEMAInitialized    bool
	foreignEMAInitialized  bool
}

// UpdateRunQueue updates the local run-queue depth metrics.
func (q *QueueMetrics) UpdateRunQueue(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.RunQueueCurrent = depth
	if depth > q.RunQueueMax {
		q.RunQueueMax = depth
	}
	if !q.runQueueEMAInitialized {
		q.RunQueueAvg = float64(depth)
		q.runQueueEMAInitialized = true
	} else {
		q.RunQueueAvg = 0.9*q.RunQueueAvg + 0.1*float64(depth)
	}
}

// UpdateTimer updates the staged timer's inline-stage depth metrics.
func (q *QueueMetrics) UpdateTimer(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.TimerCurrent = depth
	if depth > q.TimerMax {
		q.TimerMax = depth
	}
	if !q.timerEMAInitialized {
		q.TimerAvg = float64(depth)
		q.timerEMAInitialized = true
	} else {
		q.TimerAvg = 0.9*q.TimerAvg + 0.1*float64(depth)
	}
}

// UpdateForeign updates the foreign-channel backlog depth metrics.
func (q *QueueMetrics) UpdateForeign(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ForeignCurrent = depth
	if depth > q.ForeignMax {
		q.ForeignMax = depth
	}
	if !q.foreignEMAInitialized {
		q.ForeignAvg = float64(depth)
		q.foreignEMAInitialized = true
	} else {
		q.ForeignAvg = 0.9*q.ForeignAvg + 0.1*float64(depth)
	}
}

// TPSCounter tracks completed task polls per second with a rolling window.
//
// Implementation Details:
//   - Rolling window length: configurable via windowSize parameter
//   - Bucket granularity: configurable via bucketSize parameter
//   - Rolling window algorithm: ring buffer with time-based rotation
//
// Thread Safety: All methods (Increment, TPS) are thread-safe.
type TPSCounter struct {
	lastRotation atomic.Value // Stores time.Time
	buckets      []int64
	bucketSize   time.Duration
	windowSize   time.Duration
	mu           sync.Mutex
}

// NewTPSCounter creates a new counter with configurable rolling window.
// windowSize and bucketSize must be > 0, and bucketSize <= windowSize.
func NewTPSCounter(windowSize, bucketSize time.Duration) *TPSCounter {
	if windowSize <= 0 {
		panic("executor: windowSize must be positive (use > 0 duration)")
	}
	if bucketSize <= 0 {
		panic("executor: bucketSize must be positive (use > 0 duration)")
	}
	if bucketSize > windowSize {
		panic("executor: bucketSize cannot exceed windowSize (use <= windowSize)")
	}

	bucketCount := int(windowSize / bucketSize)
	counter := &TPSCounter{
		buckets:    make([]int64, bucketCount),
		bucketSize: bucketSize,
		windowSize: windowSize,
	}
	counter.lastRotation.Store(time.Now())
	return counter
}

// Increment records a completed task poll. Thread-safe and O(1).
func (t *TPSCounter) Increment() {
	t.rotate()
	t.mu.Lock()
	t.buckets[len(t.buckets)-1]++
	t.mu.Unlock()
}

// rotate advances the bucket counter if time has passed.
func (t *TPSCounter) rotate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	lastRotation := t.lastRotation.Load().(time.Time)
	elapsed := now.Sub(lastRotation)

	// Clamp to [0, len(buckets)] so a backwards or forwards clock jump
	// (suspend/resume, NTP step) can't over/underflow the int cast below.
	bucketsToAdvanceInt64 := int64(elapsed) / int64(t.bucketSize)
	if bucketsToAdvanceInt64 < 0 {
		bucketsToAdvanceInt64 = int64(len(t.buckets))
	} else if bucketsToAdvanceInt64 > int64(len(t.buckets)) {
		bucketsToAdvanceInt64 = int64(len(t.buckets))
	}

	bucketsToAdvance := int(bucketsToAdvanceInt64)

	if bucketsToAdvance >= len(t.buckets) {
		for i := range t.buckets {
			t.buckets[i] = 0
		}
		t.lastRotation.Store(now)
		return
	}

	if bucketsToAdvance <= 0 {
		return
	}

	copy(t.buckets, t.buckets[bucketsToAdvance:])
	for i := len(t.buckets) - bucketsToAdvance; i < len(t.buckets); i++ {
		t.buckets[i] = 0
	}

	t.lastRotation.Store(lastRotation.Add(time.Duration(bucketsToAdvance) * t.bucketSize))
}

// TPS returns the current completed-poll rate, in polls per second.
func (t *TPSCounter) TPS() float64 {
	t.rotate()

	t.mu.Lock()
	defer t.mu.Unlock()

	var sum int64
	for _, count := range t.buckets {
		sum += count
	}

	if sum == 0 {
		return 0
	}

	monitoredDuration := float64(len(t.buckets)) * t.bucketSize.Seconds()
	return float64(sum) / monitoredDuration
}
