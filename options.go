// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package executor

import "time"

// executorOptions holds configuration resolved from ExecutorOption
// values passed to New.
type executorOptions struct {
	arenaCapacity   int
	queueCount      int
	drainBudget     int
	metricsEnabled  bool
	logger          *Logger
	logRatesSet     bool
	logRates        map[time.Duration]int
	spinBeforePark  time.Duration
}

// ExecutorOption configures an Executor instance.
type ExecutorOption interface {
	applyExecutor(*executorOptions) error
}

// executorOptionImpl implements ExecutorOption.
type executorOptionImpl struct {
	fn func(*executorOptions) error
}

func (o *executorOptionImpl) applyExecutor(opts *executorOptions) error {
	return o.fn(opts)
}

// WithArenaCapacity sets the number of task-cell slots reserved by the
// executor's arena (§4.1, C1). Spawning beyond this capacity fails
// deterministically with CapacityExceededError rather than falling back
// to a general allocator (Design Notes' first Open Question: this
// implementation picks the "no fallback" policy explicitly).
func WithArenaCapacity(capacity int) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		if capacity <= 0 {
			return &InvalidArgumentError{Message: "executor: arena capacity must be positive"}
		}
		opts.arenaCapacity = capacity
		return nil
	}}
}

// WithQueueCount sets how many run-queues (GLOSSARY "Run-queue") the
// executor creates in total, counting the default queue 0; a count of 2
// adds e.g. a secondary low-latency class (§8 scenario 5 "secondary
// run-queue").
func WithQueueCount(n int) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		if n < 1 {
			return &InvalidArgumentError{Message: "executor: queue count must be at least 1"}
		}
		opts.queueCount = n
		return nil
	}}
}

// WithDrainBudget caps how many entries a single tick drains from each
// run-queue before yielding back to the reactor, bounding worst-case latency for
// timers and foreign wakes under a flooded run-queue.
func WithDrainBudget(n int) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		if n <= 0 {
			return &InvalidArgumentError{Message: "executor: drain budget must be positive"}
		}
		opts.drainBudget = n
		return nil
	}}
}

// WithMetrics enables per-executor metrics collection (poll latency,
// queue depths, task throughput; §6 "Observability").
func WithMetrics(enabled bool) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithLogger sets the structured logger used for the executor's
// diagnostic output (reactor poll failures). Defaults to a
// discard logger if never set.
func WithLogger(logger *Logger) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithLogRates overrides the sliding-window rates used to throttle the
// executor's own diagnostic logging (see ratelimit.go).
func WithLogRates(rates map[time.Duration]int) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.logRates = rates
		opts.logRatesSet = true
		return nil
	}}
}

// WithSpinBeforePark records a spin duration in the executor's options.
// The reactor does not read it: it never busy-polls before parking, and
// always goes straight to its blocking wait when there is no work.
func WithSpinBeforePark(d time.Duration) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.spinBeforePark = d
		return nil
	}}
}

// resolveExecutorOptions applies ExecutorOption instances over a set of
// documented defaults.
func resolveExecutorOptions(opts []ExecutorOption) (*executorOptions, error) {
	cfg := &executorOptions{
		arenaCapacity: DefaultArenaCapacity,
		queueCount:    1,
		drainBudget:   256,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyExecutor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
