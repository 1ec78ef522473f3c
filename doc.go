// Package executor implements a thread-per-core, cooperative,
// single-threaded async runtime core, in the style of a reactor-driven
// Linux io_uring-backed service: one [Executor] per CPU core, each
// owning its own task arena, timer, run-queues and epoll ring. Each
// run-queue is guarded by its own mutex so that wakes from any goroutine
// can push onto it.
//
// # Architecture
//
// An [Executor] ties together:
//   - an [Arena] of fixed-capacity task cells (no heap fallback once full)
//   - a [StagedTimer], holding timers inline until a threshold is crossed
//     and only then promoting to a [TimingWheel]
//   - one or more run-queues, each a [ChunkedIngress]
//   - a reactor polling an epoll-backed completion ring plus a
//     foreign-wake eventfd
//
// Work is admitted with [Spawn], [SpawnDetached], or [SpawnScoped],
// each returning (or discarding) a [JoinHandle] that can be polled,
// cancelled, or detached. A [Future] suspends by returning
// (nil, false) from Poll and arranging for its [Context].Waker to be
// woken once progress is possible again. [Sleep] wraps the staged
// timer as a ready-made Future for the common "wait, then continue"
// case.
//
// # Cross-executor communication
//
// [NewChannel] builds a bounded single-producer/single-consumer
// [ChannelSender]/[ChannelReceiver] pair for moving values between two
// executors (or between a foreign goroutine and one executor), backed
// by an [SPSCProducer]/[SPSCConsumer] ring. Every TrySend and TryRecv
// takes the pair's shared mutex.
//
// # Platform Support
//
// The reactor's I/O polling is implemented with Linux epoll via
// golang.org/x/sys/unix. The reactor's ring type and its version
// counter are defined only in the Linux poller, so the package builds
// on Linux only. Darwin and Windows variants of the poller and wake
// primitives are carried as build-tag-gated files but are not used by
// the reactor.
//
// # Thread Safety
//
// An Executor's arena and timer are owned by the goroutine that calls
// Run. Spawn and SpawnDetached allocate from the arena, which is not
// thread-safe, so they may be called before Run starts or from Run's
// own goroutine (for example inside a task's Poll). Waker.Wake may be
// called from any goroutine. Each channel endpoint may be used by one
// goroutine at a time. Shutdown blocks until Run returns, or until its
// context expires first.
//
// # Usage
//
//	exec, err := executor.New(executor.WithMetrics(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	handle, err := executor.Spawn[int](exec, 0, executor.FutureFunc(
//	    func(cx *executor.Context) (any, bool) { return 42, true },
//	))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
//	defer cancel()
//	go func() { _ = exec.Run(ctx) }()
//	// ... later, from any goroutine: handle.Poll(cx) until ready.
//
// # Error Types
//
// Operations report failure with typed errors rather than bare
// strings: [CapacityExceededError] (arena or channel full),
// [PeerDisconnectedError] (shared channel endpoint gone),
// [InvalidArgumentError], [IoFailureError] (reactor syscall failure),
// [TimeoutError], and [TaskPanicError] (a task's Poll recovered a
// panic). All implement [error]; InvalidArgumentError, IoFailureError,
// TimeoutError and TaskPanicError also implement Unwrap, so
// [errors.Is]/[errors.As] reach their cause.
package executor
