// Example: basic executor usage.
//
// This demonstrates the fundamental pieces of the runtime core:
// - building an Executor and spawning tasks onto it
// - a shared channel between two concurrently-spawned tasks
// - a timer-backed Sleep future
// - graceful shutdown
//
// Run with: go run ./cmd/example/
package main

import (
	"context"
	"fmt"
	"time"

	executor "github.com/ringloop/ringloop"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exec, err := executor.New(executor.WithMetrics(true))
	if err != nil {
		panic(err)
	}

	sender, receiver := executor.NewChannel(8, exec, exec)

	if err := executor.SpawnDetached(exec, 0, executor.FutureFunc(func(cx *executor.Context) (any, bool) {
		for i := 0; i < 3; i++ {
			if sendErr := sender.TrySend(i); sendErr != nil {
				return nil, true
			}
		}
		sender.Disconnect()
		return nil, true
	})); err != nil {
		panic(err)
	}

	handle, err := executor.Spawn[int](exec, 0, executor.FutureFunc(func(cx *executor.Context) (any, bool) {
		v, ready := receiver.Recv().Poll(cx)
		if !ready {
			return nil, false
		}
		if recvErr, isErr := v.(error); isErr {
			fmt.Printf("receiver done: %v\n", recvErr)
			return 42, true
		}
		fmt.Printf("received: %v\n", v)
		cx.Waker.WakeByRef() // keep polling for the next item right away
		return nil, false
	}))
	if err != nil {
		panic(err)
	}

	if err := executor.SpawnDetached(exec, 0, executor.Sleep(exec, 200*time.Millisecond)); err != nil {
		panic(err)
	}

	go func() {
		for {
			if _, _, ready := handle.Poll(&executor.Context{}); ready {
				if shutdownErr := exec.Shutdown(context.Background()); shutdownErr != nil {
					fmt.Printf("shutdown: %v\n", shutdownErr)
				}
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	if err := exec.Run(ctx); err != nil {
		fmt.Printf("run exited with: %v\n", err)
	}

	if metrics := exec.Metrics(); metrics != nil {
		fmt.Printf("peak run-queue depth observed: %d\n", metrics.Queue.RunQueueMax)
	}
	fmt.Println("done")
}
