package parallel

import "context"

// Result carries one produced item of an Ordered pipeline.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Ordered runs produce(i) for i in [0, n) on up to workers goroutines and
// delivers results on the returned channel strictly in index order.
//
// At most workers items are in flight ahead of the consumer. The channel is
// closed after item n-1, after the first error, or when ctx is done. A
// result with a non-nil Err is always the last one delivered. Callers that
// see the channel close early should consult ctx.Err().
func Ordered[T any](ctx context.Context, n, workers int, produce func(ctx context.Context, i int) (T, error)) <-chan Result[T] {
	workers = max(workers, 1)
	out := make(chan Result[T], workers)

	ctx, cancel := context.WithCancel(ctx)

	// One single-slot channel per index keeps delivery ordered without a
	// reorder buffer; the semaphore caps look-ahead.
	slots := make([]chan Result[T], n)
	for i := range slots {
		slots[i] = make(chan Result[T], 1)
	}
	sem := make(chan struct{}, workers)

	go func() {
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			go func(i int) {
				v, err := produce(ctx, i)
				slots[i] <- Result[T]{Index: i, Value: v, Err: err}
			}(i)
		}
	}()

	go func() {
		defer close(out)
		defer cancel()
		for i := 0; i < n; i++ {
			var r Result[T]
			select {
			case <-ctx.Done():
				return
			case r = <-slots[i]:
			}
			<-sem
			select {
			case <-ctx.Done():
				return
			case out <- r:
			}
			if r.Err != nil {
				return
			}
		}
	}()

	return out
}
