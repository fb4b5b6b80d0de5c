package bridge

import "context"

// Result is a single-shot asynchronous outcome: exactly one value or one
// error.
type Result[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Go runs fn on a new goroutine and returns its pending result.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Result[T] {
	r := &Result[T]{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		r.value, r.err = fn(ctx)
	}()
	return r
}

// Done is closed once the result is available.
func (r *Result[T]) Done() <-chan struct{} {
	return r.done
}

// Await waits for the result or for ctx to end, whichever comes first.
// Abandoning the wait does not cancel the operation.
func (r *Result[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
