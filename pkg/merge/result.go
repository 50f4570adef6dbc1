package merge

import (
	"context"
	"fmt"
)

// Result is a string that may still be in the making. Transforms and
// destination functions hand back Results so that synchronous and
// asynchronous producers look the same to the pipeline.
//
// A nil *Result awaits to the empty string.
type Result struct {
	done  <-chan struct{}
	value string
	err   error
}

var closed = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Value returns a Result that is already resolved to s.
func Value(s string) *Result {
	return &Result{done: closed, value: s}
}

// Failed returns a Result that is already rejected with err.
func Failed(err error) *Result {
	return &Result{done: closed, err: err}
}

// Async runs fn in its own goroutine and returns a Result resolved with
// its return values. A panic in fn rejects the Result.
func Async(fn func() (string, error)) *Result {
	done := make(chan struct{})
	r := &Result{done: done}
	go func() {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				r.err = fmt.Errorf("panic: %v", p)
			}
		}()
		r.value, r.err = fn()
	}()
	return r
}

// Await blocks until the Result is settled or ctx is done.
func (r *Result) Await(ctx context.Context) (string, error) {
	if r == nil {
		return "", nil
	}
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// TransformFunc rewrites the joined content of one destination.
type TransformFunc func(ctx context.Context, content string) *Result

// Sync adapts a plain function into a TransformFunc. The function runs on
// the calling goroutine; its panics reject the Result.
func Sync(fn func(ctx context.Context, content string) (string, error)) TransformFunc {
	return func(ctx context.Context, content string) (r *Result) {
		defer func() {
			if p := recover(); p != nil {
				r = Failed(fmt.Errorf("panic: %v", p))
			}
		}()
		s, err := fn(ctx, content)
		if err != nil {
			return Failed(err)
		}
		return Value(s)
	}
}
