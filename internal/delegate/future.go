// SPDX-License-Identifier: MIT
package delegate

import (
	"context"
	"fmt"
)

// Future is the pending result of one operation.
type Future struct {
	id     string
	op     string
	done   chan struct{}
	result any
	err    error
}

func newFuture(id, op string) *Future {
	return &Future{id: id, op: op, done: make(chan struct{})}
}

func (f *Future) resolve(result any, err error) {
	f.result, f.err = result, err
	close(f.done)
}

// ID is the operation id, shared with the Events for this call.
func (f *Future) ID() string { return f.id }

// Op is the operation name.
func (f *Future) Op() string { return f.op }

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the operation finishes or ctx is done. Abandoning a Future
// does not cancel its handler; cancel the context passed to Call for that.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Await waits for f and asserts its result type.
func Await[T any](ctx context.Context, f *Future) (T, error) {
	var zero T
	result, err := f.Wait(ctx)
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	v, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%s returned %T, want %T", f.op, result, zero)
	}
	return v, nil
}
