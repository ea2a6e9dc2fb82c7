// Package multi runs one call per item concurrently and gathers the results
// as they finish.
package multi

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one call.
type Result[O any] struct {
	// Index is the position of the input the call was made with.
	Index int
	Value O
	Err   error
}

// Option configures Call.
type Option func(*options)

type options struct {
	limit int
}

// WithLimit bounds the number of calls in flight. n <= 0 means unbounded.
func WithLimit(n int) Option {
	return func(o *options) { o.limit = n }
}

// Call invokes fn once per input, each on its own goroutine, and returns the
// results in the order the calls completed. A failing call does not stop the
// others; its error is carried in its Result.
//
// If ctx is done before every call has been started, the remaining inputs
// are skipped and ctx.Err() is returned alongside the results of the calls
// that did run. Calls already started receive ctx and decide for themselves.
func Call[I, O any](ctx context.Context, inputs []I, fn func(context.Context, I) (O, error), opts ...Option) ([]Result[O], error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var g errgroup.Group
	if o.limit > 0 {
		g.SetLimit(o.limit)
	}

	results := make(chan Result[O], len(inputs))
	var ctxErr error
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break
		}
		g.Go(func() error {
			v, err := fn(ctx, in)
			results <- Result[O]{Index: i, Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	out := make([]Result[O], 0, len(inputs))
	for r := range results {
		out = append(out, r)
	}
	return out, ctxErr
}

// Values returns the successful values indexed by input position, and the
// errors of the calls that failed.
func Values[O any](results []Result[O], n int) ([]O, []error) {
	values := make([]O, n)
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		if r.Index >= 0 && r.Index < n {
			values[r.Index] = r.Value
		}
	}
	return values, errs
}
