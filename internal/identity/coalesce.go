package identity

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// coalescer deduplicates concurrent calls that share a key. All callers that
// arrive while a call is in flight receive its result or its error; the key
// is released when the call settles so the next caller starts fresh.
type coalescer[T any] struct {
	group singleflight.Group
}

// do runs fn once per key among concurrent callers. fn receives a context
// detached from the caller's cancellation: a caller that gives up stops
// waiting, but the shared call keeps running for the others.
func (c *coalescer[T]) do(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return fn(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
