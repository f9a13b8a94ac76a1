package feed

import (
	"context"
	"time"
)

// Collect gathers up to size items from in. It blocks for the first item, then
// waits at most window for the batch to fill. ok is false once in is closed or
// ctx is done; items already gathered are still returned.
func Collect[T any](ctx context.Context, in <-chan T, size int, window time.Duration) (batch []T, ok bool) {
	if size <= 0 {
		size = 1
	}

	select {
	case <-ctx.Done():
		return nil, false
	case item, open := <-in:
		if !open {
			return nil, false
		}
		batch = append(make([]T, 0, size), item)
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	for len(batch) < size {
		select {
		case <-ctx.Done():
			return batch, false
		case <-timer.C:
			return batch, true
		case item, open := <-in:
			if !open {
				return batch, false
			}
			batch = append(batch, item)
		}
	}

	return batch, true
}
