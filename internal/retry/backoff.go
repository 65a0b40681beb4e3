// Package retry holds the exponential backoff shared by the Readwise client
// and the document store writes.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Next doubles current, capped at max.
func Next(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// HalfJitter returns a random extra wait in [0, base/2).
func HalfJitter(base time.Duration) time.Duration {
	half := int64(base / 2)
	if half <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(half))
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
