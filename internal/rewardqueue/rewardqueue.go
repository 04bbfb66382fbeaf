// Package rewardqueue holds worker addresses waiting for a reward payment.
package rewardqueue

import (
	"context"
	"time"
)

// Queue is a FIFO of worker addresses.
type Queue interface {
	Enqueue(ctx context.Context, address string) error

	// Dequeue waits up to timeout for an address. ok is false when the wait timed out.
	Dequeue(ctx context.Context, timeout time.Duration) (address string, ok bool, err error)

	Len(ctx context.Context) (int, error)
	Close() error
}
