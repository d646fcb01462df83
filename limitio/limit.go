package limitio

import (
	"context"

	"golang.org/x/time/rate"
)

// DefaultBurst is used when a rate limit is set without burst
const DefaultBurst = 32 * 1024

func newLimiter(bytesPerSec float64, burst int) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// transfer runs the transfer, then waits for the tokens covering the bytes
// actually transferred
func transfer(ctx context.Context, limiter *rate.Limiter, fn func() (int, error)) (int, error) {
	n, err := fn()
	if limiter == nil || n <= 0 {
		return n, err
	}
	burst := limiter.Burst()
	left := n
	for left > 0 {
		chunk := left
		if chunk > burst {
			chunk = burst
		}
		if waitErr := limiter.WaitN(ctx, chunk); waitErr != nil {
			return n, waitErr
		}
		left -= chunk
	}
	return n, err
}
