package limitio

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

type Reader struct {
	source  io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// NewReader returns a reader that implements io.Reader with rate limiting.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		source: r,
		ctx:    context.Background(),
	}
}

// WithContext stops waiting for the rate limiter when the context is done.
func (s *Reader) WithContext(ctx context.Context) *Reader {
	s.ctx = ctx
	return s
}

// SetRateLimit sets rate limit (bytes/sec) to the reader. A rate of zero disables the limit.
func (s *Reader) SetRateLimit(bytesPerSec float64, burst int) {
	s.limiter = newLimiter(bytesPerSec, burst)
}

// Read bytes into p.
func (s *Reader) Read(p []byte) (int, error) {
	return transfer(s.ctx, s.limiter, func() (int, error) {
		return s.source.Read(p)
	})
}
