package limitio

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

type Writer struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// NewWriter returns a writer that implements io.Writer with rate limiting.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:   w,
		ctx: context.Background(),
	}
}

// WithContext stops waiting for the rate limiter when the context is done.
func (s *Writer) WithContext(ctx context.Context) *Writer {
	s.ctx = ctx
	return s
}

// SetRateLimit sets rate limit (bytes/sec) to the writer. A rate of zero disables the limit.
func (s *Writer) SetRateLimit(bytesPerSec float64, burst int) {
	s.limiter = newLimiter(bytesPerSec, burst)
}

// Write writes bytes from p.
func (s *Writer) Write(p []byte) (int, error) {
	return transfer(s.ctx, s.limiter, func() (int, error) {
		return s.w.Write(p)
	})
}
