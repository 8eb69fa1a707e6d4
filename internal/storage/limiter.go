package storage

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// Limiter throttles transfer streams.
type Limiter interface {
	// Upstream wraps a reader whose bytes are being uploaded.
	Upstream(ctx context.Context, r io.Reader) io.Reader
	// Downstream wraps a reader whose bytes are being downloaded.
	Downstream(ctx context.Context, r io.Reader) io.Reader
}

type staticLimiter struct {
	upstream   *rate.Limiter
	downstream *rate.Limiter
}

// NewStaticLimiter caps uploads and downloads at the given KiB/s.
// A non-positive limit leaves that direction unthrottled.
func NewStaticLimiter(uploadKiB, downloadKiB int) Limiter {
	return staticLimiter{
		upstream:   newRateLimiter(uploadKiB),
		downstream: newRateLimiter(downloadKiB),
	}
}

func newRateLimiter(kib int) *rate.Limiter {
	if kib <= 0 {
		return nil
	}
	bytesPerSecond := kib * 1024
	return rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
}

func (l staticLimiter) Upstream(ctx context.Context, r io.Reader) io.Reader {
	return limit(ctx, r, l.upstream)
}

func (l staticLimiter) Downstream(ctx context.Context, r io.Reader) io.Reader {
	return limit(ctx, r, l.downstream)
}

func limit(ctx context.Context, r io.Reader, l *rate.Limiter) io.Reader {
	if l == nil {
		return r
	}
	return &rateLimitedReader{ctx: ctx, rd: r, limiter: l}
}

type rateLimitedReader struct {
	ctx     context.Context
	rd      io.Reader
	limiter *rate.Limiter
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.rd.Read(p)
	if werr := wait(r.ctx, r.limiter, n); werr != nil {
		return n, werr
	}
	return n, err
}

// wait consumes n tokens in burst-sized steps, since WaitN rejects
// requests larger than the burst.
func wait(ctx context.Context, l *rate.Limiter, n int) error {
	burst := l.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := l.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
