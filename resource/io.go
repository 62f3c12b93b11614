package resource

import (
	"context"
	"io"
)

// RateLimitedReader wraps an io.Reader so background copies respect the
// governor's IO limit.
type RateLimitedReader struct {
	r   io.Reader
	g   *Governor
	ctx context.Context
}

// NewRateLimitedReader creates a rate-limited reader. With no IO limit
// configured it is a pass-through.
func NewRateLimitedReader(ctx context.Context, r io.Reader, g *Governor) *RateLimitedReader {
	return &RateLimitedReader{r: r, g: g, ctx: ctx}
}

func (r *RateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.g.WaitIO(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
