package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	next    Generator
	limiter *rate.Limiter
}

// WithRateLimit throttles calls to next to rps requests per second with the
// given burst. A non-positive rps disables limiting.
func WithRateLimit(next Generator, rps float64, burst int) Generator {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *rateLimited) Generate(ctx context.Context, req Request) (Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("wait for generator slot: %w", err)
	}
	return r.next.Generate(ctx, req)
}
