package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to the wrapped client. Concurrent sub-plan
// generation shares one limiter.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

func WithRateLimit(c Client, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: c, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) Name() string { return r.next.Name() }

func (r *RateLimited) Generate(ctx context.Context, req Request) (Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	return r.next.Generate(ctx, req)
}

func (r *RateLimited) GenerateStructured(ctx context.Context, req Request, schema Schema) (Response, error) {
	sc, ok := r.next.(StructuredClient)
	if !ok {
		return Response{}, ErrStructuredUnsupported
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	return sc.GenerateStructured(ctx, req, schema)
}
