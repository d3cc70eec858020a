package embedding

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Provider with a token-bucket limiter, so that a
// burst of upserts cannot exceed the configured embedding rate. The kernel
// applies it when the embedding.remote_allowed config flag and
// BARTHO_EMBED_ENABLED are both set; the provider it wraps there is the
// local fallback embedder.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a limiter allowing rps requests per
// second and the given burst.
func NewRateLimited(inner Provider, rps float64, burst int) *RateLimited {
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Identity delegates to the wrapped provider.
func (r *RateLimited) Identity() Identity { return r.inner.Identity() }

// Embed waits for rate-limiter admission (respecting ctx cancellation)
// before delegating to the wrapped provider.
func (r *RateLimited) Embed(ctx context.Context, text string) (Vector, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Vector{}, err
	}
	return r.inner.Embed(ctx, text)
}
