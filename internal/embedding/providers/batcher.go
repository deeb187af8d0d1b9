package providers

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// batcher splits texts into provider-sized requests and runs them under a
// shared rate limit. Results keep input order.
type batcher struct {
	size        int
	concurrency int
	limiter     *rate.Limiter
}

func newBatcher(size, requestsPerMinute int) *batcher {
	if size <= 0 {
		size = 16
	}
	limit := rate.Inf
	burst := 1
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
		burst = max(1, requestsPerMinute/10)
	}
	return &batcher{size: size, concurrency: 4, limiter: rate.NewLimiter(limit, burst)}
}

type embedFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (b *batcher) run(ctx context.Context, texts []string, fn embedFunc) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	if len(texts) <= b.size {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return fn(ctx, texts)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for start := 0; start < len(texts); start += b.size {
		start := start
		end := min(start+b.size, len(texts))
		g.Go(func() error {
			if err := b.limiter.Wait(gctx); err != nil {
				return err
			}
			vecs, err := fn(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
