package embed

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/resilience"
)

// ServiceName labels embedding failures.
const ServiceName = "embedding"

// Config tunes batching against the provider.
type Config struct {
	BatchSize         int                 `mapstructure:"batch_size"`
	Concurrency       int                 `mapstructure:"concurrency"`
	RequestsPerSecond float64             `mapstructure:"requests_per_second"`
	Timeout           time.Duration       `mapstructure:"timeout"`
	Dimensions        int                 `mapstructure:"dimensions"`
	Resilience        resilience.Settings `mapstructure:"resilience"`
}

// Batcher splits large requests into provider-sized batches, runs them in
// parallel and joins every batch before returning. Any failure is reported
// as a *model.DependencyError.
type Batcher struct {
	inner       Embedder
	batchSize   int
	concurrency int
	timeout     time.Duration
	dimensions  int
	limiter     *rate.Limiter
	guard       *resilience.Guard
	log         *zap.Logger
}

// NewBatcher wraps inner. Zero config values take defaults.
func NewBatcher(inner Embedder, cfg Config) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Batcher{
		inner:       inner,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
		dimensions:  cfg.Dimensions,
		limiter:     rate.NewLimiter(limit, cfg.Concurrency),
		guard:       resilience.NewGuard(ServiceName, cfg.Resilience),
		log:         zap.L().With(zap.String("component", "embed.batcher")),
	}
}

// WithGuard replaces the retry and breaker policy.
func (b *Batcher) WithGuard(g *resilience.Guard) *Batcher {
	b.guard = g
	return b
}

// Embed returns one vector per text, in order.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		batch := texts[start:end]
		offset := start
		g.Go(func() error {
			if err := b.limiter.Wait(gctx); err != nil {
				return eris.Wrap(err, "embed: rate limiter")
			}
			vecs, err := resilience.Call(gctx, b.guard, func(ctx context.Context) ([][]float32, error) {
				return b.inner.Embed(ctx, batch)
			})
			if err != nil {
				return err
			}
			if len(vecs) != len(batch) {
				return eris.Errorf("embed: batch at %d: requested %d vectors, got %d", offset, len(batch), len(vecs))
			}
			for i, v := range vecs {
				if len(v) == 0 || (b.dimensions > 0 && len(v) != b.dimensions) {
					return eris.Errorf("embed: vector %d has %d dimensions, want %d", offset+i, len(v), b.dimensions)
				}
				out[offset+i] = v
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		b.log.Warn("embedding failed", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, model.NewDependencyError(ServiceName, err)
	}
	b.log.Debug("embedded texts", zap.Int("texts", len(texts)))
	return out, nil
}
