// Package rategate implements the cross-process token bucket of spec §4.1:
// a fixed-window counter keyed by model_variant, backed by Redis atomic
// INCR+EXPIRE (grounded on alya's own use of redis.Client for coordination
// in jobs/jobmanager.go, generalized here from worker-registry bookkeeping
// to request admission).
package rategate

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/remiges-tech/masstock/internal/apperr"
	"github.com/remiges-tech/masstock/internal/domain"
	"github.com/remiges-tech/masstock/internal/metrics"
)

// RateGate blocks callers until a token is available for a model variant,
// or ctx cancels.
type RateGate interface {
	Acquire(ctx context.Context, model domain.ModelVariant) error
	Configure(model domain.ModelVariant, capacity int, window time.Duration)
}

type bucketConfig struct {
	capacity int
	window   time.Duration
}

// Redis is the production RateGate: the fixed-window algorithm of §4.1
// against a shared redis.Client so every worker process observes the same
// counter.
type Redis struct {
	client  *redis.Client
	metrics metrics.Metrics

	mu      chan struct{} // 1-buffered mutex guarding configs
	configs map[domain.ModelVariant]bucketConfig
}

func NewRedis(client *redis.Client, m metrics.Metrics) *Redis {
	if m == nil {
		m = metrics.Noop{}
	}
	r := &Redis{
		client:  client,
		metrics: m,
		mu:      make(chan struct{}, 1),
		configs: map[domain.ModelVariant]bucketConfig{
			domain.ModelFlash: {capacity: 500, window: 60 * time.Second},
			domain.ModelPro:   {capacity: 100, window: 60 * time.Second},
		},
	}
	r.mu <- struct{}{}
	return r
}

func (r *Redis) Configure(model domain.ModelVariant, capacity int, window time.Duration) {
	<-r.mu
	r.configs[model] = bucketConfig{capacity: capacity, window: window}
	r.mu <- struct{}{}
}

func (r *Redis) config(model domain.ModelVariant) bucketConfig {
	<-r.mu
	c, ok := r.configs[model]
	r.mu <- struct{}{}
	if !ok {
		return bucketConfig{capacity: 100, window: 60 * time.Second}
	}
	return c
}

// Acquire implements the §4.1 algorithm: compute the current window key,
// atomically increment it, succeed if the result is within capacity,
// otherwise sleep until the next window boundary plus jitter and retry.
func (r *Redis) Acquire(ctx context.Context, model domain.ModelVariant) error {
	cfg := r.config(model)
	for {
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.KindTransient, "RATEGATE_CANCELLED", "rate gate wait cancelled", ctx.Err())
		default:
		}

		now := time.Now()
		windowIdx := now.Unix() / int64(cfg.window.Seconds())
		key := fmt.Sprintf("rategate:%s:%d", model, windowIdx)

		count, err := r.client.Incr(ctx, key).Result()
		if err != nil {
			return apperr.Wrap(apperr.KindTransient, "RATEGATE_UNAVAILABLE", "rate gate coordination store unavailable", err)
		}
		if count == 1 {
			// First increment in this window: set the TTL per §4.1 step 4.
			r.client.Expire(ctx, key, 2*cfg.window)
		}

		if int(count) <= cfg.capacity {
			r.metrics.RecordWithLabels("rategate_acquired_total", 1, string(model))
			return nil
		}

		windowEnd := time.Unix((windowIdx+1)*int64(cfg.window.Seconds()), 0)
		jitter := time.Duration(rand.Intn(250)) * time.Millisecond
		wait := time.Until(windowEnd) + jitter
		if wait <= 0 {
			continue
		}
		r.metrics.RecordWithLabels("rategate_wait_total", 1, string(model))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return apperr.Wrap(apperr.KindTransient, "RATEGATE_CANCELLED", "rate gate wait cancelled", ctx.Err())
		case <-timer.C:
		}
	}
}
