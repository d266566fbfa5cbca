package rategate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/remiges-tech/masstock/internal/apperr"
	"github.com/remiges-tech/masstock/internal/domain"
)

// Local is a single-process fallback RateGate built on golang.org/x/time/rate,
// grounded on the per-key limiter map pattern in
// adhtanjung-maukmn-api-alpha's internal/middleware/ratelimit.go (IPRateLimiter),
// here keyed by model_variant instead of client IP. Per §9 it MUST be
// explicitly selected via RATEGATE_BACKEND=local; it gives no cross-process
// guarantee and is unsuitable for a multi-worker deployment.
type Local struct {
	mu       sync.Mutex
	limiters map[domain.ModelVariant]*rate.Limiter
	configs  map[domain.ModelVariant]bucketConfig
}

func NewLocal() *Local {
	return &Local{
		limiters: make(map[domain.ModelVariant]*rate.Limiter),
		configs: map[domain.ModelVariant]bucketConfig{
			domain.ModelFlash: {capacity: 500, window: 60 * time.Second},
			domain.ModelPro:   {capacity: 100, window: 60 * time.Second},
		},
	}
}

func (l *Local) Configure(model domain.ModelVariant, capacity int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs[model] = bucketConfig{capacity: capacity, window: window}
	delete(l.limiters, model)
}

func (l *Local) limiterFor(model domain.ModelVariant) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[model]; ok {
		return lim
	}
	cfg, ok := l.configs[model]
	if !ok {
		cfg = bucketConfig{capacity: 100, window: 60 * time.Second}
	}
	perSecond := rate.Limit(float64(cfg.capacity) / cfg.window.Seconds())
	lim := rate.NewLimiter(perSecond, cfg.capacity)
	l.limiters[model] = lim
	return lim
}

func (l *Local) Acquire(ctx context.Context, model domain.ModelVariant) error {
	if err := l.limiterFor(model).Wait(ctx); err != nil {
		return apperr.Wrap(apperr.KindTransient, "RATEGATE_CANCELLED", "rate gate wait cancelled", err)
	}
	return nil
}
