package rategate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiges-tech/masstock/internal/domain"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedis(client, nil), mr
}

func TestRedisRateGate_AcquireWithinCapacity(t *testing.T) {
	r, _ := newTestRedis(t)
	r.Configure(domain.ModelFlash, 3, time.Minute)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.NoError(t, r.Acquire(ctx, domain.ModelFlash))
	}
}

func TestRedisRateGate_BlocksUntilWindowExpiry(t *testing.T) {
	r, _ := newTestRedis(t)
	// A 1-second window keeps this test's real wall-clock wait short:
	// Acquire sleeps at most one window before retrying, per §4.1 step 3.
	r.Configure(domain.ModelFlash, 1, time.Second)

	ctx := context.Background()
	require.NoError(t, r.Acquire(ctx, domain.ModelFlash))

	done := make(chan error, 1)
	go func() {
		done <- r.Acquire(ctx, domain.ModelFlash)
	}()

	select {
	case <-done:
		t.Fatal("Acquire returned before the window rolled over")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not unblock after window rollover")
	}
}

func TestRedisRateGate_CancelledContext(t *testing.T) {
	r, _ := newTestRedis(t)
	r.Configure(domain.ModelFlash, 1, time.Minute)

	ctx := context.Background()
	require.NoError(t, r.Acquire(ctx, domain.ModelFlash))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err := r.Acquire(cctx, domain.ModelFlash)
	assert.Error(t, err)
}

func TestLocalRateGate_AcquireWithinCapacity(t *testing.T) {
	l := NewLocal()
	l.Configure(domain.ModelPro, 5, time.Second)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.NoError(t, l.Acquire(ctx, domain.ModelPro))
	}
}

func TestLocalRateGate_CancelledContext(t *testing.T) {
	l := NewLocal()
	l.Configure(domain.ModelFlash, 1, time.Hour)

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, domain.ModelFlash))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, l.Acquire(cctx, domain.ModelFlash))
}
