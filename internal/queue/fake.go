package queue

import (
	"context"
	"strconv"
	"sync"

	"github.com/remiges-tech/masstock/internal/domain"
)

// Fake is an in-memory JobQueue for worker and API tests. Consume delivers
// each job pending when it is called, plus any enqueued while it runs, once,
// and returns when none are left; it does not block until ctx is cancelled.
// A failed job that still has attempts left is requeued when Consume
// returns, so it is redelivered by the next Consume call. There is no real
// concurrency or backoff scheduling, just enough fidelity to exercise a
// Worker's handler wiring.
type Fake struct {
	mu          sync.Mutex
	nextID      int
	pending     []domain.Job
	dead        []domain.Job
	attempts    map[string]int
	MaxAttempts int
}

func NewFake() *Fake {
	return &Fake{
		attempts:    make(map[string]int),
		MaxAttempts: 3,
	}
}

func (f *Fake) Enqueue(ctx context.Context, job domain.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	job.ID = strconv.Itoa(f.nextID)
	f.pending = append(f.pending, job)
	return job.ID, nil
}

func (f *Fake) Consume(ctx context.Context, handler Handler, concurrency int) error {
	var retry []domain.Job
	defer func() {
		f.mu.Lock()
		f.pending = append(f.pending, retry...)
		f.mu.Unlock()
	}()
	for {
		job, ok := f.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			default:
				return nil
			}
		}

		err := handler(ctx, job, func(percent int) {})
		if err == nil {
			continue
		}

		f.mu.Lock()
		f.attempts[job.ID]++
		attempts := f.attempts[job.ID]
		job.LastError = err.Error()
		if attempts >= f.MaxAttempts {
			f.dead = append(f.dead, job)
		} else {
			retry = append(retry, job)
		}
		f.mu.Unlock()
	}
}

func (f *Fake) DeadLetters(ctx context.Context) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Job, len(f.dead))
	copy(out, f.dead)
	return out, nil
}

func (f *Fake) pop() (domain.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return domain.Job{}, false
	}
	job := f.pending[0]
	f.pending = f.pending[1:]
	return job, true
}
