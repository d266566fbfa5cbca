package imagegen

import (
	"context"
	"sync"
)

// Fake is a scriptable ImageGenerator for worker/repo tests.
type Fake struct {
	mu        sync.Mutex
	calls     []Params
	// GenerateFunc, when set, overrides the default success behavior.
	GenerateFunc func(ctx context.Context, params Params) (Result, error)
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Generate(ctx context.Context, params Params) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, params)
	f.mu.Unlock()

	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, params)
	}
	return Result{Bytes: []byte("fake-image-bytes"), Mime: "image/png", ProcessingMS: 5, Cost: 0.01}, nil
}

func (f *Fake) Calls() []Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Params, len(f.calls))
	copy(out, f.calls)
	return out
}
