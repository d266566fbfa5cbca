package artifactstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/remiges-tech/masstock/internal/apperr"
)

// Fake is an in-memory ArtifactStore for tests, adapted from alya's
// jobs/objstore.ObjectStoreMock (func-field mock) but kept as a plain
// recording stub since ArtifactStore's three methods don't need per-call
// override in the tests that use it.
type Fake struct {
	mu      sync.Mutex
	objects map[string][]byte

	// PutErr, when set, is returned by both Put methods instead of succeeding.
	PutErr error
}

func NewFake() *Fake {
	return &Fake{objects: make(map[string][]byte)}
}

func (f *Fake) PutBatchResult(_ context.Context, executionID uuid.UUID, batchIndex int, data []byte, mime string) (string, string, error) {
	if f.PutErr != nil {
		return "", "", f.PutErr
	}
	path := fmt.Sprintf("workflow-results/%s/%d.%s", executionID, batchIndex, extForMime(mime))
	f.mu.Lock()
	f.objects[path] = data
	f.mu.Unlock()
	return "https://fake.local/" + path, path, nil
}

func (f *Fake) PutReferenceImage(_ context.Context, clientID uuid.UUID, data []byte, mime string) (string, string, error) {
	if f.PutErr != nil {
		return "", "", f.PutErr
	}
	path := fmt.Sprintf("reference-images/%s/%s.%s", clientID, uuid.New(), extForMime(mime))
	f.mu.Lock()
	f.objects[path] = data
	f.mu.Unlock()
	return "https://fake.local/" + path, path, nil
}

// Get implements ArtifactStore. Peek is the test-only accessor that also
// reports presence without erroring.
func (f *Fake) Get(_ context.Context, path string) ([]byte, error) {
	b, ok := f.Peek(path)
	if !ok {
		return nil, apperr.New(apperr.KindTransient, "STORAGE_UNAVAILABLE", "object not found in fake store")
	}
	return b, nil
}

func (f *Fake) Peek(path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[path]
	return b, ok
}
