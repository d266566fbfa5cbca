package credentials

import (
	"context"

	"github.com/google/uuid"
)

// FakeStore is an in-memory Store for tests.
type FakeStore struct {
	byClient map[uuid.UUID]map[string]string
	Err      error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{byClient: make(map[uuid.UUID]map[string]string)}
}

func (f *FakeStore) Set(clientID uuid.UUID, provider, ciphertext string) {
	if f.byClient[clientID] == nil {
		f.byClient[clientID] = make(map[string]string)
	}
	f.byClient[clientID][provider] = ciphertext
}

func (f *FakeStore) LookupEncrypted(_ context.Context, clientID uuid.UUID, provider string) (string, bool, error) {
	if f.Err != nil {
		return "", false, f.Err
	}
	ct, ok := f.byClient[clientID][provider]
	return ct, ok, nil
}
