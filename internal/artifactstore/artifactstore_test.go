package artifactstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_PutBatchResult_RoundTrips(t *testing.T) {
	f := NewFake()
	execID := uuid.New()

	url, path, err := f.PutBatchResult(context.Background(), execID, 2, []byte("image bytes"), "image/png")
	require.NoError(t, err)
	assert.Contains(t, url, path)

	got, ok := f.Peek(path)
	require.True(t, ok)
	assert.Equal(t, "image bytes", string(got))

	viaGet, err := f.Get(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "image bytes", string(viaGet))
}

func TestFake_PutReferenceImage_UniquePaths(t *testing.T) {
	f := NewFake()
	clientID := uuid.New()

	_, path1, err := f.PutReferenceImage(context.Background(), clientID, []byte("a"), "image/jpeg")
	require.NoError(t, err)
	_, path2, err := f.PutReferenceImage(context.Background(), clientID, []byte("b"), "image/jpeg")
	require.NoError(t, err)

	assert.NotEqual(t, path1, path2)
}

func TestFake_PutErr_Propagates(t *testing.T) {
	f := NewFake()
	f.PutErr = assert.AnError

	_, _, err := f.PutBatchResult(context.Background(), uuid.New(), 0, []byte("x"), "image/png")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestExtForMime(t *testing.T) {
	assert.Equal(t, "png", extForMime("image/png"))
	assert.Equal(t, "webp", extForMime("image/webp"))
	assert.Equal(t, "jpg", extForMime("image/jpeg"))
	assert.Equal(t, "jpg", extForMime("application/octet-stream"))
}
