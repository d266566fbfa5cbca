// Package artifactstore implements C3: upload of generated/resized bytes
// to object storage at deterministic paths, per spec §4.3. Grounded on
// alya's batch/objstore.ObjectStore (same Put(ctx, bucket, obj, reader,
// size, contentType) shape against a *minio.Client), generalized with
// URL construction and the two deterministic path schemes spec §6 names.
package artifactstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/remiges-tech/masstock/internal/apperr"
)

// ArtifactStore uploads a buffer and returns a stable public URL.
type ArtifactStore interface {
	// PutBatchResult stores a workflow result, keyed deterministically by
	// (executionID, batchIndex) so retries overwrite rather than duplicate.
	PutBatchResult(ctx context.Context, executionID uuid.UUID, batchIndex int, data []byte, mime string) (url string, storagePath string, err error)
	// PutReferenceImage stores a client-uploaded reference image ahead of
	// enqueue, keyed by a fresh uuid per upload.
	PutReferenceImage(ctx context.Context, clientID uuid.UUID, data []byte, mime string) (url string, storagePath string, err error)
	// Get retrieves bytes previously stored at storagePath. Worker prompt
	// tasks use this to re-read reference images and, for smart_resizer,
	// master images uploaded ahead of enqueue.
	Get(ctx context.Context, storagePath string) ([]byte, error)
}

// Minio is the production ArtifactStore.
type Minio struct {
	client        *minio.Client
	bucket        string
	publicURLBase string
}

func NewMinio(client *minio.Client, bucket, publicURLBase string) *Minio {
	return &Minio{client: client, bucket: bucket, publicURLBase: publicURLBase}
}

func extForMime(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}

// PutBatchResult writes to workflow-results/{execution_id}/{batch_index}.{ext},
// per spec §6. The deterministic, timestamp-free path lets a redelivered
// task overwrite its own prior (possibly partial) upload in place rather
// than producing a duplicate object per attempt.
func (m *Minio) PutBatchResult(ctx context.Context, executionID uuid.UUID, batchIndex int, data []byte, mime string) (string, string, error) {
	path := fmt.Sprintf("workflow-results/%s/%d.%s", executionID, batchIndex, extForMime(mime))
	if err := m.put(ctx, path, data, mime); err != nil {
		return "", "", err
	}
	return m.urlFor(path), path, nil
}

// PutReferenceImage writes to reference-images/{client_id}/{uuid}.{ext}.
func (m *Minio) PutReferenceImage(ctx context.Context, clientID uuid.UUID, data []byte, mime string) (string, string, error) {
	path := fmt.Sprintf("reference-images/%s/%s.%s", clientID, uuid.New(), extForMime(mime))
	if err := m.put(ctx, path, data, mime); err != nil {
		return "", "", err
	}
	return m.urlFor(path), path, nil
}

func (m *Minio) put(ctx context.Context, path string, data []byte, mime string) error {
	_, err := m.client.PutObject(ctx, m.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: mime})
	if err != nil {
		// minio-go wraps transport and quota errors identically; without a
		// reliable type assertion surface we classify any Put failure as
		// transient, the conservative choice per §4.3 ("storage_unavailable").
		return apperr.Wrap(apperr.KindTransient, "STORAGE_UNAVAILABLE", "object storage put failed", err)
	}
	return nil
}

func (m *Minio) urlFor(path string) string {
	return fmt.Sprintf("%s/%s/%s", m.publicURLBase, m.bucket, path)
}

func (m *Minio) Get(ctx context.Context, storagePath string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, storagePath, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "STORAGE_UNAVAILABLE", "object storage get failed", err)
	}
	defer obj.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "STORAGE_UNAVAILABLE", "object storage read failed", err)
	}
	return buf.Bytes(), nil
}
