package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CredentialStore implements credentials.Store against client_credentials,
// kept as a thin separate type (rather than a method on Postgres) so
// internal/credentials never imports internal/repo.
type CredentialStore struct {
	pool *pgxpool.Pool
}

func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

func (s *CredentialStore) LookupEncrypted(ctx context.Context, clientID uuid.UUID, provider string) (string, bool, error) {
	var ciphertext string
	err := s.pool.QueryRow(ctx,
		`SELECT ciphertext FROM client_credentials WHERE client_id = $1 AND provider = $2`,
		clientID, provider,
	).Scan(&ciphertext)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return ciphertext, true, nil
}
