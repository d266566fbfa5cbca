// Package credentials implements C8: per-client decryption of the API key
// a worker task uses to call ImageGenerator, falling back to a process-wide
// credential (spec §4.8). golang.org/x/crypto appears throughout the
// example pack for password hashing (bcrypt); here the spec's literal
// requirement is symmetric encrypt/decrypt of a stored secret, so this
// package uses the same module's chacha20poly1305 AEAD subpackage instead.
package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/google/uuid"
	"github.com/remiges-tech/masstock/internal/apperr"
)

// Store looks up a client's encrypted provider credential, if configured.
// internal/repo implements this against the client_credentials table; it
// is declared here to keep Resolver free of a repo import cycle.
type Store interface {
	// LookupEncrypted returns the base64-encoded ciphertext for
	// (clientID, provider), or ok=false if the client has none configured.
	LookupEncrypted(ctx context.Context, clientID uuid.UUID, provider string) (ciphertext string, ok bool, err error)
}

// Resolver implements the three-step fallback of §4.8.
type Resolver struct {
	store          Store
	encKey         [chacha20poly1305.KeySize]byte
	processWideKey string
}

// NewResolver derives the process-wide AEAD key from encKeyMaterial (the
// CREDENTIAL_ENC_KEY config value) and holds processWideCredential as the
// final fallback when no per-client credential exists.
func NewResolver(store Store, encKeyMaterial string, processWideCredential string) (*Resolver, error) {
	var key [chacha20poly1305.KeySize]byte
	if len(encKeyMaterial) < chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credential encryption key must be at least %d bytes", chacha20poly1305.KeySize)
	}
	copy(key[:], []byte(encKeyMaterial)[:chacha20poly1305.KeySize])
	return &Resolver{store: store, encKey: key, processWideKey: processWideCredential}, nil
}

// Resolve returns the plaintext API key to use for provider on behalf of
// clientID, per the fallback chain in spec §4.8. Any decryption failure,
// including malformed ciphertext, collapses to auth_failure -- the
// decrypt step never distinguishes "bad key" from "corrupt ciphertext" to
// the caller, which is what "constant-time-safe against malformed
// ciphertext" means in practice for an AEAD: Open either authenticates or
// it doesn't, there is no partial result to leak.
func (r *Resolver) Resolve(ctx context.Context, clientID uuid.UUID, provider string) (string, error) {
	ciphertext, ok, err := r.store.LookupEncrypted(ctx, clientID, provider)
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransient, "CREDENTIAL_LOOKUP_FAILED", "credential lookup failed", err)
	}
	if ok {
		plaintext, derr := r.decrypt(ciphertext)
		if derr == nil {
			return plaintext, nil
		}
		// Fall through to the process-wide credential only when the client
		// genuinely has none configured; a present-but-corrupt credential
		// is still an auth failure, not silently ignored.
		return "", apperr.Wrap(apperr.KindAuthFailure, "AUTH_FAILURE", "client credential decryption failed", derr)
	}
	if r.processWideKey == "" {
		return "", apperr.New(apperr.KindAuthFailure, "AUTH_FAILURE", "no client credential and no process-wide fallback configured")
	}
	return r.processWideKey, nil
}

// Encrypt is the inverse of decrypt, used when a client configures or
// rotates a credential.
func (r *Resolver) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.New(r.encKey[:])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (r *Resolver) decrypt(ciphertextB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", errors.New("malformed ciphertext encoding")
	}
	aead, err := chacha20poly1305.New(r.encKey[:])
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.New("decryption failed")
	}
	return string(plaintext), nil
}
