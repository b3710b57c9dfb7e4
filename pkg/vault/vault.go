// Package vault implements Kestrel's per-tenant encrypted key->value
// secret store. Each record derives its own AES-256 key from the
// caller's master key plus a random per-secret salt via scrypt, then
// encrypts with AES-256-GCM using a random nonce, so two stores of
// the same plaintext never produce the same ciphertext. Grounded on
// the teacher's SecretsManager AES-256-GCM pattern, with scrypt key
// derivation added so the stored master key is never used directly
// as an AES key.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sort"

	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/storage"
	"github.com/cuemby/kestrel/pkg/types"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize = 16
	keyLen   = 32

	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// Vault stores and retrieves per-tenant secrets encrypted at rest.
// It holds no key material itself — every call supplies the master
// key it needs — so a process restart never requires re-keying.
type Vault struct {
	store  storage.Store
	events *events.EventStore
}

// New constructs a Vault over store, emitting lifecycle events
// through es.
func New(store storage.Store, es *events.EventStore) *Vault {
	return &Vault{store: store, events: es}
}

func deriveKey(masterKey, salt []byte) ([]byte, error) {
	return scrypt.Key(masterKey, salt, scryptN, scryptR, scryptP, keyLen)
}

// Store encrypts value under a key derived from masterKey and a fresh
// random salt, and persists it for (tenant, name). Storing again under
// the same name overwrites the previous record.
func (v *Vault) Store(ctx context.Context, tenant types.TenantID, name string, value []byte, masterKey []byte) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := deriveKey(masterKey, salt)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends its own 16-byte auth tag to the ciphertext; the
	// record keeps that combined blob as Ciphertext and AuthTag empty,
	// since GCM only verifies the tag alongside the bytes it covers.
	sealed := gcm.Seal(nil, nonce, value, nil)

	rec := &types.SecretRecord{
		Tenant:     tenant,
		Name:       name,
		Salt:       salt,
		IV:         nonce,
		Ciphertext: sealed,
	}
	if err := v.store.PutSecret(rec); err != nil {
		return fmt.Errorf("failed to persist secret: %w", err)
	}

	_, _ = v.events.Emit(ctx, tenant, types.EventSecretStored, name, types.Payload{"name": name}, nil)
	return nil
}

// Retrieve decrypts and returns the plaintext stored under (tenant,
// name). A secret stored under a different tenant is reported as
// NotFound, never leaking its existence across a tenant boundary. A
// wrong master key fails the same way a corrupted record would —
// AES-GCM's auth tag check doesn't distinguish the two — so no
// plaintext or partial plaintext is ever returned on failure.
func (v *Vault) Retrieve(ctx context.Context, tenant types.TenantID, name string, masterKey []byte) ([]byte, error) {
	rec, err := v.store.GetSecret(string(tenant), name)
	if err != nil {
		return nil, fmt.Errorf("failed to load secret: %w", err)
	}
	if rec == nil || rec.Tenant != tenant {
		return nil, types.NewError(types.ErrNotFound, "secret not found: "+name)
	}

	key, err := deriveKey(masterKey, rec.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, rec.IV, rec.Ciphertext, nil)
	if err != nil {
		_, _ = v.events.Emit(ctx, tenant, types.EventSecretAccessDenied, name, types.Payload{"name": name}, nil)
		return nil, types.NewError(types.ErrPermissionDenied, "secret decryption failed")
	}

	_, _ = v.events.Emit(ctx, tenant, types.EventSecretAccessed, name, types.Payload{"name": name}, nil)
	return plaintext, nil
}

// Revoke removes the secret stored under (tenant, name). Idempotent:
// revoking a name that doesn't exist is not an error.
func (v *Vault) Revoke(ctx context.Context, tenant types.TenantID, name string) error {
	if err := v.store.DeleteSecret(string(tenant), name); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	_, _ = v.events.Emit(ctx, tenant, types.EventSecretRevoked, name, types.Payload{"name": name}, nil)
	return nil
}

// ListSecrets returns the names of every secret stored for tenant, in
// lexicographic order.
func (v *Vault) ListSecrets(tenant types.TenantID) ([]string, error) {
	recs, err := v.store.ListSecrets(string(tenant))
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	names := make([]string, 0, len(recs))
	for _, r := range recs {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names, nil
}
