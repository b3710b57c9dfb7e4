// Package capability implements bearer-token capability grants:
// Grant issues a token scoped to a resource and a permission set,
// Verify checks a presented token against that scope, and Revoke
// invalidates it early. Modeled on the teacher's TokenManager
// (map+mutex, crypto/rand token generation, expiry checks), extended
// to hash-only storage (the raw token is never persisted, only its
// sha256) and to backing both grant and revoke with persistence and
// event emission.
package capability

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/storage"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/google/uuid"
)

// Manager issues, verifies and revokes capability grants. Grants are
// cached in memory for fast Verify calls and persisted through store
// so they survive a restart. mu guards only the in-memory map; store
// writes happen outside it.
type Manager struct {
	store  storage.Store
	events *events.EventStore

	mu   sync.RWMutex
	caps map[string]*types.Capability
}

// New constructs a Manager over store, loading any capability grants
// already persisted from a previous run.
func New(store storage.Store, es *events.EventStore) (*Manager, error) {
	m := &Manager{
		store:  store,
		events: es,
		caps:   make(map[string]*types.Capability),
	}

	existing, err := store.ListCapabilities()
	if err != nil {
		return nil, fmt.Errorf("failed to load capabilities: %w", err)
	}
	for _, c := range existing {
		m.caps[c.ID] = c
	}
	return m, nil
}

// Grant issues a new bearer token scoped to resourceRef with the
// given permission set and ttl. The returned token is the only time
// the raw token value is available — the store retains only its
// hash.
func (m *Manager) Grant(ctx context.Context, tenant types.TenantID, resourceRef string, permissions []string, ttl time.Duration) (string, *types.Capability, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("failed to generate capability token: %w", err)
	}
	token := hex.EncodeToString(raw)

	permSet := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		permSet[p] = struct{}{}
	}

	cap := &types.Capability{
		ID:          uuid.NewString(),
		Tenant:      tenant,
		ResourceRef: resourceRef,
		Permissions: permSet,
		ExpiresAt:   time.Now().Add(ttl),
		TokenHash:   sha256.Sum256([]byte(token)),
	}

	if err := m.store.PutCapability(cap); err != nil {
		return "", nil, fmt.Errorf("failed to persist capability: %w", err)
	}

	m.mu.Lock()
	m.caps[cap.ID] = cap
	m.mu.Unlock()

	_, _ = m.events.Emit(ctx, tenant, types.EventCapabilityGranted, resourceRef, types.Payload{
		"capability_id": cap.ID,
		"permissions":   permissions,
	}, nil)

	return token, cap, nil
}

// Verify checks that token grants perm on resourceRef, and that the
// grant is neither expired nor revoked. A denial emits
// EventCapabilityDenied with the reason, so misuse is auditable even
// though it never reaches the caller's error chain beyond "denied".
func (m *Manager) Verify(ctx context.Context, token string, resourceRef string, perm string) (*types.Capability, error) {
	hash := sha256.Sum256([]byte(token))

	m.mu.RLock()
	var match *types.Capability
	for _, c := range m.caps {
		if subtle.ConstantTimeCompare(c.TokenHash[:], hash[:]) == 1 {
			match = c
			break
		}
	}
	m.mu.RUnlock()

	if match == nil {
		return nil, types.NewError(types.ErrNotFound, "capability token not recognized")
	}
	if match.ResourceRef != resourceRef {
		m.deny(ctx, match, resourceRef, "resource mismatch")
		return nil, types.NewError(types.ErrPermissionDenied, "capability does not grant access to "+resourceRef)
	}
	if !match.Valid(time.Now()) {
		reason := "expired"
		if match.Revoked {
			reason = "revoked"
		}
		m.deny(ctx, match, resourceRef, reason)
		return nil, types.NewError(types.ErrPermissionDenied, "capability "+reason)
	}
	if !match.HasPermission(perm) {
		m.deny(ctx, match, resourceRef, "missing permission "+perm)
		return nil, types.NewError(types.ErrPermissionDenied, "capability lacks permission: "+perm)
	}

	return match, nil
}

func (m *Manager) deny(ctx context.Context, cap *types.Capability, resourceRef, reason string) {
	_, _ = m.events.Emit(ctx, cap.Tenant, types.EventCapabilityDenied, resourceRef, types.Payload{
		"capability_id": cap.ID,
		"reason":        reason,
	}, nil)
}

// Revoke invalidates id immediately. Revoking an already-revoked or
// unknown capability is not an error — callers cleaning up don't need
// to check whether they've already done so.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	m.mu.Lock()
	cap, ok := m.caps[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	cap.Revoked = true
	m.mu.Unlock()

	if err := m.store.PutCapability(cap); err != nil {
		return fmt.Errorf("failed to persist revocation: %w", err)
	}

	_, _ = m.events.Emit(ctx, cap.Tenant, types.EventCapabilityRevoked, cap.ResourceRef, types.Payload{
		"capability_id": id,
	}, nil)
	return nil
}

// RevokeToken looks up the capability by the raw token value and
// revokes it. Like Revoke, an unrecognized token is not an error.
func (m *Manager) RevokeToken(ctx context.Context, token string) error {
	hash := sha256.Sum256([]byte(token))

	m.mu.RLock()
	var id string
	for cid, c := range m.caps {
		if subtle.ConstantTimeCompare(c.TokenHash[:], hash[:]) == 1 {
			id = cid
			break
		}
	}
	m.mu.RUnlock()

	if id == "" {
		return nil
	}
	return m.Revoke(ctx, id)
}

// List returns every capability grant for tenant, including expired
// and revoked ones, for audit and administrative listing.
func (m *Manager) List(tenant types.TenantID) []*types.Capability {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Capability, 0)
	for _, c := range m.caps {
		if c.Tenant == tenant {
			out = append(out, c)
		}
	}
	return out
}

// Sweep removes every grant, revoked or not, whose expiry is before
// the given retention cutoff from the in-memory cache and the store, bounding
// how long stale grants linger.
func (m *Manager) Sweep(before time.Time) error {
	m.mu.Lock()
	var stale []string
	for id, c := range m.caps {
		if c.ExpiresAt.Before(before) {
			stale = append(stale, id)
			delete(m.caps, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if err := m.store.DeleteCapability(id); err != nil {
			return fmt.Errorf("failed to delete expired capability %s: %w", id, err)
		}
	}
	return nil
}
