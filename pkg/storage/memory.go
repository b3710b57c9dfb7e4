package storage

import (
	"sort"
	"sync"

	"github.com/cuemby/kestrel/pkg/types"
)

// MemStore is an in-memory Store, used by package tests that need a
// Store without a BoltDB file on disk. Not for production use — its
// data never survives a restart.
type MemStore struct {
	mu           sync.Mutex
	events       []*types.Event
	capabilities map[string]*types.Capability
	secrets      map[string]*types.SecretRecord
	ca           []byte
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		capabilities: make(map[string]*types.Capability),
		secrets:      make(map[string]*types.SecretRecord),
	}
}

func (m *MemStore) AppendEvent(event *types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemStore) LoadEvents() ([]*types.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Event, len(m.events))
	copy(out, m.events)
	return out, nil
}

func (m *MemStore) TrimEventsBefore(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	for _, e := range m.events {
		if e.ID >= id {
			kept = append(kept, e)
		}
	}
	m.events = kept
	return nil
}

func (m *MemStore) PutCapability(cap *types.Capability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capabilities[cap.ID] = cap
	return nil
}

func (m *MemStore) GetCapability(id string) (*types.Capability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capabilities[id], nil
}

func (m *MemStore) ListCapabilities() ([]*types.Capability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Capability, 0, len(m.capabilities))
	for _, c := range m.capabilities {
		out = append(out, c)
	}
	return out, nil
}

func (m *MemStore) DeleteCapability(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.capabilities, id)
	return nil
}

func secretMemKey(tenant, name string) string { return tenant + "/" + name }

func (m *MemStore) PutSecret(rec *types.SecretRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[secretMemKey(string(rec.Tenant), rec.Name)] = rec
	return nil
}

func (m *MemStore) GetSecret(tenant, name string) (*types.SecretRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secrets[secretMemKey(tenant, name)], nil
}

func (m *MemStore) ListSecrets(tenant string) ([]*types.SecretRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.SecretRecord, 0)
	for _, r := range m.secrets {
		if string(r.Tenant) == tenant {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) DeleteSecret(tenant, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, secretMemKey(tenant, name))
	return nil
}

func (m *MemStore) SaveCA(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ca = append([]byte(nil), data...)
	return nil
}

func (m *MemStore) GetCA() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ca == nil {
		return nil, types.NewError(types.ErrNotFound, "no CA material stored")
	}
	return append([]byte(nil), m.ca...), nil
}

func (m *MemStore) Close() error { return nil }
