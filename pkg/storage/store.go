package storage

import (
	"github.com/cuemby/kestrel/pkg/types"
)

// Store defines Kestrel's durable persistence surface: the event log,
// capability grants, vault records and CA material. Implemented by
// BoltStore; the interface exists so pkg/events, pkg/capability and
// pkg/vault can be tested against an in-memory fake.
type Store interface {
	// Events
	AppendEvent(event *types.Event) error
	LoadEvents() ([]*types.Event, error)
	TrimEventsBefore(id int64) error

	// Capabilities
	PutCapability(cap *types.Capability) error
	GetCapability(id string) (*types.Capability, error)
	ListCapabilities() ([]*types.Capability, error)
	DeleteCapability(id string) error

	// Vault secrets, keyed by (tenant, name)
	PutSecret(rec *types.SecretRecord) error
	GetSecret(tenant, name string) (*types.SecretRecord, error)
	ListSecrets(tenant string) ([]*types.SecretRecord, error)
	DeleteSecret(tenant, name string) error

	// Certificate Authority material
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	Close() error
}
