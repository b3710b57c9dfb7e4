package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/kestrel/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketEvents       = []byte("events")
	bucketCapabilities = []byte("capabilities")
	bucketSecrets      = []byte("secrets")
	bucketCA           = []byte("ca")
)

// BoltStore implements Store on top of a single BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB file under dataDir.
func NewBoltStore(dataDir, filename string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, filename)

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEvents, bucketCapabilities, bucketSecrets, bucketCA} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func eventKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

// AppendEvent persists a single event record keyed by its id, so
// iteration order matches emission order.
func (s *BoltStore) AppendEvent(event *types.Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return b.Put(eventKey(event.ID), data)
	})
}

// LoadEvents returns every retained event in ascending id order, for
// replay on startup.
func (s *BoltStore) LoadEvents() ([]*types.Event, error) {
	var events []*types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		return b.ForEach(func(k, v []byte) error {
			var e types.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			events = append(events, &e)
			return nil
		})
	})
	return events, err
}

// TrimEventsBefore deletes every event with id strictly less than
// before, implementing the EventStore's retention policy.
func (s *BoltStore) TrimEventsBefore(before int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		c := b.Cursor()
		cutoff := eventKey(before)
		var toDelete [][]byte
		for k, _ := c.First(); k != nil && string(k) < string(cutoff); k, _ = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			toDelete = append(toDelete, key)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) PutCapability(cap *types.Capability) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCapabilities)
		data, err := json.Marshal(cap)
		if err != nil {
			return err
		}
		return b.Put([]byte(cap.ID), data)
	})
}

// GetCapability returns (nil, nil) if id has no record, so callers
// can distinguish "not found" from a storage failure.
func (s *BoltStore) GetCapability(id string) (*types.Capability, error) {
	var cap *types.Capability
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCapabilities)
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		cap = &types.Capability{}
		return json.Unmarshal(data, cap)
	})
	if err != nil {
		return nil, err
	}
	return cap, nil
}

func (s *BoltStore) ListCapabilities() ([]*types.Capability, error) {
	var caps []*types.Capability
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCapabilities)
		return b.ForEach(func(k, v []byte) error {
			var cap types.Capability
			if err := json.Unmarshal(v, &cap); err != nil {
				return err
			}
			caps = append(caps, &cap)
			return nil
		})
	})
	return caps, err
}

func (s *BoltStore) DeleteCapability(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCapabilities)
		return b.Delete([]byte(id))
	})
}

func secretKey(tenant, name string) []byte {
	return []byte(tenant + "/" + name)
}

func (s *BoltStore) PutSecret(rec *types.SecretRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(secretKey(string(rec.Tenant), rec.Name), data)
	})
}

// GetSecret returns (nil, nil) if (tenant, name) has no record, so
// callers can distinguish "not found" from a storage failure.
func (s *BoltStore) GetSecret(tenant, name string) (*types.SecretRecord, error) {
	var rec *types.SecretRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		data := b.Get(secretKey(tenant, name))
		if data == nil {
			return nil
		}
		rec = &types.SecretRecord{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *BoltStore) ListSecrets(tenant string) ([]*types.SecretRecord, error) {
	var recs []*types.SecretRecord
	prefix := []byte(tenant + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var rec types.SecretRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
		}
		return nil
	})
	return recs, err
}

func (s *BoltStore) DeleteSecret(tenant, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		return b.Delete(secretKey(tenant, name))
	})
}

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		return b.Put([]byte("ca"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		d := b.Get([]byte("ca"))
		if d == nil {
			return fmt.Errorf("CA not found")
		}
		data = make([]byte, len(d))
		copy(data, d)
		return nil
	})
	return data, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
