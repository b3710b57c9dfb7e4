// Package storage provides BoltDB-backed persistence for Kestrel's
// durable state: the event log, capability grants, vault secret
// records and CA material. Two BoltStore instances are opened per
// process (events_db, vault_db), each a single file with one bucket
// per entity kind. All entities are JSON
// marshaled; reads use db.View, writes use db.Update.
package storage
