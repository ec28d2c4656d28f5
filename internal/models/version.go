// Package models defines the domain types for Perthro.
package models

// Origin tags why a version row was created.
type Origin string

const (
	// OriginManual marks an explicit user save.
	OriginManual Origin = "manual"
	// OriginAutosave marks an automatic timed save.
	OriginAutosave Origin = "autosave"
	// OriginRemoteSync marks a snapshot captured from the remote service.
	OriginRemoteSync Origin = "remote-sync"
)

// Valid reports whether o is one of the known origins.
func (o Origin) Valid() bool {
	switch o {
	case OriginManual, OriginAutosave, OriginRemoteSync:
		return true
	}
	return false
}

// Identity names one logical editable script on the remote service.
// It is the ledger partition key and is never mutated.
type Identity struct {
	Owner  string `json:"owner"`
	Script string `json:"script"`
}

// Key returns the canonical string form used for per-identity locking.
func (id Identity) Key() string {
	return id.Owner + "/" + id.Script
}

// VersionRecord is one full-content snapshot in the version ledger.
// Content is immutable once written; Timestamp may be rewritten only by the
// remote-sync dedup bump.
type VersionRecord struct {
	ID        int64    `json:"id"`
	Identity  Identity `json:"identity"`
	Content   string   `json:"content"`
	Checksum  string   `json:"checksum"`
	Timestamp int64    `json:"timestamp"` // epoch millis
	Origin    Origin   `json:"origin"`
	Note      string   `json:"note,omitempty"`
}

// ConfigEntry is one binding/metadata entry attached to a script on the
// remote service. Value is absent for secret-typed entries (write-only).
type ConfigEntry struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

// ConfigTypeSecret marks entries whose values cannot be read back from the
// remote service.
const ConfigTypeSecret = "secret"

// Secret reports whether the entry's value is write-only on the remote side.
func (e ConfigEntry) Secret() bool {
	return e.Type == ConfigTypeSecret
}
