package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// MergeStrategy controls how an update combines with the existing value of a
// context key.
type MergeStrategy string

const (
	// MergeReplace overwrites the existing value.
	MergeReplace MergeStrategy = "replace"
	// MergeUnion performs a shallow field union for object values.
	MergeUnion MergeStrategy = "merge"
	// MergeAppend concatenates for array values.
	MergeAppend MergeStrategy = "append"
)

// ValidMergeStrategy reports whether s is a supported merge strategy.
func ValidMergeStrategy(s MergeStrategy) bool {
	switch s {
	case MergeReplace, MergeUnion, MergeAppend:
		return true
	}
	return false
}

// ContextEntry is one key in a conversation's shared context. Version is
// strictly increasing per key; Checksum covers the serialized value so
// corruption and divergence are detectable.
type ContextEntry struct {
	Key            string    `json:"key"`
	Value          any       `json:"value"`
	LastModifiedBy string    `json:"last_modified_by"`
	Version        int64     `json:"version"`
	Checksum       string    `json:"checksum"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Snapshot captures the full shared context of a conversation at a point in
// time. Snapshots form an append-only chain per conversation; rollback restores
// a snapshot's entries as a new operation without rewriting the chain.
type Snapshot struct {
	ID             string                  `json:"id"`
	ConversationID string                  `json:"conversation_id"`
	Description    string                  `json:"description"`
	Creator        string                  `json:"creator"`
	Entries        map[string]ContextEntry `json:"entries"`
	Checksum       string                  `json:"checksum"`
	CreatedAt      time.Time               `json:"created_at"`
}

// ContextUpdate is the outcome of a single context write. When the write
// raced with another writer on the same key a Conflict is attached; trivially
// compatible differences are auto-merged instead.
type ContextUpdate struct {
	Entry      ContextEntry `json:"entry"`
	AutoMerged bool         `json:"auto_merged"`
	Conflict   *Conflict    `json:"conflict,omitempty"`
}

// ContextStore maintains shared conversation context with optimistic
// concurrency and point-in-time recovery. Implementations serialize writes per
// conversation so version numbers are strictly increasing per key.
type ContextStore interface {
	// Update writes a key using the given merge strategy. expectedVersion is
	// the version the writer last read (0 for a fresh key); a mismatch is
	// detected as a concurrent modification rather than silently overwritten.
	Update(conversationID, key string, value any, writer string, strategy MergeStrategy, expectedVersion int64) (ContextUpdate, error)
	Get(conversationID, key string) (ContextEntry, bool)
	Entries(conversationID string) map[string]ContextEntry
	Snapshot(conversationID, description, creator string) (Snapshot, error)
	Snapshots(conversationID string) []Snapshot
	Rollback(conversationID, snapshotID string) (Snapshot, error)
}

// Checksum computes the SHA-256 hex digest of the canonical JSON encoding of
// v. encoding/json sorts map keys, so equal values always produce equal
// digests regardless of insertion order.
func Checksum(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("checksum serialization: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChecksum recomputes the checksum of v and compares it to declared.
// A mismatch signals corruption and must be treated as critical.
func VerifyChecksum(v any, declared string) (bool, error) {
	actual, err := Checksum(v)
	if err != nil {
		return false, err
	}
	return actual == declared, nil
}
