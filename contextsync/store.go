package contextsync

import (
	"fmt"
	"sync"
	"time"

	"github.com/meshgate/meshgate/core"
	"github.com/meshgate/meshgate/logging"
)

var (
	// ErrSnapshotNotFound is returned when a rollback targets an unknown
	// snapshot id.
	ErrSnapshotNotFound = fmt.Errorf("snapshot not found")
	// ErrCorruptSnapshot is returned when a snapshot's checksum no longer
	// matches its captured entries. This is an integrity violation and must be
	// escalated to manual resolution.
	ErrCorruptSnapshot = fmt.Errorf("snapshot checksum mismatch")
	// ErrManualResolutionRequired is returned when a write produced an
	// incompatible concurrent modification that no merge strategy may resolve
	// automatically.
	ErrManualResolutionRequired = fmt.Errorf("conflict requires explicit resolution")
)

// conversationContext is the per-conversation owned state: the live entry map
// plus the append-only snapshot chain. Each conversation gets its own lock so
// writes to one conversation never block another.
type conversationContext struct {
	mu        sync.Mutex
	entries   map[string]core.ContextEntry
	snapshots []core.Snapshot
}

// InMemoryStore is a volatile core.ContextStore keeping per-conversation
// context maps and snapshot chains in process-local memory. It is safe for
// concurrent access; all reads return defensive copies.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversationContext
	logger        logging.Logger
}

// NewInMemoryStore constructs an empty in-memory context store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{conversations: map[string]*conversationContext{}, logger: opts.Logger}
}

// Options holds overrides for store construction.
type Options struct {
	Logger logging.Logger
}

// WithLogger overrides the default NoOp logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

func (s *InMemoryStore) conversation(id string) *conversationContext {
	s.mu.RLock()
	cc, ok := s.conversations[id]
	s.mu.RUnlock()
	if ok {
		return cc
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cc, ok = s.conversations[id]; ok {
		return cc
	}
	cc = &conversationContext{entries: map[string]core.ContextEntry{}}
	s.conversations[id] = cc
	return cc
}

// Update writes a key using the given merge strategy, bumping the version and
// recomputing the checksum. A stale expectedVersion is detected as a
// concurrent modification: trivially compatible differences auto-merge while
// incompatible ones surface a conflict requiring explicit resolution.
func (s *InMemoryStore) Update(conversationID, key string, value any, writer string, strategy core.MergeStrategy, expectedVersion int64) (core.ContextUpdate, error) {
	if key == "" || writer == "" {
		var missing []string
		if key == "" {
			missing = append(missing, "key")
		}
		if writer == "" {
			missing = append(missing, "writer")
		}
		return core.ContextUpdate{}, &core.ValidationError{Missing: missing}
	}
	if !core.ValidMergeStrategy(strategy) {
		return core.ContextUpdate{}, &core.ValidationError{Invalid: map[string]string{"merge_strategy": string(strategy)}}
	}

	cc := s.conversation(conversationID)
	cc.mu.Lock()
	defer cc.mu.Unlock()

	existing, exists := cc.entries[key]
	if exists && existing.Version != expectedVersion {
		// Another writer got here first. Grade how materially the values
		// diverge before deciding between auto-merge and explicit resolution.
		severity, compatible := divergence(existing.Value, value)
		if !compatible {
			conflict := core.NewConflict(conversationID, core.ConflictConcurrentModification, severity)
			conflict.Entries = []core.ContextEntry{existing, {
				Key:            key,
				Value:          value,
				LastModifiedBy: writer,
				Version:        expectedVersion,
			}}
			s.logger.Warn("concurrent context modification detected", "conversation_id", conversationID, "key", key, "severity", string(severity))
			return core.ContextUpdate{Conflict: &conflict}, ErrManualResolutionRequired
		}
		// Merge with the semantics the compatibility grade was premised on
		// (union for maps, append for slices), not the requested strategy: a
		// replace here would drop the concurrent writer's data.
		merged, err := s.writeLocked(cc, conversationID, key, value, writer, reconcileStrategy(existing.Value, value))
		if err != nil {
			return core.ContextUpdate{}, err
		}
		return core.ContextUpdate{Entry: merged, AutoMerged: true}, nil
	}

	entry, err := s.writeLocked(cc, conversationID, key, value, writer, strategy)
	if err != nil {
		return core.ContextUpdate{}, err
	}
	return core.ContextUpdate{Entry: entry}, nil
}

// writeLocked applies the merge strategy and installs the next version of the
// entry; caller holds the conversation lock.
func (s *InMemoryStore) writeLocked(cc *conversationContext, conversationID, key string, value any, writer string, strategy core.MergeStrategy) (core.ContextEntry, error) {
	existing, exists := cc.entries[key]
	next := value
	if exists {
		merged, err := mergeValues(existing.Value, value, strategy)
		if err != nil {
			return core.ContextEntry{}, err
		}
		next = merged
	}
	checksum, err := core.Checksum(next)
	if err != nil {
		return core.ContextEntry{}, err
	}
	entry := core.ContextEntry{
		Key:            key,
		Value:          next,
		LastModifiedBy: writer,
		Version:        existing.Version + 1,
		Checksum:       checksum,
		UpdatedAt:      time.Now().UTC(),
	}
	cc.entries[key] = entry
	return entry, nil
}

// Get returns the current entry for a key.
func (s *InMemoryStore) Get(conversationID, key string) (core.ContextEntry, bool) {
	cc := s.conversation(conversationID)
	cc.mu.Lock()
	defer cc.mu.Unlock()
	entry, ok := cc.entries[key]
	return entry, ok
}

// Entries returns a defensive copy of the full context map.
func (s *InMemoryStore) Entries(conversationID string) map[string]core.ContextEntry {
	cc := s.conversation(conversationID)
	cc.mu.Lock()
	defer cc.mu.Unlock()
	entries := make(map[string]core.ContextEntry, len(cc.entries))
	for k, v := range cc.entries {
		entries[k] = v
	}
	return entries
}

// VerifyEntry recomputes the checksum of the stored value for a key. A
// mismatch means data corruption: the resulting conflict is always critical
// and never auto-resolved.
func (s *InMemoryStore) VerifyEntry(conversationID, key string) (*core.Conflict, error) {
	cc := s.conversation(conversationID)
	cc.mu.Lock()
	defer cc.mu.Unlock()
	entry, ok := cc.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}
	match, err := core.VerifyChecksum(entry.Value, entry.Checksum)
	if err != nil {
		return nil, err
	}
	if match {
		return nil, nil
	}
	conflict := core.NewConflict(conversationID, core.ConflictDataCorruption, core.SeverityCritical)
	conflict.Entries = []core.ContextEntry{entry}
	s.logger.Error("context entry corruption detected", "conversation_id", conversationID, "key", key)
	return &conflict, nil
}

// Snapshot captures the full current context map with a checksum and appends
// it to the conversation's append-only version chain.
func (s *InMemoryStore) Snapshot(conversationID, description, creator string) (core.Snapshot, error) {
	cc := s.conversation(conversationID)
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return s.snapshotLocked(cc, conversationID, description, creator)
}

func (s *InMemoryStore) snapshotLocked(cc *conversationContext, conversationID, description, creator string) (core.Snapshot, error) {
	captured := make(map[string]core.ContextEntry, len(cc.entries))
	for k, v := range cc.entries {
		captured[k] = v
	}
	checksum, err := core.Checksum(captured)
	if err != nil {
		return core.Snapshot{}, err
	}
	snap := core.Snapshot{
		ID:             core.NewID(),
		ConversationID: conversationID,
		Description:    description,
		Creator:        creator,
		Entries:        captured,
		Checksum:       checksum,
		CreatedAt:      time.Now().UTC(),
	}
	cc.snapshots = append(cc.snapshots, snap)
	return snap, nil
}

// Snapshots returns the append-only snapshot chain in creation order.
func (s *InMemoryStore) Snapshots(conversationID string) []core.Snapshot {
	cc := s.conversation(conversationID)
	cc.mu.Lock()
	defer cc.mu.Unlock()
	snaps := make([]core.Snapshot, len(cc.snapshots))
	copy(snaps, cc.snapshots)
	return snaps
}

// Rollback restores context to the snapshot's captured entries after
// verifying its checksum, then records the rollback as a new snapshot. The
// chain is never rewritten.
func (s *InMemoryStore) Rollback(conversationID, snapshotID string) (core.Snapshot, error) {
	cc := s.conversation(conversationID)
	cc.mu.Lock()
	defer cc.mu.Unlock()

	var target *core.Snapshot
	for i := range cc.snapshots {
		if cc.snapshots[i].ID == snapshotID {
			target = &cc.snapshots[i]
			break
		}
	}
	if target == nil {
		return core.Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
	}
	match, err := core.VerifyChecksum(target.Entries, target.Checksum)
	if err != nil {
		return core.Snapshot{}, err
	}
	if !match {
		return core.Snapshot{}, fmt.Errorf("%w: %s", ErrCorruptSnapshot, snapshotID)
	}

	// Restore the captured values but issue fresh version numbers: per-key
	// versions stay strictly increasing, so a rolled-back value never reuses
	// a version a different value once held.
	restored := make(map[string]core.ContextEntry, len(target.Entries))
	now := time.Now().UTC()
	for k, v := range target.Entries {
		next := v.Version
		if live, ok := cc.entries[k]; ok && live.Version > next {
			next = live.Version
		}
		v.Version = next + 1
		v.UpdatedAt = now
		restored[k] = v
	}
	cc.entries = restored
	s.logger.Info("context rolled back", "conversation_id", conversationID, "snapshot_id", snapshotID, "entries", len(restored))

	return s.snapshotLocked(cc, conversationID, fmt.Sprintf("rollback to %s", snapshotID), target.Creator)
}
