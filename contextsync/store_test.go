package contextsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshgate/meshgate/core"
)

// Interface compliance (compile-time assertion)
var _ core.ContextStore = (*InMemoryStore)(nil)

func TestInMemoryStore_UpdateVersioning(t *testing.T) {
	store := NewInMemoryStore()

	update, err := store.Update("conv-1", "plan", "v1", "alice", core.MergeReplace, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), update.Entry.Version)
	assert.Equal(t, "alice", update.Entry.LastModifiedBy)
	assert.NotEmpty(t, update.Entry.Checksum)
	assert.False(t, update.AutoMerged)

	update, err = store.Update("conv-1", "plan", "v2", "bob", core.MergeReplace, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), update.Entry.Version)
	assert.Equal(t, "v2", update.Entry.Value)

	entry, ok := store.Get("conv-1", "plan")
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.Version)
}

func TestInMemoryStore_UpdateValidation(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Update("conv-1", "", "v", "", core.MergeReplace, 0)
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"key", "writer"}, verr.Missing)

	_, err = store.Update("conv-1", "k", "v", "alice", "overwrite", 0)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Invalid, "merge_strategy")
}

func TestInMemoryStore_StaleVersionAutoMerges(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Update("conv-1", "findings", map[string]any{"alice": "done"}, "alice", core.MergeUnion, 0)
	require.NoError(t, err)

	// Bob writes against version 0 but his keys are disjoint from the
	// current value, so the modification merges automatically.
	update, err := store.Update("conv-1", "findings", map[string]any{"bob": "done"}, "bob", core.MergeUnion, 0)
	require.NoError(t, err)
	assert.True(t, update.AutoMerged)
	assert.Nil(t, update.Conflict)
	assert.Equal(t, int64(2), update.Entry.Version)

	merged, ok := update.Entry.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "done", merged["alice"])
	assert.Equal(t, "done", merged["bob"])
}

func TestInMemoryStore_AutoMergePreservesConcurrentWriter(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Update("conv-1", "findings", map[string]any{"alice": "done"}, "alice", core.MergeReplace, 0)
	require.NoError(t, err)

	// Bob asks for replace with a stale version. His keys are disjoint from
	// alice's, so the write auto-merges as a union: honoring the requested
	// replace would silently drop alice's concurrent write.
	update, err := store.Update("conv-1", "findings", map[string]any{"bob": "done"}, "bob", core.MergeReplace, 0)
	require.NoError(t, err)
	assert.True(t, update.AutoMerged)

	merged, ok := update.Entry.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "done", merged["alice"])
	assert.Equal(t, "done", merged["bob"])
}

func TestInMemoryStore_AutoMergeConcatenatesSlices(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Update("conv-1", "log", []any{"started"}, "alice", core.MergeReplace, 0)
	require.NoError(t, err)

	update, err := store.Update("conv-1", "log", []any{"reviewed"}, "bob", core.MergeReplace, 0)
	require.NoError(t, err)
	assert.True(t, update.AutoMerged)
	assert.Equal(t, []any{"started", "reviewed"}, update.Entry.Value)
}

func TestInMemoryStore_AutoMergeIdenticalValueDoesNotDuplicate(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Update("conv-1", "log", []any{"started"}, "alice", core.MergeAppend, 0)
	require.NoError(t, err)

	// The same value written twice stays a single element, not a
	// concatenation with itself.
	update, err := store.Update("conv-1", "log", []any{"started"}, "bob", core.MergeAppend, 0)
	require.NoError(t, err)
	assert.True(t, update.AutoMerged)
	assert.Equal(t, []any{"started"}, update.Entry.Value)
}

func TestInMemoryStore_StaleVersionConflicts(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Update("conv-1", "decision", map[string]any{"approach": "rewrite"}, "alice", core.MergeReplace, 0)
	require.NoError(t, err)

	// Bob concurrently wrote a different value for the same key: the
	// modification is incompatible and must surface a conflict.
	update, err := store.Update("conv-1", "decision", map[string]any{"approach": "patch"}, "bob", core.MergeReplace, 0)
	require.ErrorIs(t, err, ErrManualResolutionRequired)
	require.NotNil(t, update.Conflict)
	assert.Equal(t, core.ConflictConcurrentModification, update.Conflict.Type)
	assert.Equal(t, core.SeverityHigh, update.Conflict.Severity)
	assert.Len(t, update.Conflict.Entries, 2)

	// The losing write must not clobber the stored value.
	entry, ok := store.Get("conv-1", "decision")
	require.True(t, ok)
	assert.Equal(t, int64(1), entry.Version)
	assert.Equal(t, map[string]any{"approach": "rewrite"}, entry.Value)
}

func TestInMemoryStore_AppendStrategy(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Update("conv-1", "log", []any{"started"}, "alice", core.MergeAppend, 0)
	require.NoError(t, err)
	update, err := store.Update("conv-1", "log", []any{"reviewed"}, "bob", core.MergeAppend, 1)
	require.NoError(t, err)

	assert.Equal(t, []any{"started", "reviewed"}, update.Entry.Value)
}

func TestInMemoryStore_ConversationsAreIsolated(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Update("conv-1", "k", "a", "alice", core.MergeReplace, 0)
	require.NoError(t, err)
	_, err = store.Update("conv-2", "k", "b", "bob", core.MergeReplace, 0)
	require.NoError(t, err)

	entry, _ := store.Get("conv-1", "k")
	assert.Equal(t, "a", entry.Value)
	assert.Len(t, store.Entries("conv-2"), 1)
}

func TestInMemoryStore_VerifyEntry(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Update("conv-1", "k", "v", "alice", core.MergeReplace, 0)
	require.NoError(t, err)

	conflict, err := store.VerifyEntry("conv-1", "k")
	require.NoError(t, err)
	assert.Nil(t, conflict)

	_, err = store.VerifyEntry("conv-1", "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestInMemoryStore_VerifyEntryDetectsCorruption(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Update("conv-1", "k", "v", "alice", core.MergeReplace, 0)
	require.NoError(t, err)

	// Corrupt the stored value behind the checksum's back.
	cc := store.conversation("conv-1")
	cc.mu.Lock()
	entry := cc.entries["k"]
	entry.Value = "tampered"
	cc.entries["k"] = entry
	cc.mu.Unlock()

	conflict, err := store.VerifyEntry("conv-1", "k")
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, core.ConflictDataCorruption, conflict.Type)
	assert.Equal(t, core.SeverityCritical, conflict.Severity)
	assert.True(t, conflict.RequiresManualResolution())
}

func TestInMemoryStore_SnapshotAndRollback(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Update("conv-1", "plan", "v1", "alice", core.MergeReplace, 0)
	require.NoError(t, err)

	snap, err := store.Snapshot("conv-1", "before risky step", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.NotEmpty(t, snap.Checksum)

	_, err = store.Update("conv-1", "plan", "v2", "bob", core.MergeReplace, 1)
	require.NoError(t, err)

	_, err = store.Rollback("conv-1", snap.ID)
	require.NoError(t, err)

	entry, ok := store.Get("conv-1", "plan")
	require.True(t, ok)
	assert.Equal(t, "v1", entry.Value)

	// The chain records the rollback as a new snapshot instead of rewriting
	// history.
	snaps := store.Snapshots("conv-1")
	require.Len(t, snaps, 2)
	assert.Contains(t, snaps[1].Description, snap.ID)
}

func TestInMemoryStore_RollbackIsIdempotent(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Update("conv-1", "plan", "v1", "alice", core.MergeReplace, 0)
	require.NoError(t, err)
	snap, err := store.Snapshot("conv-1", "baseline", "alice")
	require.NoError(t, err)
	_, err = store.Update("conv-1", "plan", "v2", "bob", core.MergeReplace, 1)
	require.NoError(t, err)

	_, err = store.Rollback("conv-1", snap.ID)
	require.NoError(t, err)
	first := store.Entries("conv-1")

	_, err = store.Rollback("conv-1", snap.ID)
	require.NoError(t, err)
	second := store.Entries("conv-1")

	// Rolling back twice restores the same values and checksums; only the
	// version numbers advance, since each rollback is a new operation.
	require.Len(t, second, len(first))
	for key, entry := range first {
		assert.Equal(t, entry.Value, second[key].Value)
		assert.Equal(t, entry.Checksum, second[key].Checksum)
		assert.Greater(t, second[key].Version, entry.Version)
	}
}

func TestInMemoryStore_RollbackKeepsVersionsMonotonic(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Update("conv-1", "plan", "v1", "alice", core.MergeReplace, 0)
	require.NoError(t, err)
	snap, err := store.Snapshot("conv-1", "baseline", "alice")
	require.NoError(t, err)
	_, err = store.Update("conv-1", "plan", "v2", "bob", core.MergeReplace, 1)
	require.NoError(t, err)

	_, err = store.Rollback("conv-1", snap.ID)
	require.NoError(t, err)

	// The restored value never reuses the version number "v2" held.
	entry, ok := store.Get("conv-1", "plan")
	require.True(t, ok)
	assert.Equal(t, "v1", entry.Value)
	assert.Equal(t, int64(3), entry.Version)

	// Optimistic writes continue from the bumped version.
	update, err := store.Update("conv-1", "plan", "v3", "alice", core.MergeReplace, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), update.Entry.Version)
}

func TestInMemoryStore_RollbackUnknownSnapshot(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Rollback("conv-1", "nope")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestInMemoryStore_RollbackRefusesCorruptSnapshot(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Update("conv-1", "plan", "v1", "alice", core.MergeReplace, 0)
	require.NoError(t, err)
	snap, err := store.Snapshot("conv-1", "baseline", "alice")
	require.NoError(t, err)

	// Tamper with the captured entries behind the snapshot checksum.
	cc := store.conversation("conv-1")
	cc.mu.Lock()
	for i := range cc.snapshots {
		if cc.snapshots[i].ID == snap.ID {
			entry := cc.snapshots[i].Entries["plan"]
			entry.Value = "tampered"
			cc.snapshots[i].Entries["plan"] = entry
		}
	}
	cc.mu.Unlock()

	_, err = store.Rollback("conv-1", snap.ID)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}
