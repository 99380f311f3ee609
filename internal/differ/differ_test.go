package differ

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biohub-dev/biohub/internal/huberrors"
	"github.com/biohub-dev/biohub/internal/hubtypes"
)

type mapLocator struct {
	name string
	docs map[string]hubtypes.Document
}

func (m *mapLocator) Name() string { return m.name }

func (m *mapLocator) IDs(ctx context.Context) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for id := range m.docs {
		out[id] = struct{}{}
	}
	return out, nil
}

func (m *mapLocator) Get(ctx context.Context, id string) (hubtypes.Document, bool, error) {
	d, ok := m.docs[id]
	return d, ok, nil
}

func TestDiffCountStepTalliesTopLevelKeys(t *testing.T) {
	old := &mapLocator{name: "2026-07-01", docs: map[string]hubtypes.Document{
		"1": {"_id": "1", "symbol": "A"},
		"2": {"_id": "2", "symbol": "B"},
	}}
	newLoc := &mapLocator{name: "2026-07-31", docs: map[string]hubtypes.Document{
		"1": {"_id": "1", "symbol": "A"},
		"3": {"_id": "3", "symbol": "C", "taxid": 9606},
	}}

	outDir := t.TempDir()
	meta, err := Diff(context.Background(), old, newLoc, outDir, 10, []Step{StepCount}, PurgeKeep, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, meta.KeyCounts["_id"])
	assert.Equal(t, 2, meta.KeyCounts["symbol"])
	assert.Equal(t, 1, meta.KeyCounts["taxid"])
	assert.Equal(t, 0, meta.Stats.Add, "count step records coarse stats only, not a diff")
	assert.Empty(t, meta.Files)
}

func TestDiffContentStepDetectsAddsDeletesAndUpdates(t *testing.T) {
	old := &mapLocator{name: "2026-07-01", docs: map[string]hubtypes.Document{
		"1": {"_id": "1", "symbol": "A"},
		"2": {"_id": "2", "symbol": "B"},
	}}
	newLoc := &mapLocator{name: "2026-07-31", docs: map[string]hubtypes.Document{
		"1": {"_id": "1", "symbol": "A-renamed"},
		"3": {"_id": "3", "symbol": "C"},
	}}

	outDir := t.TempDir()
	meta, err := Diff(context.Background(), old, newLoc, outDir, 10, []Step{StepContent}, PurgeKeep, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, meta.Stats.Add)
	assert.Equal(t, 1, meta.Stats.Delete)
	assert.Equal(t, 1, meta.Stats.Update)

	var sawAdd, sawDelete, sawUpdate bool
	for _, f := range meta.Files {
		batch, err := ReadBatch(filepath.Join(outDir, f))
		require.NoError(t, err)
		if len(batch.Add) > 0 {
			sawAdd = true
			assert.Equal(t, "3", batch.Add[0].ID())
		}
		if len(batch.Delete) > 0 {
			sawDelete = true
			assert.Equal(t, []string{"2"}, batch.Delete)
		}
		if len(batch.Update) > 0 {
			sawUpdate = true
			assert.Equal(t, "1", batch.Update[0].ID)
		}
	}
	assert.True(t, sawAdd)
	assert.True(t, sawDelete)
	assert.True(t, sawUpdate)
}

func TestDiffContentStepIgnoresExcludedPaths(t *testing.T) {
	old := &mapLocator{name: "old", docs: map[string]hubtypes.Document{
		"1": {"_id": "1", "symbol": "A", "_timestamp": "2026-01-01"},
	}}
	newLoc := &mapLocator{name: "new", docs: map[string]hubtypes.Document{
		"1": {"_id": "1", "symbol": "A", "_timestamp": "2026-07-31"},
	}}

	outDir := t.TempDir()
	meta, err := Diff(context.Background(), old, newLoc, outDir, 10, []Step{StepContent}, PurgeKeep, []string{"_timestamp"})
	require.NoError(t, err)
	assert.Equal(t, 0, meta.Stats.Update)
	assert.Empty(t, meta.Files)
}

func TestFrameRejectsCorruptChecksum(t *testing.T) {
	frame, err := encodeFrame(AlgorithmJSON, Batch{Delete: []string{"1"}})
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF

	var b Batch
	err = decodeFrame(frame, &b)
	assert.ErrorContains(t, err, "checksum")
}

func TestDiffRefusesNonEmptyOutDirWithoutPurge(t *testing.T) {
	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "stale.diff"), []byte("x"), 0o644))

	old := &mapLocator{name: "old", docs: map[string]hubtypes.Document{}}
	newLoc := &mapLocator{name: "new", docs: map[string]hubtypes.Document{"1": {"_id": "1"}}}

	_, err := Diff(context.Background(), old, newLoc, outDir, 10, []Step{StepCount}, PurgeKeep, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, huberrors.ErrResourceConflict)
}

func TestDiffPurgeClearsExistingOutDir(t *testing.T) {
	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "stale.diff"), []byte("x"), 0o644))

	old := &mapLocator{name: "old", docs: map[string]hubtypes.Document{}}
	newLoc := &mapLocator{name: "new", docs: map[string]hubtypes.Document{"1": {"_id": "1"}}}

	meta, err := Diff(context.Background(), old, newLoc, outDir, 10, []Step{StepContent}, PurgePurge, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Stats.Add)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "stale.diff", e.Name())
	}
}

func TestMarkSyncedPersists(t *testing.T) {
	outDir := t.TempDir()
	old := &mapLocator{name: "old", docs: map[string]hubtypes.Document{}}
	newLoc := &mapLocator{name: "new", docs: map[string]hubtypes.Document{"1": {"_id": "1"}}}

	meta, err := Diff(context.Background(), old, newLoc, outDir, 10, []Step{StepCount}, PurgeKeep, nil)
	require.NoError(t, err)

	require.NoError(t, MarkSynced(outDir, meta, "mongo"))

	reread, err := ReadMetadata(outDir)
	require.NoError(t, err)
	assert.True(t, reread.Synced["mongo"])
}
