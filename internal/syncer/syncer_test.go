package syncer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biohub-dev/biohub/internal/differ"
	"github.com/biohub-dev/biohub/internal/hubtypes"
	"github.com/biohub-dev/biohub/internal/jsonpatch"
)

type fakeBackend struct {
	name string
	docs map[string]hubtypes.Document
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{name: name, docs: map[string]hubtypes.Document{}}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) ApplyAdd(ctx context.Context, docs []hubtypes.Document) error {
	for _, d := range docs {
		f.docs[d.ID()] = d
	}
	return nil
}

func (f *fakeBackend) ApplyDelete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(f.docs, id)
	}
	return nil
}

func (f *fakeBackend) ApplyUpdate(ctx context.Context, id string, patch []byte) error {
	doc := f.docs[id]
	merged, err := jsonpatch.Apply(doc, patch)
	if err != nil {
		return err
	}
	f.docs[id] = merged
	return nil
}

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

func TestSyncAppliesAddsAndSkipsDeletesWithoutPurge(t *testing.T) {
	ctx := context.Background()
	old := &mapLocator{name: "old", docs: map[string]hubtypes.Document{
		"1": {"_id": "1", "symbol": "A"},
	}}
	newLoc := &mapLocator{name: "new", docs: map[string]hubtypes.Document{
		"2": {"_id": "2", "symbol": "B"},
	}}

	dir := t.TempDir()
	_, err := differ.Diff(ctx, old, newLoc, dir, 10, []differ.Step{differ.StepContent}, differ.PurgeKeep, nil)
	require.NoError(t, err)

	backend := newFakeBackend("mongo")
	backend.docs["1"] = hubtypes.Document{"_id": "1", "symbol": "A"}

	stats, err := Sync(ctx, dir, backend, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 0, stats.Deleted)
	assert.Contains(t, backend.docs, "1") // delete not applied without Purge
	assert.Contains(t, backend.docs, "2")
}

func TestSyncPurgeAppliesDeletes(t *testing.T) {
	ctx := context.Background()
	old := &mapLocator{name: "old", docs: map[string]hubtypes.Document{
		"1": {"_id": "1"},
	}}
	newLoc := &mapLocator{name: "new", docs: map[string]hubtypes.Document{}}

	dir := t.TempDir()
	_, err := differ.Diff(ctx, old, newLoc, dir, 10, []differ.Step{differ.StepContent}, differ.PurgeKeep, nil)
	require.NoError(t, err)

	backend := newFakeBackend("mongo")
	backend.docs["1"] = hubtypes.Document{"_id": "1"}

	stats, err := Sync(ctx, dir, backend, Options{Purge: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)
	assert.NotContains(t, backend.docs, "1")
}

func TestSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	old := &mapLocator{name: "old", docs: map[string]hubtypes.Document{}}
	newLoc := &mapLocator{name: "new", docs: map[string]hubtypes.Document{"1": {"_id": "1"}}}

	dir := t.TempDir()
	_, err := differ.Diff(ctx, old, newLoc, dir, 10, []differ.Step{differ.StepContent}, differ.PurgeKeep, nil)
	require.NoError(t, err)

	backend := newFakeBackend("mongo")

	stats, err := Sync(ctx, dir, backend, Options{})
	require.NoError(t, err)
	assert.False(t, stats.SkippedAlreadySynced)

	stats, err = Sync(ctx, dir, backend, Options{})
	require.NoError(t, err)
	assert.True(t, stats.SkippedAlreadySynced)
}

func TestSyncAppliesContentUpdate(t *testing.T) {
	ctx := context.Background()
	old := &mapLocator{name: "old", docs: map[string]hubtypes.Document{
		"1": {"_id": "1", "symbol": "A"},
	}}
	newLoc := &mapLocator{name: "new", docs: map[string]hubtypes.Document{
		"1": {"_id": "1", "symbol": "A-renamed"},
	}}

	dir := t.TempDir()
	_, err := differ.Diff(ctx, old, newLoc, dir, 10, []differ.Step{differ.StepContent}, differ.PurgeKeep, nil)
	require.NoError(t, err)

	backend := newFakeBackend("mongo")
	backend.docs["1"] = hubtypes.Document{"_id": "1", "symbol": "A"}

	stats, err := Sync(ctx, dir, backend, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, "A-renamed", backend.docs["1"]["symbol"])
}
