package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biohub-dev/biohub/internal/hubtypes"
)

func openTestStore(t *testing.T, name string) *Store {
	t.Helper()
	backend, err := Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	s, err := backend.Open(context.Background(), name)
	require.NoError(t, err)
	return s.(*Store)
}

func TestStoreInsertFindCount(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "gene")

	n, err := s.Insert(ctx, []hubtypes.Document{
		{"_id": "1", "symbol": "BRCA1"},
		{"_id": "2", "symbol": "TP53"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	doc, ok, err := s.FindByID(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BRCA1", doc["symbol"])

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStoreInsertDuplicateFails(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "gene")

	_, err := s.Insert(ctx, []hubtypes.Document{{"_id": "1"}})
	require.NoError(t, err)

	_, err = s.Insert(ctx, []hubtypes.Document{{"_id": "1"}})
	assert.Error(t, err)
}

func TestStoreUpsertInsertsAndReplaces(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "gene")

	_, err := s.Upsert(ctx, []hubtypes.Document{{"_id": "1", "symbol": "BRCA1"}})
	require.NoError(t, err)

	_, err = s.Upsert(ctx, []hubtypes.Document{{"_id": "1", "symbol": "BRCA1-updated"}})
	require.NoError(t, err)

	doc, _, err := s.FindByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "BRCA1-updated", doc["symbol"])
}

func TestStoreUpdateSkipsMissingDocuments(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "gene")

	_, err := s.Insert(ctx, []hubtypes.Document{{"_id": "1", "symbol": "BRCA1"}})
	require.NoError(t, err)

	updated, err := s.Update(ctx, []hubtypes.Document{
		{"_id": "1", "symbol": "BRCA1-v2"},
		{"_id": "does-not-exist", "symbol": "nope"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	_, ok, err := s.FindByID(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreRemoveAndAll(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "gene")

	_, err := s.Insert(ctx, []hubtypes.Document{{"_id": "1"}, {"_id": "2"}, {"_id": "3"}})
	require.NoError(t, err)

	removed, err := s.Remove(ctx, []string{"2"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	var ids []string
	for doc, err := range s.All(ctx) {
		require.NoError(t, err)
		ids = append(ids, doc.ID())
	}
	assert.ElementsMatch(t, []string{"1", "3"}, ids)
}

func TestStoreRenameTo(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "gene_tmp")

	_, err := s.Insert(ctx, []hubtypes.Document{{"_id": "1"}})
	require.NoError(t, err)

	require.NoError(t, s.RenameTo(ctx, "gene"))
	assert.Equal(t, "gene", s.Name())

	doc, ok, err := s.FindByID(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", doc.ID())
}

func TestBackendListCollections(t *testing.T) {
	ctx := context.Background()
	backend, err := Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	for _, name := range []string{"gene", "gene_archive_1_aaaa", "gene_archive_2_bbbb", "variant"} {
		_, err := backend.Open(ctx, name)
		require.NoError(t, err)
	}

	names, err := backend.ListCollections(ctx, "gene_archive_")
	require.NoError(t, err)
	assert.Equal(t, []string{"gene_archive_1_aaaa", "gene_archive_2_bbbb"}, names)

	exact, err := backend.ListCollections(ctx, "gene")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gene", "gene_archive_1_aaaa", "gene_archive_2_bbbb"}, exact)
}
