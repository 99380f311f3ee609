package hubdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biohub-dev/biohub/internal/hubtypes"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hub.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCollectionInsertFindReplace(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	col := db.Collection(CollectionSrcDump)

	doc := hubtypes.Document{"_id": "gene", "download": map[string]any{"status": "success"}}
	require.NoError(t, col.InsertOne(ctx, doc))

	got, ok, err := col.FindOne(ctx, Filter{"_id": "gene"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "success", got["download"].(map[string]any)["status"])

	doc2 := hubtypes.Document{"_id": "gene", "download": map[string]any{"status": "failed"}}
	require.NoError(t, col.ReplaceOne(ctx, Filter{"_id": "gene"}, doc2))

	got, ok, err = col.FindOne(ctx, Filter{"_id": "gene"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "failed", got["download"].(map[string]any)["status"])
}

func TestCollectionInsertDuplicateID(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	col := db.Collection(CollectionSrcDump)

	require.NoError(t, col.InsertOne(ctx, hubtypes.Document{"_id": "gene"}))
	err := col.InsertOne(ctx, hubtypes.Document{"_id": "gene"})
	assert.Error(t, err)
}

func TestCollectionFindFilterAndOrdering(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	col := db.Collection(CollectionSrcDump)

	require.NoError(t, col.InsertOne(ctx, hubtypes.Document{"_id": "zeta", "kind": "a"}))
	require.NoError(t, col.InsertOne(ctx, hubtypes.Document{"_id": "alpha", "kind": "a"}))
	require.NoError(t, col.InsertOne(ctx, hubtypes.Document{"_id": "middle", "kind": "b"}))

	all, err := col.Find(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"alpha", "middle", "zeta"}, []string{all[0].ID(), all[1].ID(), all[2].ID()})

	filtered, err := col.Find(ctx, Filter{"kind": "a"})
	require.NoError(t, err)
	require.Len(t, filtered, 2)
}

func TestCollectionRemoveAndCount(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	col := db.Collection(CollectionSrcDump)

	require.NoError(t, col.InsertOne(ctx, hubtypes.Document{"_id": "a"}))
	require.NoError(t, col.InsertOne(ctx, hubtypes.Document{"_id": "b"}))

	n, err := col.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	removed, err := col.Remove(ctx, Filter{"_id": "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	n, err = col.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdateOneMutationOperators(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	col := db.Collection(CollectionSrcDump)

	require.NoError(t, col.InsertOne(ctx, hubtypes.Document{
		"_id":  "gene",
		"tags": []any{"a"},
	}))

	err := col.UpdateOne(ctx, Filter{"_id": "gene"}, Mutation{
		Set:      map[string]any{"download.status": "success"},
		Push:     map[string]any{"tags": "b"},
		AddToSet: map[string]any{"tags": "a"}, // already present, no-op
	}, false)
	require.NoError(t, err)

	doc, ok, err := col.FindOne(ctx, Filter{"_id": "gene"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "success", doc["download"].(map[string]any)["status"])
	assert.ElementsMatch(t, []any{"a", "b"}, doc["tags"])

	err = col.UpdateOne(ctx, Filter{"_id": "gene"}, Mutation{
		Unset: []string{"download.status"},
		Pop:   map[string]int{"tags": 1},
	}, false)
	require.NoError(t, err)

	doc, _, err = col.FindOne(ctx, Filter{"_id": "gene"})
	require.NoError(t, err)
	_, hasStatus := doc["download"].(map[string]any)["status"]
	assert.False(t, hasStatus)
	assert.Len(t, doc["tags"], 1)
}

func TestUpdateOneUpsert(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	col := db.Collection(CollectionSrcDump)

	err := col.UpdateOne(ctx, Filter{"_id": "new-source"}, Mutation{
		Set: map[string]any{"download.status": "idle"},
	}, true)
	require.NoError(t, err)

	doc, ok, err := col.FindOne(ctx, Filter{"_id": "new-source"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "idle", doc["download"].(map[string]any)["status"])
}

func TestUpdateOneNoMatchNoUpsertErrors(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	col := db.Collection(CollectionSrcDump)

	err := col.UpdateOne(ctx, Filter{"_id": "missing"}, Mutation{Set: map[string]any{"x": 1}}, false)
	assert.Error(t, err)
}

func TestSourceRepoUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := db.Sources()

	src := &Source{ID: "gene", Download: hubtypes.DownloadState{Status: hubtypes.StatusIdle}}
	require.NoError(t, repo.Upsert(ctx, src))

	got, ok, err := repo.Get(ctx, "gene")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hubtypes.StatusIdle, got.Download.Status)

	got.Download.Status = hubtypes.StatusSuccess
	require.NoError(t, repo.Upsert(ctx, got))

	got, _, err = repo.Get(ctx, "gene")
	require.NoError(t, err)
	assert.Equal(t, hubtypes.StatusSuccess, got.Download.Status)
}

func TestBuildRepoAppendRunCapsHistory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := db.Builds(2)

	cfg := &BuildConfig{ID: "mygene", Sources: []string{"gene", "refseq"}}
	require.NoError(t, repo.AppendRun(ctx, cfg, BuildRun{Status: hubtypes.StatusSuccess}))

	cfg, ok, err := repo.Get(ctx, "mygene")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.AppendRun(ctx, cfg, BuildRun{Status: hubtypes.StatusFailed}))
	cfg, _, _ = repo.Get(ctx, "mygene")
	require.NoError(t, repo.AppendRun(ctx, cfg, BuildRun{Status: hubtypes.StatusSuccess}))

	cfg, ok, err = repo.Get(ctx, "mygene")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, cfg.Build, 2)
	assert.Equal(t, hubtypes.StatusFailed, cfg.Build[0].Status)
	assert.Equal(t, hubtypes.StatusSuccess, cfg.Build[1].Status)
}

func TestPluginRepoRename(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := db.Plugins()

	require.NoError(t, repo.Upsert(ctx, &PluginRecord{ID: "my-plugin", URL: "https://example.test/plugin", Type: "github"}))
	require.NoError(t, repo.Rename(ctx, "my-plugin", "mygene_info"))

	_, ok, err := repo.Get(ctx, "my-plugin")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := repo.Get(ctx, "mygene_info")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://example.test/plugin", got.URL)
}

func TestCommandHistoryRepoAppendAndAll(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := db.CommandHistory()

	require.NoError(t, repo.Append(ctx, CommandHistoryEntry{ID: "1", Command: "dump", Args: []string{"gene"}, Actor: "operator"}))
	require.NoError(t, repo.Append(ctx, CommandHistoryEntry{ID: "2", Command: "build", Error: "boom"}))

	entries, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "dump", entries[0].Command)
	assert.Equal(t, "boom", entries[1].Error)
}

func TestEventRepoAppendAndAll(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := db.Events()

	require.NoError(t, repo.Append(ctx, Event{ID: "1", Category: "dump", Source: "gene", Status: string(hubtypes.StatusSuccess)}))

	events, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "gene", events[0].Source)
}

func TestOpenRejectsSecondConcurrentOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	_, err = Open(context.Background(), path)
	require.Error(t, err)
}
