package builder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/biohub-dev/biohub/internal/hubdb"
	"github.com/biohub-dev/biohub/internal/hubtypes"
	"github.com/biohub-dev/biohub/internal/jobmanager"
	"github.com/biohub-dev/biohub/internal/store/sqlitestore"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b, _ := newTestBuilderWithDB(t)
	return b
}

func newTestBuilderWithDB(t *testing.T) (*Builder, *hubdb.DB) {
	t.Helper()
	backend, err := sqlitestore.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	db, err := hubdb.Open(context.Background(), filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	jobs := jobmanager.New(zap.NewNop(), 2, 2, 0, "")
	t.Cleanup(func() { _ = jobs.Shutdown(context.Background()) })

	return New(zap.NewNop(), backend, backend, db.Builds(10), db.Sources(), jobs), db
}

func seed(t *testing.T, b *Builder, name string, docs ...hubtypes.Document) {
	t.Helper()
	store, err := b.Sources.Open(context.Background(), name)
	require.NoError(t, err)
	_, err = store.Insert(context.Background(), docs)
	require.NoError(t, err)
}

func TestMergeRootThenNonRootEnrichesDocuments(t *testing.T) {
	b := newTestBuilder(t)
	seed(t, b, "gene", hubtypes.Document{"_id": "1", "symbol": "BRCA1"}, hubtypes.Document{"_id": "2", "symbol": "TP53"})
	seed(t, b, "variant", hubtypes.Document{"_id": "1", "variants": []any{"rs1"}}, hubtypes.Document{"_id": "3", "variants": []any{"rs2"}})

	run, err := b.Merge(context.Background(), []string{"gene", "variant"}, "demo_build", []string{"^gene$"}, false)
	require.NoError(t, err)
	assert.Equal(t, hubtypes.StatusSuccess, run.Status)
	assert.Equal(t, 2, run.SrcCounts["gene"])
	assert.Equal(t, 1, run.SrcCounts["variant"], "non-root merge only touches ids already present from root")

	target, err := b.Target.Open(context.Background(), "demo_build")
	require.NoError(t, err)

	doc, found, err := target.FindByID(context.Background(), "1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "BRCA1", doc["symbol"])
	assert.Equal(t, []any{"rs1"}, doc["variants"])

	_, found, err = target.FindByID(context.Background(), "3")
	require.NoError(t, err)
	assert.False(t, found, "non-root source must never introduce a new document")
}

func TestMergeWithoutForceBlocksRerunAfterSuccess(t *testing.T) {
	b := newTestBuilder(t)
	seed(t, b, "gene", hubtypes.Document{"_id": "1"})

	_, err := b.Merge(context.Background(), []string{"gene"}, "demo_build", nil, false)
	require.NoError(t, err)

	_, err = b.Merge(context.Background(), []string{"gene"}, "demo_build", nil, false)
	require.Error(t, err)
}

func TestMergeForceAllowsRerun(t *testing.T) {
	b := newTestBuilder(t)
	seed(t, b, "gene", hubtypes.Document{"_id": "1"})

	_, err := b.Merge(context.Background(), []string{"gene"}, "demo_build", nil, false)
	require.NoError(t, err)

	_, err = b.Merge(context.Background(), []string{"gene"}, "demo_build", nil, true)
	require.NoError(t, err)
}

func TestMergeRecordsSrcVersionsFromDumpRecords(t *testing.T) {
	b, db := newTestBuilderWithDB(t)
	seed(t, b, "gene", hubtypes.Document{"_id": "1", "symbol": "BRCA1"})
	require.NoError(t, db.Sources().Upsert(context.Background(), &hubdb.Source{
		ID:       "gene",
		Download: hubtypes.DownloadState{Status: hubtypes.StatusSuccess, Release: "2024.01.01"},
	}))

	run, err := b.Merge(context.Background(), []string{"gene"}, "demo_build", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "2024.01.01", run.SrcVersions["gene"])
}

func TestMergeFallsBackToUnknownReleaseWithoutDumpRecord(t *testing.T) {
	b := newTestBuilder(t)
	seed(t, b, "gene", hubtypes.Document{"_id": "1", "symbol": "BRCA1"})

	run, err := b.Merge(context.Background(), []string{"gene"}, "demo_build", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "unknown", run.SrcVersions["gene"])
}

func TestMetaAlwaysCopiesFromRun(t *testing.T) {
	run := hubdb.BuildRun{
		SrcVersions: map[string]string{"gene": "2024.01.01"},
		SrcCounts:   map[string]int{"gene": 42},
		TargetName:  "demo_build",
	}
	meta := Meta(run)
	assert.Equal(t, run.SrcVersions, meta["src_version"])
	assert.Equal(t, run.SrcCounts, meta["stats"])
	assert.Equal(t, "demo_build", meta["build_version"])
}
