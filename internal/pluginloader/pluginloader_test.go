package pluginloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/biohub-dev/biohub/internal/hubdb"
	"github.com/biohub-dev/biohub/internal/pluginhost"
)

const demoManifest = `{
	"display_name": "demo source",
	"dumper": {"data_url": "https://example.com/demo/data.tsv"},
	"uploader": {"parser": "parser:Load", "on_duplicates": "ignore"}
}`

const demoParser = `package parser

func Load(dataPath string, kwargs map[string]any) ([]map[string]any, error) {
	return []map[string]any{{"_id": "1"}, {"_id": "2"}}, nil
}
`

func writePlugin(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(demoManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parser.go"), []byte(demoParser), 0o644))
	return dir
}

func openTestLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	root := t.TempDir()
	db, err := hubdb.Open(context.Background(), filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	loader := New(zap.NewNop(), pluginhost.NewYaegiHost(), db.Plugins(), root)
	return loader, root
}

func TestDiscoverRegistersUnseenPluginDirs(t *testing.T) {
	loader, root := openTestLoader(t)
	writePlugin(t, root, "demo")

	dirs, err := loader.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, dirs, 1)

	rec, found, err := loader.Plugins.Get(context.Background(), "demo")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "local", rec.Type)
	assert.True(t, rec.Active)
}

func TestDiscoverSkipsAlreadyRegisteredPlugin(t *testing.T) {
	loader, root := openTestLoader(t)
	writePlugin(t, root, "demo")

	_, err := loader.Discover(context.Background())
	require.NoError(t, err)

	dirs, err := loader.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, dirs, 1, "discover should be idempotent about which dirs it finds")
}

func TestLoadResolvesParserAndBuildsSources(t *testing.T) {
	loader, root := openTestLoader(t)
	dir := writePlugin(t, root, "demo")

	loaded, err := loader.Load(context.Background(), "demo", dir, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/demo/data.tsv", loaded.Dump.URI)
	require.Len(t, loaded.Upload.SubSources, 1)

	seq, err := loaded.Upload.SubSources[0].Parser("/data/demo", nil)
	require.NoError(t, err)
	var count int
	for range seq {
		count++
	}
	assert.Equal(t, 2, count)
}

func TestLoadRenamesToCanonicalDisplayName(t *testing.T) {
	loader, root := openTestLoader(t)
	dir := writePlugin(t, root, "registered_id")

	_, err := loader.Discover(context.Background())
	require.NoError(t, err)

	loaded, err := loader.Load(context.Background(), "registered_id", dir, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "demo_source", loaded.ID)

	_, found, err := loader.Plugins.Get(context.Background(), "demo_source")
	require.NoError(t, err)
	assert.True(t, found)

	_, found, err = loader.Plugins.Get(context.Background(), "registered_id")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFetchGitHubOriginRejectsMalformedRepo(t *testing.T) {
	loader, _ := openTestLoader(t)

	_, err := loader.FetchGitHubOrigin(context.Background(), "not-an-owner-repo")
	require.Error(t, err)
}
