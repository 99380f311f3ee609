// Package pluginloader turns a plugin directory's manifest into
// executable dumper.Source and uploader.Source values, resolving the
// manifest's parser/release hooks through internal/pluginhost and
// registering the plugin into HubDB's data_plugin collection.
package pluginloader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/biohub-dev/biohub/internal/dumper"
	"github.com/biohub-dev/biohub/internal/hubdb"
	"github.com/biohub-dev/biohub/internal/manifest"
	"github.com/biohub-dev/biohub/internal/pluginhost"
	"github.com/biohub-dev/biohub/internal/storagestrategy"
	"github.com/biohub-dev/biohub/internal/store"
	"github.com/biohub-dev/biohub/internal/uploader"
)

const (
	manifestJSONName = "manifest.json"
	manifestYAMLName = "manifest.yaml"
)

// LoadedPlugin is one plugin's fully resolved runtime shape.
type LoadedPlugin struct {
	ID       string
	Manifest *manifest.Manifest
	Dump     dumper.Source
	Upload   uploader.Source
}

// Loader discovers and loads plugin directories under Root.
type Loader struct {
	Log     *zap.Logger
	Host    pluginhost.Host
	Plugins *hubdb.PluginRepo
	Root    string
}

func New(log *zap.Logger, host pluginhost.Host, plugins *hubdb.PluginRepo, root string) *Loader {
	return &Loader{Log: log, Host: host, Plugins: plugins, Root: root}
}

// Discover walks Root for plugin directories (anything containing a
// manifest.json/manifest.yaml, or an "advanced" package plugin carrying
// its own go.mod) and registers previously unseen ones with origin
// local://<dir>.
func (l *Loader) Discover(ctx context.Context) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(l.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || path == l.Root {
			return nil
		}
		if isPluginDir(path) {
			dirs = append(dirs, path)
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pluginloader: discover %s: %w", l.Root, err)
	}

	for _, dir := range dirs {
		id := filepath.Base(dir)
		_, found, err := l.Plugins.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			continue
		}
		if err := l.Plugins.Upsert(ctx, &hubdb.PluginRecord{
			ID:         id,
			URL:        "local://" + dir,
			Type:       "local",
			Active:     true,
			DataFolder: dir,
		}); err != nil {
			return nil, err
		}
	}
	return dirs, nil
}

func isPluginDir(dir string) bool {
	for _, name := range []string{manifestJSONName, manifestYAMLName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
		if _, err := os.Stat(filepath.Join(dir, "parser.go")); err == nil {
			return true
		}
	}
	return false
}

// Load parses dir's manifest and resolves it into a LoadedPlugin,
// performing the canonical-naming rename against id if the manifest
// declares a different display name than id.
func (l *Loader) Load(ctx context.Context, id, dir, archiveRoot string) (*LoadedPlugin, error) {
	m, err := l.readManifest(dir)
	if err != nil {
		return nil, err
	}

	canonical := canonicalID(id, m)
	if canonical != id {
		if err := l.Plugins.Rename(ctx, id, canonical); err != nil {
			l.Log.Warn("canonical rename failed", zap.String("old_id", id), zap.String("new_id", canonical), zap.Error(err))
		} else {
			l.Log.Info("renamed plugin to canonical id", zap.String("old_id", id), zap.String("new_id", canonical))
			id = canonical
		}
	}

	loaded := &LoadedPlugin{ID: id, Manifest: m}

	if m.Dumper != nil {
		loaded.Dump = dumper.Source{
			Name:        id,
			URI:         m.Dumper.DataURL[0],
			ArchiveRoot: archiveRoot,
			Uncompress:  m.Dumper.Uncompress,
		}
	}

	uploaders := m.AllUploaders()
	if len(uploaders) > 0 {
		subSources := make([]uploader.SubSource, 0, len(uploaders))
		for _, spec := range uploaders {
			spec := spec
			parserPath, funcName, err := resolveHookPath(dir, spec.Parser)
			if err != nil {
				return nil, err
			}
			parse, err := l.Host.LoadParser(parserPath, funcName)
			if err != nil {
				return nil, fmt.Errorf("pluginloader: load parser for %s: %w", id, err)
			}
			name := spec.Name
			if name == "" {
				name = id
			}
			subSources = append(subSources, uploader.SubSource{
				Name:             name,
				Parser:           parse,
				ParserKwargs:     spec.ParserKwargs,
				TargetCollection: name,
				NewStrategy:      strategyFactory(spec.OnDuplicates, l.Log),
			})
		}
		loaded.Upload = uploader.Source{Name: id, SubSources: subSources}
	}

	return loaded, nil
}

func (l *Loader) readManifest(dir string) (*manifest.Manifest, error) {
	if data, err := os.ReadFile(filepath.Join(dir, manifestJSONName)); err == nil {
		return manifest.ParseJSON(data)
	}
	if data, err := os.ReadFile(filepath.Join(dir, manifestYAMLName)); err == nil {
		return manifest.ParseYAML(data)
	}
	return nil, fmt.Errorf("pluginloader: no manifest.json or manifest.yaml in %s", dir)
}

func canonicalID(registeredID string, m *manifest.Manifest) string {
	if m.DisplayName == "" {
		return registeredID
	}
	slug := strings.ToLower(strings.ReplaceAll(m.DisplayName, " ", "_"))
	return slug
}

// resolveHookPath splits a manifest "module:function" reference into a
// source file under dir and the function name to resolve within it.
func resolveHookPath(dir, ref string) (path, funcName string, err error) {
	parts := strings.SplitN(ref, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("pluginloader: hook reference %q is not module:function", ref)
	}
	module := strings.ReplaceAll(parts[0], ".", string(filepath.Separator))
	return filepath.Join(dir, module+".go"), parts[1], nil
}

func strategyFactory(policy manifest.OnDuplicates, log *zap.Logger) func(store.DocumentStore) storagestrategy.Strategy {
	switch policy {
	case manifest.OnDuplicatesIgnore:
		return func(target store.DocumentStore) storagestrategy.Strategy {
			return &storagestrategy.IgnoreDuplicated{Log: log, Target: target}
		}
	case manifest.OnDuplicatesMerge:
		return func(target store.DocumentStore) storagestrategy.Strategy {
			return &storagestrategy.Merge{Log: log, Target: target}
		}
	default:
		return func(target store.DocumentStore) storagestrategy.Strategy {
			return &storagestrategy.Basic{Log: log, Target: target}
		}
	}
}
