package pluginhost

import (
	"fmt"
	"iter"
	"plugin"

	"github.com/biohub-dev/biohub/internal/hubtypes"
	"github.com/biohub-dev/biohub/internal/uploader"
)

// NativeHost loads a plugin's hooks from a prebuilt plugin.Plugin (.so)
// built from the plugin's own Go module, for plugins that ship compiled
// code rather than interpretable source. This is the corpus's plugin.Plugin
// idiom applied to manifest-declared parser/release symbol names; stdlib
// "plugin" is used directly here because no example repo in the pack
// wraps it — there is nothing to ground a wrapper library on (see
// DESIGN.md).
type NativeHost struct{}

func NewNativeHost() *NativeHost { return &NativeHost{} }

func (h *NativeHost) LoadParser(path, symbolName string) (uploader.Parser, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pluginhost: open %s: %w", path, err)
	}
	sym, err := p.Lookup(symbolName)
	if err != nil {
		return nil, fmt.Errorf("pluginhost: lookup %s in %s: %w", symbolName, path, err)
	}
	fn, ok := sym.(func(string, map[string]any) ([]map[string]any, error))
	if !ok {
		return nil, fmt.Errorf("pluginhost: %s in %s has the wrong signature for a parser", symbolName, path)
	}
	return func(dataPath string, kwargs map[string]any) (iter.Seq[hubtypes.Document], error) {
		docs, err := fn(dataPath, kwargs)
		if err != nil {
			return nil, err
		}
		return func(yield func(hubtypes.Document) bool) {
			for _, d := range docs {
				if !yield(hubtypes.Document(d)) {
					return
				}
			}
		}, nil
	}, nil
}

func (h *NativeHost) LoadRelease(path, symbolName string) (ReleaseFunc, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pluginhost: open %s: %w", path, err)
	}
	sym, err := p.Lookup(symbolName)
	if err != nil {
		return nil, fmt.Errorf("pluginhost: lookup %s in %s: %w", symbolName, path, err)
	}
	fn, ok := sym.(func(string) (string, error))
	if !ok {
		return nil, fmt.Errorf("pluginhost: %s in %s has the wrong signature for a release hook", symbolName, path)
	}
	return ReleaseFunc(fn), nil
}
