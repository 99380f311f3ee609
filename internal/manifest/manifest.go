// Package manifest parses and validates data-plugin manifests
// (manifest.json / manifest.yaml) into the declarative shape the plugin
// loader turns into dumper/uploader factory closures.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"gopkg.in/yaml.v3"

	"github.com/biohub-dev/biohub/internal/huberrors"
)

// OnDuplicates names the uploader's duplicate-id policy.
type OnDuplicates string

const (
	OnDuplicatesError  OnDuplicates = "error"
	OnDuplicatesIgnore OnDuplicates = "ignore"
	OnDuplicatesMerge  OnDuplicates = "merge"
)

// DumperSpec is the manifest's `dumper` section.
type DumperSpec struct {
	DataURL    StringOrSlice `json:"data_url" yaml:"data_url"`
	Release    string        `json:"release,omitempty" yaml:"release,omitempty"`
	Schedule   string        `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Uncompress bool          `json:"uncompress,omitempty" yaml:"uncompress,omitempty"`
	Disabled   bool          `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Class      string        `json:"class,omitempty" yaml:"class,omitempty"`
}

// StringOrSlice accepts a manifest field written as either a single
// string or an array of strings (data_url's documented shape).
type StringOrSlice []string

func (s *StringOrSlice) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringOrSlice{single}
		return nil
	}
	var multi []string
	if err := json.Unmarshal(data, &multi); err != nil {
		return fmt.Errorf("expected a string or an array of strings: %w", err)
	}
	*s = StringOrSlice(multi)
	return nil
}

// UploaderSpec is one manifest `uploader`/`uploaders[]` entry.
type UploaderSpec struct {
	Name         string         `json:"name,omitempty" yaml:"name,omitempty"`
	Parser       string         `json:"parser" yaml:"parser"`
	ParserKwargs map[string]any `json:"parser_kwargs,omitempty" yaml:"parser_kwargs,omitempty"`
	OnDuplicates OnDuplicates   `json:"on_duplicates,omitempty" yaml:"on_duplicates,omitempty"`
	Keylookup    map[string]any `json:"keylookup,omitempty" yaml:"keylookup,omitempty"`
	Parallelizer string         `json:"parallelizer,omitempty" yaml:"parallelizer,omitempty"`
	Mapping      string         `json:"mapping,omitempty" yaml:"mapping,omitempty"`
}

// Manifest is the fully parsed, validated plugin manifest.
type Manifest struct {
	ID           string         `json:"-" yaml:"-"`
	DisplayName  string         `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	BiothingType string         `json:"biothing_type,omitempty" yaml:"biothing_type,omitempty"`
	Requires     []string       `json:"requires,omitempty" yaml:"requires,omitempty"`
	Dumper       *DumperSpec    `json:"dumper,omitempty" yaml:"dumper,omitempty"`
	Uploader     *UploaderSpec  `json:"uploader,omitempty" yaml:"uploader,omitempty"`
	Uploaders    []UploaderSpec `json:"uploaders,omitempty" yaml:"uploaders,omitempty"`
}

// AllUploaders normalizes the single-uploader and multi-uploader forms
// into one slice.
func (m *Manifest) AllUploaders() []UploaderSpec {
	if m.Uploader != nil {
		return []UploaderSpec{*m.Uploader}
	}
	return m.Uploaders
}

// ParseJSON parses and validates a manifest.json payload.
func ParseJSON(data []byte) (*Manifest, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("manifest: invalid json: %w", err)
	}
	if err := validateRaw(raw); err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: invalid json: %w", err)
	}
	return &m, nil
}

// ParseYAML parses and validates a manifest.yaml payload.
func ParseYAML(data []byte) (*Manifest, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("manifest: invalid yaml: %w", err)
	}
	normalized := normalizeYAMLMap(raw)
	if err := validateRaw(normalized); err != nil {
		return nil, err
	}
	jsonBytes, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("manifest: re-encode yaml as json: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(jsonBytes, &m); err != nil {
		return nil, fmt.Errorf("manifest: invalid manifest shape: %w", err)
	}
	return &m, nil
}

// normalizeYAMLMap recursively converts map[string]interface{} keyed by
// yaml.v3's default map[string]interface{} (already string-keyed for
// string scalar keys) so json.Marshal never chokes on an unexpected key
// type produced by nested yaml mappings.
func normalizeYAMLMap(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = normalizeYAMLMap(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalizeYAMLMap(vv)
		}
		return out
	default:
		return val
	}
}

// validateRaw applies the manifest's structural rules, reporting the
// first violation as a huberrors.PluginSpecError carrying the offending
// field's JSON-pointer-style path.
func validateRaw(raw map[string]any) error {
	_, hasDumper := raw["dumper"]
	_, hasUploader := raw["uploader"]
	_, hasUploaders := raw["uploaders"]

	if !hasDumper && !hasUploader && !hasUploaders {
		return huberrors.NewPluginSpecError(huberrorsMissing(), "/", "manifest must declare at least one of dumper, uploader, uploaders")
	}

	if hasUploader && hasUploaders {
		return huberrors.NewPluginSpecError(huberrorsExclusive(), "/uploader", "uploader and uploaders are mutually exclusive")
	}

	if hasDumper {
		dumper, ok := raw["dumper"].(map[string]any)
		if !ok {
			return huberrors.NewPluginSpecError(huberrorsType(), "/dumper", "dumper must be an object")
		}
		if err := validateDumper(dumper); err != nil {
			return err
		}
	}

	if hasUploader {
		uploader, ok := raw["uploader"].(map[string]any)
		if !ok {
			return huberrors.NewPluginSpecError(huberrorsType(), "/uploader", "uploader must be an object")
		}
		if err := validateUploader(uploader, "/uploader"); err != nil {
			return err
		}
	}

	if hasUploaders {
		list, ok := raw["uploaders"].([]any)
		if !ok {
			return huberrors.NewPluginSpecError(huberrorsType(), "/uploaders", "uploaders must be an array")
		}
		if len(list) == 0 {
			return huberrors.NewPluginSpecError(huberrorsMinItems(), "/uploaders", "uploaders must not be empty")
		}
		for i, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				return huberrors.NewPluginSpecError(huberrorsType(), fmt.Sprintf("/uploaders/%d", i), "uploader entry must be an object")
			}
			if _, ok := entry["name"]; !ok {
				return huberrors.NewPluginSpecError(huberrorsMissing(), fmt.Sprintf("/uploaders/%d/name", i), "each uploaders[] entry requires a name")
			}
			if err := validateUploader(entry, fmt.Sprintf("/uploaders/%d", i)); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateDumper(dumper map[string]any) error {
	dataURL, ok := dumper["data_url"]
	if !ok {
		return huberrors.NewPluginSpecError(huberrorsMissing(), "/dumper/data_url", "dumper requires data_url")
	}
	urls, err := asStringSlice(dataURL)
	if err != nil || len(urls) == 0 {
		return huberrors.NewPluginSpecError(huberrorsType(), "/dumper/data_url", "data_url must be a string or a non-empty array of strings")
	}
	scheme, err := schemeOf(urls[0])
	if err != nil {
		return huberrors.NewPluginSpecError(huberrorsEnum(), "/dumper/data_url", err.Error())
	}
	for _, u := range urls[1:] {
		s, err := schemeOf(u)
		if err != nil || s != scheme {
			return huberrors.NewPluginSpecError(huberrorsEnum(), "/dumper/data_url", "all data_url entries must share one scheme")
		}
	}
	return nil
}

func validateUploader(uploader map[string]any, path string) error {
	parser, ok := uploader["parser"]
	if !ok {
		return huberrors.NewPluginSpecError(huberrorsMissing(), path+"/parser", "uploader requires parser")
	}
	parserStr, ok := parser.(string)
	if !ok || !strings.Contains(parserStr, ":") {
		return huberrors.NewPluginSpecError(huberrorsType(), path+"/parser", `parser must be "module:function"`)
	}
	if raw, ok := uploader["on_duplicates"]; ok {
		s, ok := raw.(string)
		if !ok {
			return huberrors.NewPluginSpecError(huberrorsType(), path+"/on_duplicates", "on_duplicates must be a string")
		}
		switch OnDuplicates(s) {
		case OnDuplicatesError, OnDuplicatesIgnore, OnDuplicatesMerge:
		default:
			return huberrors.NewPluginSpecError(huberrorsEnum(), path+"/on_duplicates", `on_duplicates must be one of "error", "ignore", "merge"`)
		}
	}
	return nil
}

func asStringSlice(v any) ([]string, error) {
	switch val := v.(type) {
	case string:
		return []string{val}, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string entries")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or array of strings")
	}
}

func schemeOf(rawURL string) (string, error) {
	idx := strings.Index(rawURL, "://")
	if idx == -1 {
		return "", fmt.Errorf("data_url %q has no scheme", rawURL)
	}
	scheme := rawURL[:idx]
	switch scheme {
	case "http", "https", "ftp", "docker", "git", "file":
		return scheme, nil
	default:
		return "", fmt.Errorf("data_url %q uses unsupported scheme %q", rawURL, scheme)
	}
}

// ResolveTemplate resolves $-prefixed JSONPath expressions embedded in a
// parser_kwargs value against the already-parsed manifest document,
// letting a plugin's uploader kwargs reference sibling manifest fields
// (e.g. "$.dumper.release").
func ResolveTemplate(manifestDoc map[string]any, expr string) (any, error) {
	if !strings.HasPrefix(expr, "$") {
		return expr, nil
	}
	v, err := jsonpath.Get(expr, manifestDoc)
	if err != nil {
		return nil, fmt.Errorf("manifest: resolve template %q: %w", expr, err)
	}
	return v, nil
}

func huberrorsMissing() huberrors.PluginSpecSubcategory   { return huberrors.SubcategoryMissing }
func huberrorsExclusive() huberrors.PluginSpecSubcategory { return huberrors.SubcategoryExclusive }
func huberrorsType() huberrors.PluginSpecSubcategory       { return huberrors.SubcategoryType }
func huberrorsMinItems() huberrors.PluginSpecSubcategory   { return huberrors.SubcategoryMinItems }
func huberrorsEnum() huberrors.PluginSpecSubcategory       { return huberrors.SubcategoryEnum }
