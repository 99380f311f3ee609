package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biohub-dev/biohub/internal/huberrors"
)

func TestParseJSONValidManifest(t *testing.T) {
	data := []byte(`{
		"display_name": "Demo",
		"dumper": {"data_url": "https://example.com/demo/data.tsv"},
		"uploader": {"parser": "parser:load", "on_duplicates": "merge"}
	}`)
	m, err := ParseJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "Demo", m.DisplayName)
	require.NotNil(t, m.Dumper)
	assert.Equal(t, StringOrSlice{"https://example.com/demo/data.tsv"}, m.Dumper.DataURL)
	require.Len(t, m.AllUploaders(), 1)
	assert.Equal(t, "parser:load", m.AllUploaders()[0].Parser)
	assert.Equal(t, OnDuplicatesMerge, m.AllUploaders()[0].OnDuplicates)
}

func TestParseYAMLValidManifest(t *testing.T) {
	data := []byte(`
display_name: Demo
dumper:
  data_url: https://example.com/demo/data.tsv
uploaders:
  - name: main
    parser: parser:load
  - name: extra
    parser: parser:load_extra
`)
	m, err := ParseYAML(data)
	require.NoError(t, err)
	require.Len(t, m.Uploaders, 2)
	assert.Equal(t, "main", m.Uploaders[0].Name)
	assert.Equal(t, "extra", m.Uploaders[1].Name)
}

func TestParseRejectsMutuallyExclusiveUploaderForms(t *testing.T) {
	data := []byte(`{
		"dumper": {"data_url": "https://example.com/d"},
		"uploader": {"parser": "p:f"},
		"uploaders": [{"name": "x", "parser": "p:f"}]
	}`)
	_, err := ParseJSON(data)
	require.Error(t, err)
	var specErr *huberrors.PluginSpecError
	require.True(t, errors.As(err, &specErr))
	assert.Equal(t, huberrors.SubcategoryExclusive, specErr.Subcategory)
}

func TestParseRejectsMissingRequiredProperty(t *testing.T) {
	data := []byte(`{"dumper": {"data_url": "https://example.com/d"}, "uploader": {}}`)
	_, err := ParseJSON(data)
	require.Error(t, err)
	var specErr *huberrors.PluginSpecError
	require.True(t, errors.As(err, &specErr))
	assert.Equal(t, huberrors.SubcategoryMissing, specErr.Subcategory)
	assert.Equal(t, "/uploader/parser", specErr.Path)
}

func TestParseRejectsMixedURLSchemes(t *testing.T) {
	data := []byte(`{
		"dumper": {"data_url": ["https://example.com/a", "ftp://example.com/b"]},
		"uploader": {"parser": "p:f"}
	}`)
	_, err := ParseJSON(data)
	require.Error(t, err)
	var specErr *huberrors.PluginSpecError
	require.True(t, errors.As(err, &specErr))
	assert.Equal(t, huberrors.SubcategoryEnum, specErr.Subcategory)
}

func TestParseRejectsInvalidOnDuplicates(t *testing.T) {
	data := []byte(`{
		"dumper": {"data_url": "https://example.com/d"},
		"uploader": {"parser": "p:f", "on_duplicates": "explode"}
	}`)
	_, err := ParseJSON(data)
	require.Error(t, err)
	var specErr *huberrors.PluginSpecError
	require.True(t, errors.As(err, &specErr))
	assert.Equal(t, huberrors.SubcategoryEnum, specErr.Subcategory)
}

func TestParseRejectsEmptyUploadersArray(t *testing.T) {
	data := []byte(`{"dumper": {"data_url": "https://example.com/d"}, "uploaders": []}`)
	_, err := ParseJSON(data)
	require.Error(t, err)
	var specErr *huberrors.PluginSpecError
	require.True(t, errors.As(err, &specErr))
	assert.Equal(t, huberrors.SubcategoryMinItems, specErr.Subcategory)
}

func TestResolveTemplatePassesThroughNonExpression(t *testing.T) {
	v, err := ResolveTemplate(map[string]any{}, "literal-value")
	require.NoError(t, err)
	assert.Equal(t, "literal-value", v)
}

func TestResolveTemplateResolvesJSONPath(t *testing.T) {
	doc := map[string]any{"dumper": map[string]any{"release": "2024.01.01"}}
	v, err := ResolveTemplate(doc, "$.dumper.release")
	require.NoError(t, err)
	assert.Equal(t, "2024.01.01", v)
}
