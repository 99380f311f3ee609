package jsonpatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biohub-dev/biohub/internal/hubtypes"
)

func TestDiffAndApplyRoundTrip(t *testing.T) {
	old := hubtypes.Document{"_id": "1", "symbol": "BRCA1", "taxid": float64(9606)}
	newDoc := hubtypes.Document{"_id": "1", "symbol": "BRCA1-renamed", "taxid": float64(9606)}

	patch, err := Diff(old, newDoc, nil)
	require.NoError(t, err)
	assert.False(t, IsEmpty(patch))

	applied, err := Apply(old, patch)
	require.NoError(t, err)
	assert.Equal(t, "BRCA1-renamed", applied["symbol"])
}

func TestDiffExcludesConfiguredPaths(t *testing.T) {
	old := hubtypes.Document{"_id": "1", "symbol": "BRCA1", "_timestamp": "2026-01-01"}
	newDoc := hubtypes.Document{"_id": "1", "symbol": "BRCA1", "_timestamp": "2026-07-31"}

	patch, err := Diff(old, newDoc, []string{"_timestamp"})
	require.NoError(t, err)
	assert.True(t, IsEmpty(patch))
}

func TestDiffExcludesNestedPath(t *testing.T) {
	old := hubtypes.Document{"_id": "1", "meta": map[string]any{"build": "1", "symbol": "BRCA1"}}
	newDoc := hubtypes.Document{"_id": "1", "meta": map[string]any{"build": "2", "symbol": "BRCA1"}}

	patch, err := Diff(old, newDoc, []string{"meta.build"})
	require.NoError(t, err)
	assert.True(t, IsEmpty(patch))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty([]byte("{}")))
	assert.True(t, IsEmpty([]byte("null")))
	assert.True(t, IsEmpty(nil))
	assert.False(t, IsEmpty([]byte(`{"symbol":"X"}`)))
}
