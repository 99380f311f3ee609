package inspector

import (
	"context"
	"iter"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biohub-dev/biohub/internal/hubtypes"
)

func seqOf(docs ...hubtypes.Document) iter.Seq[hubtypes.Document] {
	return func(yield func(hubtypes.Document) bool) {
		for _, d := range docs {
			if !yield(d) {
				return
			}
		}
	}
}

func TestInspectTypeModeRecordsScalarTypes(t *testing.T) {
	report, err := Inspect(context.Background(), seqOf(
		hubtypes.Document{"_id": "1", "symbol": "BRCA1", "score": 3.5},
	), TypeMode)
	require.NoError(t, err)
	require.Empty(t, report.Errors)

	symbol := report.Root.Children["symbol"]
	require.NotNil(t, symbol)
	assert.True(t, symbol.Types[TypeString])

	score := report.Root.Children["score"]
	require.NotNil(t, score)
	assert.True(t, score.Types[TypeFloat])
}

func TestInspectDetectsSplitString(t *testing.T) {
	report, err := Inspect(context.Background(), seqOf(
		hubtypes.Document{"_id": "1", "name": "full text value"},
	), TypeMode)
	require.NoError(t, err)
	name := report.Root.Children["name"]
	require.NotNil(t, name)
	assert.True(t, name.Types[TypeSplitStr])
	assert.False(t, name.Types[TypeString])
}

// TestScalarListReconciliationIsOrderIndependent verifies the testable
// property from the original design notes: merging {"k":"v"} with
// {"k":["v"]} in either order yields the same mapping output.
func TestScalarListReconciliationIsOrderIndependent(t *testing.T) {
	scalarFirst, err := Inspect(context.Background(), seqOf(
		hubtypes.Document{"_id": "1", "k": "v"},
		hubtypes.Document{"_id": "2", "k": []any{"v"}},
	), MappingMode)
	require.NoError(t, err)

	listFirst, err := Inspect(context.Background(), seqOf(
		hubtypes.Document{"_id": "1", "k": []any{"v"}},
		hubtypes.Document{"_id": "2", "k": "v"},
	), MappingMode)
	require.NoError(t, err)

	assert.Equal(t, scalarFirst.Mapping, listFirst.Mapping)

	props := scalarFirst.Mapping["properties"].(map[string]any)
	kMapping := props["k"].(map[string]any)
	assert.Equal(t, "keyword", kMapping["type"])
}

func TestInspectRejectsNaNAndInf(t *testing.T) {
	report, err := Inspect(context.Background(), seqOf(
		hubtypes.Document{"_id": "1", "value": math.NaN()},
	), TypeMode)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
}

func TestInspectFlagsMissingID(t *testing.T) {
	report, err := Inspect(context.Background(), seqOf(
		hubtypes.Document{"symbol": "BRCA1"},
	), MappingMode)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
}

func TestInspectFlagsNonStringID(t *testing.T) {
	report, err := Inspect(context.Background(), seqOf(
		hubtypes.Document{"_id": 1.0, "symbol": "BRCA1"},
	), MappingMode)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
}

func TestInspectDeepStatsComputesAggregates(t *testing.T) {
	report, err := Inspect(context.Background(), seqOf(
		hubtypes.Document{"_id": "1", "score": 1.0},
		hubtypes.Document{"_id": "2", "score": 2.0},
		hubtypes.Document{"_id": "3", "score": 3.0},
	), DeepStatsMode)
	require.NoError(t, err)

	score := report.Root.Children["score"]
	require.NotNil(t, score)
	require.NotNil(t, score.Stats)
	assert.Equal(t, 3, score.Stats.Count)
	assert.Equal(t, 1.0, score.Stats.Min)
	assert.Equal(t, 3.0, score.Stats.Max)
	assert.Equal(t, 2.0, score.Stats.Mean)
	assert.Equal(t, 2.0, score.Stats.Median)
}

func TestInspectMappingUnionOfNestedAndListOfNested(t *testing.T) {
	report, err := Inspect(context.Background(), seqOf(
		hubtypes.Document{"_id": "1", "refs": map[string]any{"pmid": "123"}},
		hubtypes.Document{"_id": "2", "refs": []any{map[string]any{"pmid": "456"}}},
	), MappingMode)
	require.NoError(t, err)

	props := report.Mapping["properties"].(map[string]any)
	refs := props["refs"].(map[string]any)
	refsProps := refs["properties"].(map[string]any)
	pmid := refsProps["pmid"].(map[string]any)
	assert.Equal(t, "keyword", pmid["type"])
}

func TestInspectHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Inspect(ctx, seqOf(hubtypes.Document{"_id": "1"}), TypeMode)
	assert.Error(t, err)
}
