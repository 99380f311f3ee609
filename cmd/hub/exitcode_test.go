package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/biohub-dev/biohub/internal/huberrors"
)

func TestExitCodeForClassifiesHuberrorsTaxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"plugin spec", huberrors.NewPluginSpecError(huberrors.SubcategoryMissing, "/dumper", "missing data_url"), 1},
		{"resource conflict", huberrors.ResourceConflict("target %s exists", "mygene"), 1},
		{"not ready", huberrors.NotReady("source %s has no dump", "gene"), 2},
		{"transient io", huberrors.TransientIO(errors.New("timeout"), "download failed"), 3},
		{"data integrity", huberrors.DataIntegrity("missing _id at doc %d", 4), 4},
		{"fatal", huberrors.Fatal(errors.New("boom"), "temp collection empty"), 5},
		{"unclassified", fmt.Errorf("unknown flag: --bogus"), 70},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}
