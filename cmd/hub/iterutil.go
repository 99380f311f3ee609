package main

import (
	"context"
	"iter"

	"github.com/biohub-dev/biohub/internal/hubtypes"
	"github.com/biohub-dev/biohub/internal/store"
)

// allDocs adapts a store.DocumentStore's iter.Seq2[Document, error]
// iteration to the plain iter.Seq[Document] internal/inspector.Inspect
// takes, stopping the walk and stashing the first read error into
// errOut rather than threading an error return through a Seq.
func allDocs(ctx context.Context, src store.DocumentStore, errOut *error) iter.Seq[hubtypes.Document] {
	return func(yield func(hubtypes.Document) bool) {
		for doc, err := range src.All(ctx) {
			if err != nil {
				*errOut = err
				return
			}
			if !yield(doc) {
				return
			}
		}
	}
}
