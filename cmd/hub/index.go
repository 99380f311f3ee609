package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/biohub-dev/biohub/internal/hubtypes"
	"github.com/biohub-dev/biohub/internal/index"
	"github.com/biohub-dev/biohub/internal/index/esindex"
	"github.com/biohub-dev/biohub/internal/inspector"
)

var indexAlias string

var indexCmd = &cobra.Command{
	Use:     "index <collection> <es-index>",
	GroupID: "release",
	Short:   "Inspect a collection's field types and bulk-index it into Elasticsearch",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app) (any, error) {
			return runIndex(ctx, a, args[0], args[1], indexAlias)
		})
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexAlias, "alias", "", "Elasticsearch alias to point at the index once indexing succeeds")
}

func runIndex(ctx context.Context, a *app, collection, esIndexName, alias string) (any, error) {
	src, err := a.backend.Open(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("hub: open %s: %w", collection, err)
	}

	var iterErr error
	report, err := inspector.Inspect(ctx, allDocs(ctx, src, &iterErr), inspector.MappingMode)
	if err != nil {
		return nil, fmt.Errorf("hub: inspect %s: %w", collection, err)
	}
	if iterErr != nil {
		return nil, fmt.Errorf("hub: inspect %s: %w", collection, iterErr)
	}

	client, err := esindex.New(a.cfg.ESAddresses(), a.cfg.ESUsername(), a.cfg.ESPassword())
	if err != nil {
		return nil, fmt.Errorf("hub: elasticsearch client: %w", err)
	}
	idx := client.Index(esIndexName)

	props, _ := report.Mapping["properties"].(map[string]any)
	mapping := index.Mapping(props)
	indexed := 0
	batch := make([]hubtypes.Document, 0, 1000)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := idx.Bulk(ctx, batch, mapping)
		indexed += n
		batch = batch[:0]
		return err
	}
	for doc, err := range src.All(ctx) {
		if err != nil {
			return nil, err
		}
		batch = append(batch, doc)
		if len(batch) == 1000 {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if alias != "" {
		if err := idx.Alias(ctx, alias); err != nil {
			return nil, fmt.Errorf("hub: alias %s -> %s: %w", alias, esIndexName, err)
		}
	}

	a.recordEvent(ctx, "index", collection, "success", fmt.Sprintf("%d documents, %d mapping errors", indexed, len(report.Errors)))
	return indexResult{Collection: collection, Index: esIndexName, Indexed: indexed, MappingErrors: len(report.Errors)}, nil
}

type indexResult struct {
	Collection    string `json:"collection"`
	Index         string `json:"index"`
	Indexed       int    `json:"indexed"`
	MappingErrors int    `json:"mapping_errors"`
}

func (r indexResult) print() {
	if jsonOutput {
		raw, _ := json.Marshal(r)
		fmt.Println(string(raw))
		return
	}
	fmt.Printf("%s -> %s: indexed %d documents (%d mapping errors)\n", r.Collection, r.Index, r.Indexed, r.MappingErrors)
}
