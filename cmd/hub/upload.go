package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/biohub-dev/biohub/internal/huberrors"
	"github.com/biohub-dev/biohub/internal/uploader"
)

var (
	uploadForce    bool
	uploadParallel bool
)

var uploadCmd = &cobra.Command{
	Use:     "upload <source>",
	GroupID: "sources",
	Short:   "Run a plugin's parser over its dumped data and load the result into a collection",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app) (any, error) {
			return runUpload(ctx, a, args[0], uploadForce, uploadParallel)
		})
	},
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadForce, "force", false, "accepted but has no effect: every upload runs the parser and replaces the collection, whatever was recorded before")
	uploadCmd.Flags().BoolVar(&uploadParallel, "parallel", false, "run the plugin's sub-sources concurrently instead of sequentially")
}

func runUpload(ctx context.Context, a *app, name string, force, parallel bool) (any, error) {
	loaded, err := a.loadPlugin(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(loaded.Upload.SubSources) == 0 {
		return nil, huberrors.NotReady("plugin %s declares no uploader", name)
	}

	u := uploader.New(a.log, a.backend, a.newManager(), a.db.Sources())
	u.ArchiveKeepN = a.cfg.ArchiveKeepN()
	batchSize := a.cfg.Int("uploader.batch_size")

	var count int
	if parallel {
		count, err = u.LoadParallel(ctx, loaded.Upload, batchSize, force)
	} else {
		count, err = u.Load(ctx, loaded.Upload, batchSize, force)
	}
	if err != nil {
		a.recordEvent(ctx, "upload", name, "failed", err.Error())
		return nil, err
	}
	a.recordEvent(ctx, "upload", name, "success", fmt.Sprintf("%d documents", count))
	return uploadResult{Source: name, Count: count}, nil
}

type uploadResult struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

func (r uploadResult) print() {
	if jsonOutput {
		raw, _ := json.Marshal(r)
		fmt.Println(string(raw))
		return
	}
	fmt.Printf("%s: uploaded %d documents\n", r.Source, r.Count)
}
