package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/biohub-dev/biohub/internal/syncer"
)

var syncPurge bool

var syncCmd = &cobra.Command{
	Use:     "sync <diff-dir> <target-collection>",
	GroupID: "release",
	Short:   "Apply a diff run's batches to a target collection",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app) (any, error) {
			return runSync(ctx, a, args[0], args[1], syncPurge)
		})
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncPurge, "purge", false, "apply deletions even if the diff run recorded them as keep-only")
}

func runSync(ctx context.Context, a *app, dir, target string, purge bool) (any, error) {
	targetStore, err := a.backend.Open(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("hub: open %s: %w", target, err)
	}

	stats, err := syncer.Sync(ctx, dir, &syncer.StoreBackend{Store: targetStore}, syncer.Options{Purge: purge})
	if err != nil {
		a.recordEvent(ctx, "sync", target, "failed", err.Error())
		return nil, err
	}
	status := "success"
	if stats.SkippedAlreadySynced {
		status = "skipped"
	}
	a.recordEvent(ctx, "sync", target, status, fmt.Sprintf("+%d -%d ~%d", stats.Added, stats.Deleted, stats.Updated))
	return syncResult{Target: target, Stats: *stats}, nil
}

type syncResult struct {
	Target string       `json:"target"`
	Stats  syncer.Stats `json:"stats"`
}

func (r syncResult) print() {
	if jsonOutput {
		raw, _ := json.Marshal(r)
		fmt.Println(string(raw))
		return
	}
	if r.Stats.SkippedAlreadySynced {
		fmt.Printf("%s: already synced\n", r.Target)
		return
	}
	fmt.Printf("%s: +%d -%d ~%d\n", r.Target, r.Stats.Added, r.Stats.Deleted, r.Stats.Updated)
}
