package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/biohub-dev/biohub/internal/differ"
	"github.com/biohub-dev/biohub/internal/hubtypes"
	"github.com/biohub-dev/biohub/internal/store"
)

var (
	diffSteps   []string
	diffPurge   bool
	diffExclude []string
)

var diffCmd = &cobra.Command{
	Use:     "diff <old-collection> <new-collection>",
	GroupID: "release",
	Short:   "Compute the add/delete/update batches between two live collections",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app) (any, error) {
			return runDiff(ctx, a, args[0], args[1])
		})
	},
}

func init() {
	diffCmd.Flags().StringSliceVar(&diffSteps, "steps", []string{"count", "content"}, "diff steps to run: count, content")
	diffCmd.Flags().BoolVar(&diffPurge, "purge", false, "mark deletions for immediate application instead of recording them only")
	diffCmd.Flags().StringSliceVar(&diffExclude, "exclude", nil, "dotted document paths ignored by the content step")
}

func runDiff(ctx context.Context, a *app, oldName, newName string) (any, error) {
	oldStore, err := a.backend.Open(ctx, oldName)
	if err != nil {
		return nil, fmt.Errorf("hub: open %s: %w", oldName, err)
	}
	newStore, err := a.backend.Open(ctx, newName)
	if err != nil {
		return nil, fmt.Errorf("hub: open %s: %w", newName, err)
	}

	steps := make([]differ.Step, 0, len(diffSteps))
	for _, s := range diffSteps {
		steps = append(steps, differ.Step(s))
	}
	mode := differ.PurgeKeep
	if diffPurge {
		mode = differ.PurgePurge
	}

	identity := fmt.Sprintf("%s_vs_%s", oldName, newName)
	outDir := filepath.Join(a.cfg.DiffRoot(), identity)
	meta, err := differ.Diff(ctx, &storeLocator{oldStore}, &storeLocator{newStore}, outDir, a.cfg.Int("differ.batch_size"), steps, mode, diffExclude)
	if err != nil {
		a.recordEvent(ctx, "diff", identity, "failed", err.Error())
		return nil, err
	}
	a.recordEvent(ctx, "diff", identity, "success", fmt.Sprintf("+%d -%d ~%d", meta.Stats.Add, meta.Stats.Delete, meta.Stats.Update))
	return diffResult{Dir: outDir, Stats: meta.Stats}, nil
}

type diffResult struct {
	Dir   string        `json:"dir"`
	Stats differ.Stats  `json:"stats"`
}

func (r diffResult) print() {
	if jsonOutput {
		raw, _ := json.Marshal(r)
		fmt.Println(string(raw))
		return
	}
	fmt.Printf("%s: +%d -%d ~%d\n", r.Dir, r.Stats.Add, r.Stats.Delete, r.Stats.Update)
}

// storeLocator adapts a store.DocumentStore to differ.Locator, letting
// "hub diff" compare two live collections the same way internal/differ's
// tests diff a fake in-memory Locator — the only Locator implementation
// the original package ships is test-only, so this is the production one.
type storeLocator struct {
	store.DocumentStore
}

func (l *storeLocator) IDs(ctx context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	for doc, err := range l.All(ctx) {
		if err != nil {
			return nil, err
		}
		ids[doc.ID()] = struct{}{}
	}
	return ids, nil
}

func (l *storeLocator) Get(ctx context.Context, id string) (hubtypes.Document, bool, error) {
	return l.FindByID(ctx, id)
}
