package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/biohub-dev/biohub/internal/builder"
)

var (
	buildRoots []string
	buildForce bool
)

var buildCmd = &cobra.Command{
	Use:     "build <target> <source> [source...]",
	GroupID: "release",
	Short:   "Merge one or more source collections into a target collection",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app) (any, error) {
			return runBuild(ctx, a, args[0], args[1:], buildRoots, buildForce)
		})
	},
}

func init() {
	buildCmd.Flags().StringSliceVar(&buildRoots, "root", nil, "regular expression(s) naming which sources seed the target document set (with none given, no source is a root and no documents are inserted)")
	buildCmd.Flags().BoolVar(&buildForce, "force", false, "rebuild even if the target already exists")
}

func runBuild(ctx context.Context, a *app, target string, sources, rootPatterns []string, force bool) (any, error) {
	b := builder.New(a.log, a.backend, a.backend, a.db.Builds(a.cfg.BuildHistoryKeepN()), a.db.Sources(), a.newManager())

	run, err := b.Merge(ctx, sources, target, rootPatterns, force)
	if err != nil {
		a.recordEvent(ctx, "build", target, "failed", err.Error())
		return nil, err
	}
	a.recordEvent(ctx, "build", target, string(run.Status), "")
	return buildResult{Target: target, Sources: sources, Status: string(run.Status), Counts: run.SrcCounts}, nil
}

type buildResult struct {
	Target  string         `json:"target"`
	Sources []string       `json:"sources"`
	Status  string         `json:"status"`
	Counts  map[string]int `json:"counts,omitempty"`
}

func (r buildResult) print() {
	if jsonOutput {
		raw, _ := json.Marshal(r)
		fmt.Println(string(raw))
		return
	}
	fmt.Printf("%s: %s (from %s)\n", r.Target, r.Status, strings.Join(r.Sources, ", "))
}
