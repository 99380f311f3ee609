package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/biohub-dev/biohub/internal/dumper"
	"github.com/biohub-dev/biohub/internal/huberrors"
	"github.com/biohub-dev/biohub/internal/hubtypes"
)

var (
	dumpForce     bool
	dumpCheckOnly bool
)

var dumpCmd = &cobra.Command{
	Use:     "dump <source>",
	GroupID: "sources",
	Short:   "Download a source's raw data through its manifest's dumper spec",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app) (any, error) {
			return runDump(ctx, a, args[0], dumpForce, dumpCheckOnly)
		})
	},
}

func init() {
	dumpCmd.Flags().BoolVar(&dumpForce, "force", false, "dump even if the remote release matches the last recorded one")
	dumpCmd.Flags().BoolVar(&dumpCheckOnly, "check-only", false, "report whether a new release is available without downloading it")
}

func runDump(ctx context.Context, a *app, name string, force, checkOnly bool) (any, error) {
	loaded, err := a.loadPlugin(ctx, name)
	if err != nil {
		return nil, err
	}
	if loaded.Dump.URI == "" {
		return nil, huberrors.NotReady("plugin %s declares no dumper", name)
	}

	loaded.Dump.AutoUpload = a.cfg.AutoUpload()
	d := dumper.New(a.log, a.drivers, a.db.Sources(), a.cfg.Int("dumper.download_concurrency"))
	prior, found, err := a.db.Sources().Get(ctx, loaded.Dump.Name)
	if err != nil {
		return nil, err
	}
	release, err := d.Dump(ctx, loaded.Dump, force, checkOnly)
	if err != nil {
		a.recordEvent(ctx, "dump", name, "failed", err.Error())
		return nil, err
	}
	a.recordEvent(ctx, "dump", name, "success", release)
	upToDate := !force && found && prior.Download.Status == hubtypes.StatusSuccess && prior.Download.Release == release
	return dumpResult{Source: name, Release: release, UpToDate: upToDate, CheckOnly: checkOnly}, nil
}

type dumpResult struct {
	Source    string `json:"source"`
	Release   string `json:"release"`
	UpToDate  bool   `json:"up_to_date"`
	CheckOnly bool   `json:"check_only"`
}

func (r dumpResult) print() {
	if jsonOutput {
		raw, _ := json.Marshal(r)
		fmt.Println(string(raw))
		return
	}
	if r.UpToDate {
		fmt.Printf("%s: already up to date (release %s)\n", r.Source, r.Release)
		return
	}
	if r.CheckOnly {
		fmt.Printf("%s: release %s available\n", r.Source, r.Release)
		return
	}
	fmt.Printf("%s: dumped release %s\n", r.Source, r.Release)
}
