package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/biohub-dev/biohub/internal/hubdb"
)

var pluginCmd = &cobra.Command{
	Use:     "plugin",
	GroupID: "ops",
	Short:   "Discover, list, and manage data plugins",
}

var pluginDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Walk plugin_root for new plugin directories and register them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app) (any, error) {
			dirs, err := a.loader.Discover(ctx)
			if err != nil {
				return nil, err
			}
			return pluginDiscoverResult{Found: len(dirs), Dirs: dirs}, nil
		})
	},
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered plugins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app) (any, error) {
			records, err := a.db.Plugins().All(ctx)
			if err != nil {
				return nil, err
			}
			return pluginListResult{Plugins: records}, nil
		})
	},
}

var pluginFetchCmd = &cobra.Command{
	Use:   "fetch <owner/repo>",
	Short: "Clone a GitHub-hosted plugin's latest release and register it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app) (any, error) {
			dir, err := a.loader.FetchGitHubOrigin(ctx, args[0])
			if err != nil {
				return nil, err
			}
			return pluginFetchResult{Repo: args[0], Dir: dir}, nil
		})
	},
}

func init() {
	pluginCmd.AddCommand(pluginDiscoverCmd, pluginListCmd, pluginFetchCmd)
}

type pluginFetchResult struct {
	Repo string `json:"repo"`
	Dir  string `json:"dir"`
}

func (r pluginFetchResult) print() {
	if jsonOutput {
		raw, _ := json.Marshal(r)
		fmt.Println(string(raw))
		return
	}
	fmt.Printf("fetched %s into %s\n", r.Repo, r.Dir)
}

type pluginDiscoverResult struct {
	Found int      `json:"found"`
	Dirs  []string `json:"dirs"`
}

func (r pluginDiscoverResult) print() {
	if jsonOutput {
		raw, _ := json.Marshal(r)
		fmt.Println(string(raw))
		return
	}
	fmt.Printf("discovered %d plugin director%s\n", r.Found, plural(r.Found))
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

type pluginListResult struct {
	Plugins []*hubdb.PluginRecord `json:"plugins"`
}

func (r pluginListResult) print() {
	if jsonOutput {
		raw, _ := json.Marshal(r)
		fmt.Println(string(raw))
		return
	}
	for _, p := range r.Plugins {
		active := " "
		if p.Active {
			active = "*"
		}
		fmt.Printf("%s %-24s %s\n", active, p.ID, p.URL)
	}
}
