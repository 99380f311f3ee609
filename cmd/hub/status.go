package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/biohub-dev/biohub/internal/hubrpc"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "ops",
	Short:   "Report hub status, preferring a running daemon's live view",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app) (any, error) {
			return runStatus(ctx, a)
		})
	},
}

// runStatus dials the daemon socket first and falls back to a static,
// in-process summary when no daemon is listening — the same
// daemon-first-then-fallback shape the teacher's own delete/show
// commands use for "ask the running process if you can, else compute
// it yourself."
func runStatus(ctx context.Context, a *app) (any, error) {
	if client, err := hubrpc.Dial(a.cfg.SocketPath(), 500*time.Millisecond); err == nil {
		defer client.Close()
		resp, err := client.Call(hubrpc.OpStatus, nil)
		if err == nil {
			var data hubrpc.StatusData
			if jerr := json.Unmarshal(resp.Data, &data); jerr == nil {
				return statusResult{Daemon: true, Data: data}, nil
			}
		}
	}

	sources, err := a.db.Sources().All(ctx)
	if err != nil {
		return nil, err
	}
	plugins, err := a.db.Plugins().All(ctx)
	if err != nil {
		return nil, err
	}
	return statusResult{
		Daemon: false,
		Data: hubrpc.StatusData{
			HubDBPath:  a.cfg.HubDBPath(),
			PluginRoot: a.cfg.PluginRoot(),
		},
		SourceCount: len(sources),
		PluginCount: len(plugins),
	}, nil
}

type statusResult struct {
	Daemon      bool               `json:"daemon_running"`
	Data        hubrpc.StatusData  `json:"daemon_status,omitempty"`
	SourceCount int                `json:"source_count,omitempty"`
	PluginCount int                `json:"plugin_count,omitempty"`
}

func (r statusResult) print() {
	if jsonOutput {
		raw, _ := json.Marshal(r)
		fmt.Println(string(raw))
		return
	}
	if r.Daemon {
		fmt.Printf("daemon: running, %d active jobs, %d pending\n", r.Data.ActiveJobs, r.Data.PendingJobs)
		return
	}
	fmt.Printf("daemon: not running\nhubdb: %s\nplugin_root: %s\nsources: %d\nplugins: %d\n",
		r.Data.HubDBPath, r.Data.PluginRoot, r.SourceCount, r.PluginCount)
}
