package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/biohub-dev/biohub/internal/hubrpc"
	"github.com/biohub-dev/biohub/internal/jobmanager"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "ops",
	Short:   "Run the hub as a long-lived process hosting the job scheduler and RPC socket",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runDaemon(ctx)
	},
}

// DumpArgs, UploadArgs, and BuildArgs are the hubrpc.OpDump/OpUpload/OpBuild
// request payloads, decoded from Request.Args.
type DumpArgs struct {
	Source    string `json:"source"`
	Force     bool   `json:"force"`
	CheckOnly bool   `json:"check_only"`
}

type UploadArgs struct {
	Source   string `json:"source"`
	Force    bool   `json:"force"`
	Parallel bool   `json:"parallel"`
}

type BuildArgs struct {
	Target  string   `json:"target"`
	Sources []string `json:"sources"`
	Roots   []string `json:"roots,omitempty"`
	Force   bool     `json:"force"`
}

func runDaemon(ctx context.Context) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	started := time.Now()
	mgr := a.newManager()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("job manager shutdown", zap.Error(err))
		}
	}()

	if _, err := mgr.Submit(ctx, func(ctx context.Context) error {
		return pollPendingUploads(ctx, a)
	}, jobmanager.WithSchedule(fmt.Sprintf("@every %s", a.cfg.AutoUploadPollInterval()))); err != nil {
		return fmt.Errorf("daemon: schedule auto-upload poll: %w", err)
	}

	handle := func(ctx context.Context, op string, raw json.RawMessage) (any, error) {
		switch op {
		case hubrpc.OpPing:
			return nil, nil
		case hubrpc.OpStatus:
			return hubrpc.StatusData{
				Uptime:     time.Since(started).Seconds(),
				ActiveJobs: 0,
				HubDBPath:  a.cfg.HubDBPath(),
				PluginRoot: a.cfg.PluginRoot(),
			}, nil
		case hubrpc.OpDump:
			var args DumpArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("hubrpc: decode dump args: %w", err)
			}
			return runDump(ctx, a, args.Source, args.Force, args.CheckOnly)
		case hubrpc.OpUpload:
			var args UploadArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("hubrpc: decode upload args: %w", err)
			}
			return runUpload(ctx, a, args.Source, args.Force, args.Parallel)
		case hubrpc.OpBuild:
			var args BuildArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("hubrpc: decode build args: %w", err)
			}
			return runBuild(ctx, a, args.Target, args.Sources, args.Roots, args.Force)
		default:
			return nil, fmt.Errorf("hubrpc: unknown operation %q", op)
		}
	}

	srv := &hubrpc.Server{SocketPath: a.cfg.SocketPath(), Handle: handle}
	if err := srv.Listen(); err != nil {
		return err
	}
	a.log.Info("daemon listening", zap.String("socket", a.cfg.SocketPath()))

	return srv.Serve(ctx)
}

// pollPendingUploads is the "later poll triggers the uploader" half of
// auto_upload: every source the last successful dump flagged pending
// "upload" gets uploaded, and the flag is cleared whether or not the
// upload succeeds (a failed upload is visible in the source's own
// upload-job state, and is retried by the caller via "hub upload", not
// by the poll hammering it every tick).
func pollPendingUploads(ctx context.Context, a *app) error {
	sources, err := a.db.Sources().All(ctx)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if !containsString(src.Pending, "upload") {
			continue
		}
		src.Pending = removeString(src.Pending, "upload")
		if err := a.db.Sources().Upsert(ctx, src); err != nil {
			a.log.Warn("auto-upload: clear pending flag", zap.String("source", src.ID), zap.Error(err))
			continue
		}
		if _, err := runUpload(ctx, a, src.ID, false, false); err != nil {
			a.log.Warn("auto-upload failed", zap.String("source", src.ID), zap.Error(err))
		}
	}
	return nil
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(ss []string, v string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
