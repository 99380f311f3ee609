package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/biohub-dev/biohub/internal/hubconfig"
	"github.com/biohub-dev/biohub/internal/hubdb"
	"github.com/biohub-dev/biohub/internal/hublog"
	"github.com/biohub-dev/biohub/internal/jobmanager"
	"github.com/biohub-dev/biohub/internal/pluginhost"
	"github.com/biohub-dev/biohub/internal/pluginloader"
	"github.com/biohub-dev/biohub/internal/protocoldriver"
	"github.com/biohub-dev/biohub/internal/store/sqlitestore"
)

// app bundles the dependencies every subcommand needs, opened once per
// invocation and closed before the process exits. Subcommands that
// fan out work (build, upload) construct a jobmanager.Manager through
// newManager only to bound concurrency; recurring scheduled jobs are
// registered by "hub daemon" alone (see daemon.go).
type app struct {
	cfg     *hubconfig.Config
	log     *zap.Logger
	db      *hubdb.DB
	backend *sqlitestore.Backend
	drivers *protocoldriver.Registry
	loader  *pluginloader.Loader
}

// openApp loads config, opens HubDB and the default storage backend,
// and wires the protocol driver registry and plugin loader every
// subcommand shares.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := hubconfig.Load()
	if err != nil {
		return nil, fmt.Errorf("hub: load config: %w", err)
	}

	log, err := hublog.New(false)
	if err != nil {
		return nil, fmt.Errorf("hub: build logger: %w", err)
	}

	db, err := hubdb.Open(ctx, cfg.HubDBPath())
	if err != nil {
		return nil, fmt.Errorf("hub: open hubdb: %w", err)
	}

	backend, err := sqlitestore.Open(cfg.HubDBPath() + ".docs")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("hub: open document store: %w", err)
	}

	drivers := protocoldriver.NewRegistry(
		protocoldriver.NewHTTPDriver(nil),
		protocoldriver.NewFTPDriver(cfg.Duration("dumper.ftp_timeout")),
		protocoldriver.NewDockerDriver("docker"),
		&protocoldriver.GitDriver{},
		protocoldriver.LocalDriver{},
	)

	host := pluginhost.NewYaegiHost()
	loader := pluginloader.New(log, host, db.Plugins(), cfg.PluginRoot())

	return &app{cfg: cfg, log: log, db: db, backend: backend, drivers: drivers, loader: loader}, nil
}

func (a *app) close() {
	_ = a.backend.Close()
	_ = a.db.Close()
	_ = a.log.Sync()
}

// newManager builds a jobmanager.Manager sized from config, used by
// cmd/hub's one-off subcommands to bound concurrent work the same way
// "hub daemon" does, rather than inventing a second concurrency model.
func (a *app) newManager() *jobmanager.Manager {
	return jobmanager.New(
		a.log,
		a.cfg.Int("jobmanager.thread_pool_size"),
		a.cfg.Int("jobmanager.process_pool_size"),
		a.cfg.Duration("jobmanager.dispatch_tick"),
		"",
	)
}

// recordCommand appends a CommandHistoryEntry for the invoked cobra
// command after it has run, carrying its error if any, the audit trail SPEC_FULL.md's supplemented
// features call for.
func (a *app) recordCommand(ctx context.Context, cmd *cobra.Command, args []string, runErr error) {
	entry := hubdb.CommandHistoryEntry{
		ID:      uuid.NewString(),
		Command: cmd.Name(),
		Args:    args,
		At:      time.Now(),
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	if err := a.db.CommandHistory().Append(ctx, entry); err != nil {
		a.log.Warn("record command history failed", zap.Error(err))
	}
}

// loadPlugin resolves a registered plugin name into its runtime
// dumper.Source/uploader.Source, discovering plugin_root first if the
// name isn't yet known to HubDB (the operator's first "hub dump X" on
// a freshly cloned plugin directory shouldn't require a separate
// "hub plugin discover" step).
func (a *app) loadPlugin(ctx context.Context, name string) (*pluginloader.LoadedPlugin, error) {
	record, found, err := a.db.Plugins().Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("hub: look up plugin %s: %w", name, err)
	}
	if !found {
		if _, err := a.loader.Discover(ctx); err != nil {
			return nil, fmt.Errorf("hub: discover plugins: %w", err)
		}
		record, found, err = a.db.Plugins().Get(ctx, name)
		if err != nil {
			return nil, err
		}
	}
	if !found {
		return nil, fmt.Errorf("hub: plugin %s is not registered under %s", name, a.cfg.PluginRoot())
	}
	return a.loader.Load(ctx, record.ID, record.DataFolder, a.cfg.ArchiveRoot())
}

// recordEvent appends an Event marking a state transition in category
// for source, the chronological stream SPEC_FULL.md's supplemented
// features describe alongside the per-source status documents.
func (a *app) recordEvent(ctx context.Context, category, source, status, detail string) {
	e := hubdb.Event{
		ID:       uuid.NewString(),
		Category: category,
		Source:   source,
		Status:   status,
		At:       time.Now(),
		Detail:   detail,
	}
	if err := a.db.Events().Append(ctx, e); err != nil {
		a.log.Warn("record event failed", zap.Error(err))
	}
}
