// Package hubconfig loads the hub's runtime configuration with
// github.com/spf13/viper, following the precedence and environment
// binding conventions of the teacher's own internal/config package:
// project ".hub/hub.yaml" found by walking up from the working
// directory, then "~/.config/hub/hub.yaml", then "~/.hub/hub.yaml",
// with HUB_-prefixed environment variables taking precedence over any
// file and "-"/"." both mapping to "_" in variable names.
package hubconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the hub's resolved runtime configuration, threaded
// explicitly through manager constructors (as its own parameter, beside
// the HubDB handle and the logger; there is no bundling context struct)
// rather than read from a package-level singleton (see DESIGN NOTES: "Global
// state").
type Config struct {
	v *viper.Viper
}

// Load initializes viper with the hub's defaults and precedence rules
// and returns a Config wrapping it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			candidate := filepath.Join(dir, ".hub", "hub.yaml")
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if dir, err := os.UserConfigDir(); err == nil {
			candidate := filepath.Join(dir, "hub", "hub.yaml")
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
			}
		}
	}
	if !configFileSet {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".hub", "hub.yaml")
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("archive_root", "./archive")
	v.SetDefault("plugin_root", "./plugins")
	v.SetDefault("diff_root", "./diffs")
	v.SetDefault("hubdb_path", "./hub.db")
	v.SetDefault("socket_path", "./.hub/hub.sock")
	v.SetDefault("archive_keep_n", 10)
	v.SetDefault("build_history_keep_n", 25)
	v.SetDefault("jobmanager.thread_pool_size", 8)
	v.SetDefault("jobmanager.process_pool_size", 4)
	v.SetDefault("jobmanager.dispatch_tick", "200ms")
	v.SetDefault("dumper.download_concurrency", 4)
	v.SetDefault("dumper.ftp_timeout", "10m")
	v.SetDefault("uploader.batch_size", 1000)
	v.SetDefault("builder.batch_size", 1000)
	v.SetDefault("differ.batch_size", 1000)
	v.SetDefault("auto_upload", true)
	v.SetDefault("auto_upload_poll", "30s")
	v.SetDefault("es.addresses", []string{"http://localhost:9200"})
	v.SetDefault("es.username", "")
	v.SetDefault("es.password", "")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("hubconfig: reading config file: %w", err)
		}
	}

	return &Config{v: v}, nil
}

func (c *Config) String(key string) string          { return c.v.GetString(key) }
func (c *Config) Int(key string) int                { return c.v.GetInt(key) }
func (c *Config) Bool(key string) bool              { return c.v.GetBool(key) }
func (c *Config) StringSlice(key string) []string   { return c.v.GetStringSlice(key) }
func (c *Config) Duration(key string) time.Duration {
	return c.v.GetDuration(key)
}

// ESAddresses, ESUsername, and ESPassword configure the esindex.Client
// "hub index"/"hub sync" dial when their target is an Elasticsearch
// index rather than a DocumentStore collection.
func (c *Config) ESAddresses() []string { return c.StringSlice("es.addresses") }
func (c *Config) ESUsername() string    { return c.String("es.username") }
func (c *Config) ESPassword() string    { return c.String("es.password") }

// ArchiveRoot is the filesystem root under which dumper data folders
// live, per the data folder layout in §6: <archive_root>/<source>/<release|latest>.
func (c *Config) ArchiveRoot() string { return c.String("archive_root") }

// PluginRoot is the directory auto-discovery walks on startup.
func (c *Config) PluginRoot() string { return c.String("plugin_root") }

// DiffRoot is the filesystem root under which diff folders live.
func (c *Config) DiffRoot() string { return c.String("diff_root") }

// HubDBPath is the SQLite file backing HubDB.
func (c *Config) HubDBPath() string { return c.String("hubdb_path") }

// SocketPath is the unix socket cmd/hub's CLI dials to reach a running
// "hub daemon" (internal/hubrpc).
func (c *Config) SocketPath() string { return c.String("socket_path") }

// ArchiveKeepN is the retention bound for "<name>_archive_*" collections.
func (c *Config) ArchiveKeepN() int { return c.Int("archive_keep_n") }

// BuildHistoryKeepN caps the append-only build-history list per config.
func (c *Config) BuildHistoryKeepN() int { return c.Int("build_history_keep_n") }

// AutoUpload reports whether a successful dump should flag its source
// pending "upload" instead of requiring an explicit "hub upload" call.
func (c *Config) AutoUpload() bool { return c.Bool("auto_upload") }

// AutoUploadPollInterval is how often "hub daemon" scans for sources
// pending "upload" and runs them.
func (c *Config) AutoUploadPollInterval() time.Duration { return c.Duration("auto_upload_poll") }
