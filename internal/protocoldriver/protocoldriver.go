// Package protocoldriver implements the dumper's per-source download
// protocols behind one Driver interface, so internal/dumper's state
// machine never branches on transport kind.
package protocoldriver

import (
	"context"
	"time"
)

// RemoteInfo describes a remote release's identity and freshness
// signal, compared against the source's last recorded download state
// to decide whether a new download is needed.
type RemoteInfo struct {
	// Release is the human-meaningful version string (a git commit, an
	// HTTP Last-Modified timestamp rendered as RFC3339, an FTP MDTM
	// timestamp, ...).
	Release string
	// Size is the remote's reported size in bytes, 0 if unknown.
	Size int64
	// ModTime is the remote's last-modified time, zero if unknown.
	ModTime time.Time
}

// Driver is one download protocol: HTTP, FTP, git, docker, or local
// filesystem.
type Driver interface {
	// Scheme names the URI scheme this driver handles, e.g. "https",
	// "ftp", "git", "docker", "file".
	Scheme() string

	// Check reports the remote's current release without downloading
	// its content, used for check-only dumps and release comparison.
	Check(ctx context.Context, uri string) (RemoteInfo, error)

	// Download fetches uri into destDir, returning the release
	// identifier actually downloaded. Implementations must be safe to
	// call from a bounded worker pool goroutine.
	Download(ctx context.Context, uri, destDir string) (RemoteInfo, error)
}

// Registry resolves a URI's scheme to a registered Driver.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry builds a Registry from drivers, keyed by each driver's
// own Scheme().
func NewRegistry(drivers ...Driver) *Registry {
	r := &Registry{drivers: make(map[string]Driver, len(drivers))}
	for _, d := range drivers {
		r.drivers[d.Scheme()] = d
	}
	return r
}

// Resolve returns the driver registered for scheme, or false if none
// matches.
func (r *Registry) Resolve(scheme string) (Driver, bool) {
	d, ok := r.drivers[scheme]
	return d, ok
}
