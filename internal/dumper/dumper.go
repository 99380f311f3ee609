// Package dumper implements the hub's download engine: a small state
// machine (idle -> checking -> downloading -> post -> success|failed)
// driven through internal/protocoldriver's backend-agnostic Driver
// interface and persisted into internal/hubdb's src_dump collection.
package dumper

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/biohub-dev/biohub/internal/hubdb"
	"github.com/biohub-dev/biohub/internal/hubtypes"
	"github.com/biohub-dev/biohub/internal/protocoldriver"
)

// PostDumpHook runs after a download completes, e.g. an integrity check
// (checksum verification) the plugin manifest declares.
type PostDumpHook func(ctx context.Context, dataFolder string) error

// Source describes one dumpable source.
type Source struct {
	Name        string
	URI         string
	ArchiveRoot string
	PostDump    PostDumpHook
	// Uncompress, if set, extracts every .zip/.tar.gz/.tgz file found at
	// the top level of the downloaded data folder in place after
	// download and before the post step.
	Uncompress bool
	// AutoUpload marks the source "upload" on a successful dump instead
	// of requiring an explicit "hub upload" call; a daemon poll picks
	// the flag up and runs the upload, per hubconfig's auto_upload
	// default.
	AutoUpload bool
}

// Dumper runs Source downloads through a protocoldriver.Registry,
// persisting state into HubDB.
type Dumper struct {
	Log      *zap.Logger
	Registry *protocoldriver.Registry
	Sources  *hubdb.SourceRepo
	sem      *semaphore.Weighted
}

// New builds a Dumper whose concurrent downloads are bounded by
// concurrency, per hubconfig's dumper.download_concurrency.
func New(log *zap.Logger, registry *protocoldriver.Registry, sources *hubdb.SourceRepo, concurrency int) *Dumper {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Dumper{Log: log, Registry: registry, Sources: sources, sem: semaphore.NewWeighted(int64(concurrency))}
}

// Dump runs src's download. checkOnly reports the remote release
// without downloading. force downloads even when the remote release
// matches the last recorded one.
func (d *Dumper) Dump(ctx context.Context, src Source, force, checkOnly bool) (release string, err error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer d.sem.Release(1)

	log := d.Log.With(zap.String("source", src.Name))

	u, err := url.Parse(src.URI)
	if err != nil {
		return "", fmt.Errorf("dumper: parse uri %s: %w", src.URI, err)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "file"
	}
	driver, ok := d.Registry.Resolve(scheme)
	if !ok {
		return "", fmt.Errorf("dumper: no driver registered for scheme %q", scheme)
	}

	existing, found, err := d.Sources.Get(ctx, src.Name)
	if err != nil {
		return "", err
	}

	if err := d.setState(ctx, src.Name, hubtypes.StatusChecking, nil); err != nil {
		return "", err
	}

	remote, err := driver.Check(ctx, src.URI)
	if err != nil {
		d.fail(ctx, src.Name, err)
		return "", fmt.Errorf("dumper: check %s: %w", src.Name, err)
	}

	if !force && found && existing.Download.Release == remote.Release && existing.Download.Status == hubtypes.StatusSuccess {
		log.Debug("source already at latest release", zap.String("release", remote.Release))
		if err := d.setState(ctx, src.Name, hubtypes.StatusSuccess, nil); err != nil {
			return "", err
		}
		return remote.Release, nil
	}

	if checkOnly {
		if err := d.setState(ctx, src.Name, hubtypes.StatusIdle, nil); err != nil {
			return "", err
		}
		return remote.Release, nil
	}

	if err := d.setState(ctx, src.Name, hubtypes.StatusDownloading, nil); err != nil {
		return "", err
	}

	dataFolder := filepath.Join(src.ArchiveRoot, src.Name, sanitizeRelease(remote.Release))
	downloaded, err := driver.Download(ctx, src.URI, dataFolder)
	if err != nil {
		d.fail(ctx, src.Name, err)
		return "", fmt.Errorf("dumper: download %s: %w", src.Name, err)
	}
	if downloaded.Release != "" {
		remote = downloaded
	}

	if err := d.setState(ctx, src.Name, hubtypes.StatusPost, nil); err != nil {
		return "", err
	}

	if src.Uncompress {
		if err := uncompressAll(dataFolder); err != nil {
			d.fail(ctx, src.Name, err)
			return "", fmt.Errorf("dumper: uncompress %s: %w", src.Name, err)
		}
	}
	if src.PostDump != nil {
		if err := src.PostDump(ctx, dataFolder); err != nil {
			d.fail(ctx, src.Name, err)
			return "", fmt.Errorf("dumper: post_dump %s: %w", src.Name, err)
		}
	}

	now := time.Now()
	updated := &hubdb.Source{
		ID: src.Name,
		Download: hubtypes.DownloadState{
			Status:     hubtypes.StatusSuccess,
			Release:    remote.Release,
			DataFolder: dataFolder,
			StartedAt:  now,
			FinishedAt: now,
		},
	}
	if found {
		updated.Upload = existing.Upload
		updated.Pending = existing.Pending
	}
	if src.AutoUpload {
		updated.Pending = addPending(updated.Pending, "upload")
	}
	if err := d.Sources.Upsert(ctx, updated); err != nil {
		return "", err
	}

	log.Info("dump complete", zap.String("release", remote.Release), zap.String("data_folder", dataFolder))
	return remote.Release, nil
}

func (d *Dumper) setState(ctx context.Context, name string, status hubtypes.RunStatus, errMsg error) error {
	existing, found, err := d.Sources.Get(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		existing = &hubdb.Source{ID: name}
	}
	existing.Download.Status = status
	if status == hubtypes.StatusChecking || status == hubtypes.StatusDownloading {
		existing.Download.StartedAt = time.Now()
	}
	if errMsg != nil {
		existing.Download.Error = errMsg.Error()
	} else {
		existing.Download.Error = ""
	}
	return d.Sources.Upsert(ctx, existing)
}

func (d *Dumper) fail(ctx context.Context, name string, cause error) {
	if err := d.setState(ctx, name, hubtypes.StatusFailed, cause); err != nil {
		d.Log.Error("failed to persist failure state", zap.String("source", name), zap.Error(err))
	}
}

// addPending appends flag to pending if not already present.
func addPending(pending []string, flag string) []string {
	for _, p := range pending {
		if p == flag {
			return pending
		}
	}
	return append(pending, flag)
}

func sanitizeRelease(release string) string {
	r := strings.NewReplacer("/", "_", ":", "_", " ", "_")
	return r.Replace(release)
}

// uncompressAll extracts every top-level .zip, .tar.gz, and .tgz file
// in dir in place.
func uncompressAll(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("dumper: list %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(dir, name)
		switch {
		case strings.HasSuffix(name, ".zip"):
			if err := unzip(path, dir); err != nil {
				return err
			}
		case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
			if err := untargz(path, dir); err != nil {
				return err
			}
		}
	}
	return nil
}

func unzip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("dumper: open zip %s: %w", archivePath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("dumper: open zip entry %s: %w", f.Name, err)
		}
		out, err := os.Create(target)
		if err != nil {
			src.Close()
			return fmt.Errorf("dumper: create %s: %w", target, err)
		}
		_, copyErr := io.Copy(out, src)
		src.Close()
		out.Close()
		if copyErr != nil {
			return fmt.Errorf("dumper: extract %s: %w", f.Name, copyErr)
		}
	}
	return nil
}

func untargz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("dumper: open %s: %w", archivePath, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("dumper: gzip reader for %s: %w", archivePath, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("dumper: read tar entry in %s: %w", archivePath, err)
		}
		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("dumper: create %s: %w", target, err)
			}
			_, copyErr := io.Copy(out, tr)
			out.Close()
			if copyErr != nil {
				return fmt.Errorf("dumper: extract %s: %w", hdr.Name, copyErr)
			}
		}
	}
}
