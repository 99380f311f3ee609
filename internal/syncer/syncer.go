// Package syncer applies a diff run produced by internal/differ to a
// target store.DocumentStore or index.SearchIndex, tracking per-target
// application in the diff run's metadata so a retried Sync never
// double-applies a diff file.
package syncer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/biohub-dev/biohub/internal/differ"
	"github.com/biohub-dev/biohub/internal/hubtypes"
	"github.com/biohub-dev/biohub/internal/index"
	"github.com/biohub-dev/biohub/internal/jsonpatch"
	"github.com/biohub-dev/biohub/internal/store"
)

// Backend is the narrow write surface Sync needs from a target; both
// store.DocumentStore and index.SearchIndex are adapted to it below so
// Sync itself never branches on backend kind.
type Backend interface {
	Name() string
	ApplyAdd(ctx context.Context, docs []hubtypes.Document) error
	ApplyDelete(ctx context.Context, ids []string) error
	// ApplyUpdate applies patch to the document currently stored under
	// id, fetching it first since diff patches are computed relative to
	// the old release, not the target's current content.
	ApplyUpdate(ctx context.Context, id string, patch []byte) error
}

// Options controls Sync behavior.
type Options struct {
	// Purge forces deletions to be applied even when the diff's mode is
	// differ.PurgeKeep; by default PurgeKeep diffs record deletions
	// without applying them.
	Purge bool
}

// Stats summarizes one Sync call's applied changes.
type Stats struct {
	Added, Deleted, Updated int
	SkippedAlreadySynced    bool
}

// Sync reads the diff run at dir (written by differ.Diff) and applies
// it to target. If the run's metadata already marks target as synced,
// Sync is a no-op and returns SkippedAlreadySynced=true — this is what
// makes retrying a Sync call after a partial failure safe.
func Sync(ctx context.Context, dir string, target Backend, opts Options) (*Stats, error) {
	meta, err := differ.ReadMetadata(dir)
	if err != nil {
		return nil, err
	}
	if meta.Synced != nil && meta.Synced[target.Name()] {
		return &Stats{SkippedAlreadySynced: true}, nil
	}

	stats := &Stats{}
	applyDeletes := opts.Purge || meta.Mode == differ.PurgePurge

	for _, file := range meta.Files {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		batch, err := differ.ReadBatch(filepath.Join(dir, file))
		if err != nil {
			return stats, err
		}

		if len(batch.Add) > 0 {
			if err := target.ApplyAdd(ctx, batch.Add); err != nil {
				return stats, fmt.Errorf("syncer: apply add from %s: %w", file, err)
			}
			stats.Added += len(batch.Add)
		}
		if len(batch.Delete) > 0 && applyDeletes {
			if err := target.ApplyDelete(ctx, batch.Delete); err != nil {
				return stats, fmt.Errorf("syncer: apply delete from %s: %w", file, err)
			}
			stats.Deleted += len(batch.Delete)
		}
		for _, u := range batch.Update {
			if err := target.ApplyUpdate(ctx, u.ID, u.Patch); err != nil {
				return stats, fmt.Errorf("syncer: apply update %s from %s: %w", u.ID, file, err)
			}
			stats.Updated++
		}
	}

	if err := differ.MarkSynced(dir, meta, target.Name()); err != nil {
		return stats, fmt.Errorf("syncer: mark synced: %w", err)
	}
	return stats, nil
}

// StoreBackend adapts a store.DocumentStore to Backend.
type StoreBackend struct {
	Store store.DocumentStore
}

func (b *StoreBackend) Name() string { return b.Store.Name() }

func (b *StoreBackend) ApplyAdd(ctx context.Context, docs []hubtypes.Document) error {
	_, err := b.Store.Upsert(ctx, docs)
	return err
}

func (b *StoreBackend) ApplyDelete(ctx context.Context, ids []string) error {
	_, err := b.Store.Remove(ctx, ids)
	return err
}

func (b *StoreBackend) ApplyUpdate(ctx context.Context, id string, patch []byte) error {
	doc, ok, err := b.Store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("syncer: apply update to %s: document not found in target", id)
	}
	patched, err := jsonpatch.Apply(doc, patch)
	if err != nil {
		return err
	}
	_, err = b.Store.Update(ctx, []hubtypes.Document{patched})
	return err
}

// IndexBackend adapts an index.SearchIndex to Backend.
type IndexBackend struct {
	Index   index.SearchIndex
	Mapping index.Mapping
}

func (b *IndexBackend) Name() string { return b.Index.Name() }

func (b *IndexBackend) ApplyAdd(ctx context.Context, docs []hubtypes.Document) error {
	_, err := b.Index.Bulk(ctx, docs, b.Mapping)
	return err
}

func (b *IndexBackend) ApplyDelete(ctx context.Context, ids []string) error {
	_, err := b.Index.Delete(ctx, ids)
	return err
}

func (b *IndexBackend) ApplyUpdate(ctx context.Context, id string, patch []byte) error {
	doc, ok, err := b.Index.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("syncer: apply update to %s: document not found in target", id)
	}
	patched, err := jsonpatch.Apply(doc, patch)
	if err != nil {
		return err
	}
	_, err = b.Index.Bulk(ctx, []hubtypes.Document{patched}, b.Mapping)
	return err
}
