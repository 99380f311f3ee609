// Package differ computes the set of additions, deletions, and content
// updates between two releases of a source, writing the result as
// batched, self-describing binary diff files plus a JSON metadata
// summary that internal/syncer later applies to a target store or
// index.
package differ

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/biohub-dev/biohub/internal/huberrors"
	"github.com/biohub-dev/biohub/internal/hubtypes"
	"github.com/biohub-dev/biohub/internal/jsonpatch"
)

// Locator is a read-only view of one release's documents: the set of
// ids it contains and the document behind each id. Both old and new
// releases of a source are diffed through this interface so Diff never
// depends on how a release is actually stored (a live store.DocumentStore,
// an archived dump folder, ...).
type Locator interface {
	Name() string
	IDs(ctx context.Context) (map[string]struct{}, error)
	Get(ctx context.Context, id string) (hubtypes.Document, bool, error)
}

// Step names one phase of a diff run: "count" tallies top-level key
// presence across the new collection as coarse content statistics;
// "content" computes the actual diff (adds, deletes, and updates).
type Step string

const (
	StepCount   Step = "count"
	StepContent Step = "content"
)

// PurgeMode threads through both halves of a diff/sync pair: at Diff
// time it decides whether an existing, non-empty outDir may be
// overwritten; at sync time (internal/syncer) it decides whether
// recorded deletions are applied immediately rather than left for the
// syncer to apply at its own discretion.
type PurgeMode string

const (
	// PurgeKeep requires outDir to be empty (or absent) and records
	// deletions in the diff file without forcing their application.
	PurgeKeep PurgeMode = "keep"
	// PurgePurge clears outDir before writing and marks deletions for
	// immediate application downstream.
	PurgePurge PurgeMode = "purge"
)

// UpdatePatch is one document's content diff, as a JSON merge patch.
type UpdatePatch struct {
	ID    string `json:"id"`
	Patch []byte `json:"patch"`
}

// Batch is the payload of one diff file.
type Batch struct {
	Add    []hubtypes.Document `json:"add,omitempty"`
	Delete []string            `json:"delete,omitempty"`
	Update []UpdatePatch       `json:"update,omitempty"`
}

func (b Batch) empty() bool { return len(b.Add) == 0 && len(b.Delete) == 0 && len(b.Update) == 0 }

// Stats summarizes a diff run's totals across all files.
type Stats struct {
	Add    int `json:"add"`
	Delete int `json:"delete"`
	Update int `json:"update"`
}

// Metadata describes a completed diff run and is written as
// "metadata.json" alongside the batch files in outDir.
type Metadata struct {
	Source      string    `json:"source"`
	OldRelease  string    `json:"old_release"`
	NewRelease  string    `json:"new_release"`
	Mode        PurgeMode `json:"mode"`
	GeneratedAt time.Time `json:"generated_at"`
	Stats       Stats     `json:"stats"`
	Files       []string  `json:"files"`

	// KeyCounts is the count step's output: for each top-level key
	// observed across the new collection's documents, the number of
	// documents containing it — coarse content statistics, not a diff.
	KeyCounts map[string]int `json:"key_counts,omitempty"`

	// synced tracks, per target name, whether this diff has already
	// been applied — checked by internal/syncer before reapplying,
	// making Sync idempotent under retry.
	Synced map[string]bool `json:"synced,omitempty"`
}

// Diff compares old and new and returns the run's metadata. The content
// step writes batchSize-sized diff files under outDir; the count step
// only records key counts in the metadata and writes no files.
// exclude names dotted document paths ignored by the content step
// (e.g. "_timestamp"). outDir must not already contain files unless
// mode is PurgePurge, in which case any existing contents are cleared
// first — diff folders are single-writer per (old, new) pair.
func Diff(ctx context.Context, old, new Locator, outDir string, batchSize int, steps []Step, mode PurgeMode, exclude []string) (*Metadata, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if err := prepareOutDir(outDir, mode); err != nil {
		return nil, err
	}

	newIDs, err := new.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("differ: list new ids: %w", err)
	}

	meta := &Metadata{
		Source:      new.Name(),
		OldRelease:  old.Name(),
		NewRelease:  new.Name(),
		Mode:        mode,
		GeneratedAt: time.Now(),
	}

	hasStep := func(want Step) bool {
		for _, s := range steps {
			if s == want {
				return true
			}
		}
		return false
	}

	fileIdx := 0
	writeBatch := func(b Batch) error {
		if b.empty() {
			return nil
		}
		name := fmt.Sprintf("%04d.diff", fileIdx)
		fileIdx++
		frame, err := encodeFrame(AlgorithmJSON, b)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(outDir, name), frame, 0o644); err != nil {
			return fmt.Errorf("differ: write diff file %s: %w", name, err)
		}
		meta.Files = append(meta.Files, name)
		meta.Stats.Add += len(b.Add)
		meta.Stats.Delete += len(b.Delete)
		meta.Stats.Update += len(b.Update)
		return nil
	}

	// count: coarse content statistics only, no diff files — tallies how
	// many of the new collection's documents carry each top-level key.
	if hasStep(StepCount) {
		ids := make([]string, 0, len(newIDs))
		for id := range newIDs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		counts, err := tallyTopLevelKeys(ctx, new, ids)
		if err != nil {
			return nil, err
		}
		meta.KeyCounts = counts
	}

	// content: the full diff — adds, deletes, and per-document updates.
	if hasStep(StepContent) {
		oldIDs, err := old.IDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("differ: list old ids: %w", err)
		}

		var added, removed, common []string
		for id := range newIDs {
			if _, ok := oldIDs[id]; !ok {
				added = append(added, id)
			} else {
				common = append(common, id)
			}
		}
		for id := range oldIDs {
			if _, ok := newIDs[id]; !ok {
				removed = append(removed, id)
			}
		}
		sort.Strings(added)
		sort.Strings(removed)
		sort.Strings(common)

		if err := writeBatchesOf(added, batchSize, func(chunk []string) error {
			var docs []hubtypes.Document
			for _, id := range chunk {
				doc, ok, err := new.Get(ctx, id)
				if err != nil {
					return err
				}
				if ok {
					docs = append(docs, doc)
				}
			}
			return writeBatch(Batch{Add: docs})
		}); err != nil {
			return nil, err
		}

		if err := writeBatchesOf(removed, batchSize, func(chunk []string) error {
			return writeBatch(Batch{Delete: chunk})
		}); err != nil {
			return nil, err
		}

		if err := writeBatchesOf(common, batchSize, func(chunk []string) error {
			var updates []UpdatePatch
			for _, id := range chunk {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				oldDoc, ok, err := old.Get(ctx, id)
				if err != nil || !ok {
					continue
				}
				newDoc, ok, err := new.Get(ctx, id)
				if err != nil || !ok {
					continue
				}
				patch, err := jsonpatch.Diff(oldDoc, newDoc, exclude)
				if err != nil {
					return fmt.Errorf("differ: diff %s: %w", id, err)
				}
				if jsonpatch.IsEmpty(patch) {
					continue
				}
				updates = append(updates, UpdatePatch{ID: id, Patch: patch})
			}
			return writeBatch(Batch{Update: updates})
		}); err != nil {
			return nil, err
		}
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("differ: marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "metadata.json"), raw, 0o644); err != nil {
		return nil, fmt.Errorf("differ: write metadata.json: %w", err)
	}

	return meta, nil
}

// tallyTopLevelKeys counts, for each top-level key, how many of the
// given documents (fetched from loc) contain it.
func tallyTopLevelKeys(ctx context.Context, loc Locator, ids []string) (map[string]int, error) {
	counts := map[string]int{}
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		doc, ok, err := loc.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("differ: fetch %s: %w", id, err)
		}
		if !ok {
			continue
		}
		for key := range doc {
			counts[key]++
		}
	}
	return counts, nil
}

// prepareOutDir creates outDir if absent. If it already holds files, a
// plain diff refuses to run (diff folders are single-writer per
// (old, new) pair and the folder's contents are its identity); purge
// mode clears the existing contents first.
func prepareOutDir(outDir string, mode PurgeMode) error {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(outDir, 0o755)
		}
		return fmt.Errorf("differ: stat output dir %s: %w", outDir, err)
	}
	if len(entries) == 0 {
		return nil
	}
	if mode != PurgePurge {
		return huberrors.ResourceConflict("differ: diff folder %s already has files (use purge)", outDir)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(outDir, e.Name())); err != nil {
			return fmt.Errorf("differ: purge %s: %w", outDir, err)
		}
	}
	return nil
}

func writeBatchesOf(ids []string, batchSize int, fn func(chunk []string) error) error {
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := fn(ids[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// ReadBatch reads and decodes one diff file written by Diff.
func ReadBatch(path string) (Batch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, fmt.Errorf("differ: read %s: %w", path, err)
	}
	var b Batch
	if err := decodeFrame(raw, &b); err != nil {
		return Batch{}, fmt.Errorf("differ: decode %s: %w", path, err)
	}
	return b, nil
}

// ReadMetadata reads the metadata.json written alongside a diff run's
// batch files.
func ReadMetadata(dir string) (*Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("differ: read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("differ: decode metadata: %w", err)
	}
	return &meta, nil
}

// MarkSynced records that target has successfully applied this diff run
// and persists the update, so a retried Sync can skip already-applied
// targets.
func MarkSynced(dir string, meta *Metadata, target string) error {
	if meta.Synced == nil {
		meta.Synced = map[string]bool{}
	}
	meta.Synced[target] = true
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "metadata.json"), raw, 0o644)
}
