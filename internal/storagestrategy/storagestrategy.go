// Package storagestrategy implements the hub's pluggable storage
// strategies — the policies governing how parsed documents land in a
// store.DocumentStore during an upload or build. Every variant is
// written against the abstract store.DocumentStore interface; no
// variant here knows whether it is writing to Mongo, SQLite, or
// anything else, per the REDESIGN FLAGS guidance keeping backend
// specifics confined to the store adapters.
package storagestrategy

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/biohub-dev/biohub/internal/hubtypes"
	"github.com/biohub-dev/biohub/internal/store"
)

// Strategy stores a stream of documents into a target, batching writes
// at batchSize.
type Strategy interface {
	Store(ctx context.Context, docs iter.Seq[hubtypes.Document], batchSize int) (stored int, err error)
}

// batcher collects docs from seq into slices of at most batchSize,
// dropping any document larger than target's advertised
// MaxDocumentBytes with a warning rather than failing the batch.
func batcher(ctx context.Context, log *zap.Logger, target store.DocumentStore, docs iter.Seq[hubtypes.Document], batchSize int, flush func([]hubtypes.Document) (int, error)) (int, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var batch []hubtypes.Document
	var total int

	flushBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := flush(batch)
		total += n
		batch = batch[:0]
		return err
	}

	for doc := range docs {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		if size := approxSize(doc); size > target.MaxDocumentBytes() {
			log.Warn("dropping oversized document",
				zap.String("id", doc.ID()),
				zap.Int("size_bytes", size),
				zap.Int("max_bytes", target.MaxDocumentBytes()))
			continue
		}
		batch = append(batch, doc)
		if len(batch) >= batchSize {
			if err := flushBatch(); err != nil {
				return total, err
			}
		}
	}
	if err := flushBatch(); err != nil {
		return total, err
	}
	return total, nil
}

func approxSize(doc hubtypes.Document) int {
	n := 2 // braces
	for k, v := range doc {
		n += len(k) + 8
		n += len(fmt.Sprint(v))
	}
	return n
}

// Basic inserts every document, failing the whole batch if any _id
// collides with an existing document.
type Basic struct {
	Log    *zap.Logger
	Target store.DocumentStore
}

func (s *Basic) Store(ctx context.Context, docs iter.Seq[hubtypes.Document], batchSize int) (int, error) {
	return batcher(ctx, s.Log, s.Target, docs, batchSize, func(batch []hubtypes.Document) (int, error) {
		n, err := s.Target.Insert(ctx, batch)
		if err != nil {
			return n, fmt.Errorf("storagestrategy: basic insert: %w", err)
		}
		return n, nil
	})
}

// IgnoreDuplicated inserts documents one at a time per batch, skipping
// (and logging) any whose _id already exists instead of failing the
// whole batch the way Basic does.
type IgnoreDuplicated struct {
	Log    *zap.Logger
	Target store.DocumentStore
}

func (s *IgnoreDuplicated) Store(ctx context.Context, docs iter.Seq[hubtypes.Document], batchSize int) (int, error) {
	return batcher(ctx, s.Log, s.Target, docs, batchSize, func(batch []hubtypes.Document) (int, error) {
		var stored int
		for _, d := range batch {
			n, err := s.Target.Insert(ctx, []hubtypes.Document{d})
			if err != nil {
				s.Log.Debug("ignoring duplicate document", zap.String("id", d.ID()), zap.Error(err))
				continue
			}
			stored += n
		}
		return stored, nil
	})
}

// NoBatchIgnoreDuplicated is IgnoreDuplicated without batching: every
// document is inserted (and possibly skipped) individually regardless
// of batchSize, for plugins whose documents are too large or too rare
// to benefit from batching.
type NoBatchIgnoreDuplicated struct {
	Log    *zap.Logger
	Target store.DocumentStore
}

func (s *NoBatchIgnoreDuplicated) Store(ctx context.Context, docs iter.Seq[hubtypes.Document], _ int) (int, error) {
	return batcher(ctx, s.Log, s.Target, docs, 1, func(batch []hubtypes.Document) (int, error) {
		n, err := s.Target.Insert(ctx, batch)
		if err != nil {
			s.Log.Debug("ignoring duplicate document", zap.String("id", batch[0].ID()), zap.Error(err))
			return 0, nil
		}
		return n, nil
	})
}

// Merge deep-merges each document into any existing document sharing
// its _id, rather than replacing it outright. AsListOfDict names the
// top-level keys whose values should be merged as "list of dict, keyed
// by the dict's own identity" instead of concatenated blindly.
type Merge struct {
	Log         *zap.Logger
	Target      store.DocumentStore
	AsListOfDict map[string]string // field -> key used to identify list elements
}

func (s *Merge) Store(ctx context.Context, docs iter.Seq[hubtypes.Document], batchSize int) (int, error) {
	return batcher(ctx, s.Log, s.Target, docs, batchSize, func(batch []hubtypes.Document) (int, error) {
		var stored int
		for _, d := range batch {
			existing, ok, err := s.Target.FindByID(ctx, d.ID())
			if err != nil {
				return stored, fmt.Errorf("storagestrategy: merge lookup %s: %w", d.ID(), err)
			}
			merged := d
			if ok {
				merged = deepMerge(existing, d, s.AsListOfDict)
			}
			n, err := s.Target.Upsert(ctx, []hubtypes.Document{merged})
			if err != nil {
				return stored, fmt.Errorf("storagestrategy: merge upsert %s: %w", d.ID(), err)
			}
			stored += n
		}
		return stored, nil
	})
}

// DeepMerge merges src into dst field by field, recursing into nested
// maps and, for list fields named in listKeys, merging list-of-dict
// elements by the named key field instead of concatenating. Exported so
// callers outside this package (the builder's non-root merge pass,
// which must merge into an existing document without ever inserting a
// new one) can reuse the same merge semantics as the Merge strategy.
func DeepMerge(dst, src hubtypes.Document, listKeys map[string]string) hubtypes.Document {
	return deepMerge(dst, src, listKeys)
}

func deepMerge(dst, src hubtypes.Document, listKeys map[string]string) hubtypes.Document {
	out := dst.Clone()
	for k, v := range src {
		existing, present := out[k]
		if !present {
			out[k] = v
			continue
		}
		switch sv := v.(type) {
		case map[string]any:
			if ev, ok := existing.(map[string]any); ok {
				out[k] = deepMerge(ev, sv, listKeys)
				continue
			}
			out[k] = sv
		case []any:
			if keyField, ok := listKeys[k]; ok {
				if ev, ok := existing.([]any); ok {
					out[k] = mergeListOfDict(ev, sv, keyField)
					continue
				}
			}
			out[k] = sv
		default:
			out[k] = sv
		}
	}
	return out
}

func mergeListOfDict(dst, src []any, keyField string) []any {
	byKey := map[string]int{}
	out := append([]any{}, dst...)
	for i, item := range out {
		if m, ok := item.(map[string]any); ok {
			if key, ok := m[keyField]; ok {
				byKey[fmt.Sprint(key)] = i
			}
		}
	}
	for _, item := range src {
		m, ok := item.(map[string]any)
		if !ok {
			out = append(out, item)
			continue
		}
		key, ok := m[keyField]
		if !ok {
			out = append(out, item)
			continue
		}
		if idx, exists := byKey[fmt.Sprint(key)]; exists {
			existing, _ := out[idx].(map[string]any)
			out[idx] = deepMerge(existing, m, nil)
			continue
		}
		byKey[fmt.Sprint(key)] = len(out)
		out = append(out, item)
	}
	return out
}

// RootKeyMerge is Merge restricted to a named top-level key: only that
// field is deep-merged, every other top-level field in the incoming
// document replaces the existing one outright.
type RootKeyMerge struct {
	Log         *zap.Logger
	Target      store.DocumentStore
	RootKey     string
	AsListOfDict map[string]string
}

func (s *RootKeyMerge) Store(ctx context.Context, docs iter.Seq[hubtypes.Document], batchSize int) (int, error) {
	return batcher(ctx, s.Log, s.Target, docs, batchSize, func(batch []hubtypes.Document) (int, error) {
		var stored int
		for _, d := range batch {
			existing, ok, err := s.Target.FindByID(ctx, d.ID())
			if err != nil {
				return stored, fmt.Errorf("storagestrategy: root-key merge lookup %s: %w", d.ID(), err)
			}
			merged := d
			if ok {
				merged = existing.Clone()
				for k, v := range d {
					if k == s.RootKey {
						if ev, ok := existing[k].(map[string]any); ok {
							if sv, ok := v.(map[string]any); ok {
								merged[k] = deepMerge(ev, sv, s.AsListOfDict)
								continue
							}
						}
					}
					merged[k] = v
				}
			}
			n, err := s.Target.Upsert(ctx, []hubtypes.Document{merged})
			if err != nil {
				return stored, fmt.Errorf("storagestrategy: root-key merge upsert %s: %w", d.ID(), err)
			}
			stored += n
		}
		return stored, nil
	})
}

// Upsert inserts or replaces wholesale — no merge semantics — per
// document _id.
type Upsert struct {
	Log    *zap.Logger
	Target store.DocumentStore
}

func (s *Upsert) Store(ctx context.Context, docs iter.Seq[hubtypes.Document], batchSize int) (int, error) {
	return batcher(ctx, s.Log, s.Target, docs, batchSize, func(batch []hubtypes.Document) (int, error) {
		n, err := s.Target.Upsert(ctx, batch)
		if err != nil {
			return n, fmt.Errorf("storagestrategy: upsert: %w", err)
		}
		return n, nil
	})
}

// NoStorage discards every document, counting what it saw; used by
// "check only" dry runs and plugins whose parser is exercised purely
// for validation.
type NoStorage struct{}

func (NoStorage) Store(ctx context.Context, docs iter.Seq[hubtypes.Document], _ int) (int, error) {
	var n int
	for range docs {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		default:
		}
		n++
	}
	return n, nil
}
