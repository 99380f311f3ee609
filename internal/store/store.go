// Package store defines the abstract document-store interface the
// storage strategies (internal/storagestrategy), builder, and syncer
// write through, keeping every backend-specific detail inside a
// concrete adapter (internal/store/mongostore, internal/store/sqlitestore)
// per the hub's "storage strategy is backend-agnostic" design.
package store

import (
	"context"
	"iter"

	"github.com/biohub-dev/biohub/internal/hubtypes"
)

// DocumentStore is a named collection of hubtypes.Document, addressable
// by "_id", that a storage strategy writes into and the builder/syncer
// read from. Implementations are responsible for their own batching and
// connection pooling; callers pass already-batched slices.
type DocumentStore interface {
	// Name is the collection/table name this store addresses.
	Name() string

	// Insert adds docs, failing the whole batch if any _id already
	// exists (used by the Basic strategy).
	Insert(ctx context.Context, docs []hubtypes.Document) (inserted int, err error)

	// Upsert inserts docs that don't exist and replaces those that do.
	Upsert(ctx context.Context, docs []hubtypes.Document) (upserted int, err error)

	// Update replaces only documents that already exist; docs whose
	// _id is absent are silently skipped (root-vs-non-root merge order
	// in the builder relies on this).
	Update(ctx context.Context, docs []hubtypes.Document) (updated int, err error)

	// Remove deletes the documents named by ids.
	Remove(ctx context.Context, ids []string) (removed int, err error)

	// FindByID fetches a single document.
	FindByID(ctx context.Context, id string) (hubtypes.Document, bool, error)

	// All iterates every document in the store in an
	// implementation-defined but stable order.
	All(ctx context.Context) iter.Seq2[hubtypes.Document, error]

	// Count reports the number of documents currently stored.
	Count(ctx context.Context) (int, error)

	// MaxDocumentBytes is the backend's advertised maximum document
	// size; oversized documents are dropped by the storage strategy
	// layer rather than failing the batch.
	MaxDocumentBytes() int

	// RenameTo atomically renames this store to newName, used by the
	// uploader's temp-collection-then-rename pipeline.
	RenameTo(ctx context.Context, newName string) error

	// Drop deletes the entire collection/table.
	Drop(ctx context.Context) error
}

// Opener constructs a named DocumentStore against a backend connection,
// letting callers (uploader, builder) open a temp store and the final
// target store through the same factory.
type Opener interface {
	Open(ctx context.Context, name string) (DocumentStore, error)
}

// CollectionLister is an optional capability backends implement to let
// the uploader enumerate "<name>_archive_*" collections for rotation
// and retention pruning. A backend that doesn't implement it (or a
// caller holding only an Opener) simply skips archiving and overwrites
// the live collection directly.
type CollectionLister interface {
	// ListCollections returns every collection/table name starting
	// with prefix, sorted lexicographically.
	ListCollections(ctx context.Context, prefix string) ([]string, error)
}
