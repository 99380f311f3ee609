// Package index defines the abstract search-index interface the
// builder, syncer, and inspector write through, keeping Elasticsearch
// specifics confined to internal/index/esindex.
package index

import (
	"context"

	"github.com/biohub-dev/biohub/internal/hubtypes"
)

// Mapping is the index's field-type tree (the "properties" object of an
// internal/inspector MappingMode report), sent verbatim as
// `mappings.properties` when esindex creates the index on first Bulk.
type Mapping map[string]any

// SnapshotStatus reports an in-progress or completed snapshot's state,
// mirroring Elasticsearch's own snapshot status vocabulary
// (IN_PROGRESS, SUCCESS, PARTIAL, FAILED).
type SnapshotStatus string

const (
	SnapshotInProgress SnapshotStatus = "IN_PROGRESS"
	SnapshotSuccess    SnapshotStatus = "SUCCESS"
	SnapshotPartial    SnapshotStatus = "PARTIAL"
	SnapshotFailed     SnapshotStatus = "FAILED"
)

// SearchIndex is the backend-agnostic index interface: document
// CRUD/bulk, mapping management, and the snapshot-repository protocol
// used for release promotion.
type SearchIndex interface {
	Name() string

	// Bulk indexes docs, creating the index with mapping on first use
	// if it does not already exist.
	Bulk(ctx context.Context, docs []hubtypes.Document, mapping Mapping) (indexed int, err error)

	// Delete removes documents by id.
	Delete(ctx context.Context, ids []string) (deleted int, err error)

	// Get fetches a single document.
	Get(ctx context.Context, id string) (hubtypes.Document, bool, error)

	// Count returns the number of documents currently indexed.
	Count(ctx context.Context) (int, error)

	// Scroll iterates every document via the backend's cursor/scroll
	// API, yielding an error and stopping on the first failure.
	Scroll(ctx context.Context, batchSize int, yield func([]hubtypes.Document) (bool, error)) error

	// Alias points alias at this index, the final step of a
	// build-then-promote release.
	Alias(ctx context.Context, alias string) error
}

// SnapshotRepository is the subset of the Elasticsearch snapshot API the
// hub uses to back up an index before a risky sync, per §6's
// get_repository/create_repository/create_snapshot/get_restore_status
// protocol.
type SnapshotRepository interface {
	GetRepository(ctx context.Context, name string) (exists bool, err error)
	CreateRepository(ctx context.Context, name, pluginType string, settings map[string]any) error
	CreateSnapshot(ctx context.Context, repository, snapshot string, indices []string) error
	GetSnapshotStatus(ctx context.Context, repository, snapshot string) (SnapshotStatus, error)
	RestoreSnapshot(ctx context.Context, repository, snapshot string, indices []string) error
	GetRestoreStatus(ctx context.Context, indexName string) (SnapshotStatus, error)
}
