// Package hubdb implements the hub's small persistent key-value-ish
// store: source state, build records, and the plugin registry, each
// addressed as a named collection of JSON documents keyed by "_id".
//
// It is backed by SQLite through github.com/ncruces/go-sqlite3 (the
// teacher's own driver choice: a cgo-free, WASM-backed driver that
// keeps HubDB dependency-free of a system SQLite install) and survives
// process restart by construction. Each collection is one table; reads
// and the mutation-operator application happen in Go over the decoded
// JSON document rather than via backend-specific query syntax, mirroring
// the spec's abstract {set, unset, push, addToSet, pop} operator set.
package hubdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/biohub-dev/biohub/internal/hubtypes"
)

// Registered collection names, per §6's persisted-state key list.
const (
	CollectionSrcDump        = "src_dump"
	CollectionSrcBuild       = "src_build"
	CollectionDataPlugin     = "data_plugin"
	CollectionHubConfig      = "hub_config"
	CollectionCommandHistory = "hub_command_history"
	CollectionEvent          = "hub_event"
)

var allCollections = []string{
	CollectionSrcDump,
	CollectionSrcBuild,
	CollectionDataPlugin,
	CollectionHubConfig,
	CollectionCommandHistory,
	CollectionEvent,
}

// DB is the HubDB handle. One DB per process; safe for concurrent use
// by multiple managers (dumper, uploader, builder, ...) since every
// write runs inside a BEGIN IMMEDIATE transaction, the same pattern the
// teacher's storage layer uses to serialize concurrent SQLite writers.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
	lock *flock.Flock
}

// Open opens (creating if necessary) the SQLite file at path and
// ensures every registered collection's table exists. A
// github.com/gofrs/flock advisory lock on path+".lock" guards against
// two hub processes opening the same HubDB file at once — SQLite's own
// single-writer guarantee covers concurrent writers within one process,
// not a second daemon started against the same file by mistake.
func Open(ctx context.Context, path string) (*DB, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("hubdb: lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("hubdb: %s is already open by another process", path)
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("hubdb: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1) // SQLite write-serialized; matches teacher's single-writer idiom

	db := &DB{conn: conn, lock: lock}
	for _, name := range allCollections {
		if err := db.ensureTable(ctx, name); err != nil {
			_ = conn.Close()
			_ = lock.Unlock()
			return nil, err
		}
	}
	return db, nil
}

func (db *DB) ensureTable(ctx context.Context, name string) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL
	)`, name)
	_, err := db.conn.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("hubdb: ensure table %s: %w", name, err)
	}
	return nil
}

// Close closes the underlying connection and releases the file lock.
func (db *DB) Close() error {
	err := db.conn.Close()
	if unlockErr := db.lock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

// Collection returns a handle to the named collection.
func (db *DB) Collection(name string) *Collection {
	return &Collection{db: db, name: name}
}

// Collection is one HubDB collection: a set of JSON documents keyed by
// their "_id" field.
type Collection struct {
	db   *DB
	name string
}

// execer is the subset of *sql.Conn used inside a transaction; it lets
// withTx's callback run the same statements against either a dedicated
// connection (write path) or the pooled *sql.DB (read path via loadAll).
type execer interface {
	querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// withTx acquires a dedicated connection, opens a write transaction
// with BEGIN IMMEDIATE (acquiring SQLite's write lock up front, the
// same idiom the teacher's Transaction type documents to avoid
// deadlocks between concurrent writers), runs fn, and commits or rolls
// back. Only one withTx runs at a time per DB via db.mu, since HubDB is
// meant to be a small, simply-serialized store rather than a
// high-throughput one.
func (c *Collection) withTx(ctx context.Context, fn func(tx execer) error) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	conn, err := c.db.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("hubdb: acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("hubdb: begin immediate: %w", err)
	}
	if err := fn(conn); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("hubdb: commit: %w", err)
	}
	return nil
}

func (c *Collection) loadAll(ctx context.Context, q querier) ([]hubtypes.Document, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT doc FROM %q`, c.name))
	if err != nil {
		return nil, fmt.Errorf("hubdb: query %s: %w", c.name, err)
	}
	defer rows.Close()

	var docs []hubtypes.Document
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("hubdb: scan %s: %w", c.name, err)
		}
		var doc hubtypes.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("hubdb: decode %s: %w", c.name, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Filter is an equality filter over a document's (possibly dotted)
// field paths, e.g. {"download.status": "success"}.
type Filter map[string]any

func (f Filter) matches(doc hubtypes.Document) bool {
	for path, want := range f {
		got, ok := getPath(doc, path)
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// Find returns every document matching filter, ordered by "_id" for
// deterministic iteration.
func (c *Collection) Find(ctx context.Context, filter Filter) ([]hubtypes.Document, error) {
	docs, err := c.loadAll(ctx, c.db.conn)
	if err != nil {
		return nil, err
	}
	var out []hubtypes.Document
	for _, d := range docs {
		if filter.matches(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// FindOne returns the first document matching filter.
func (c *Collection) FindOne(ctx context.Context, filter Filter) (hubtypes.Document, bool, error) {
	docs, err := c.Find(ctx, filter)
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

// InsertOne inserts doc, which must have a non-empty "_id".
func (c *Collection) InsertOne(ctx context.Context, doc hubtypes.Document) error {
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("hubdb: insert into %s: document has no _id", c.name)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("hubdb: marshal document: %w", err)
	}
	return c.withTx(ctx, func(tx execer) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %q (id, doc) VALUES (?, ?)`, c.name), id, string(raw))
		if err != nil {
			return fmt.Errorf("hubdb: insert into %s: %w", c.name, err)
		}
		return nil
	})
}

// ReplaceOne replaces the first document matching filter with doc.
func (c *Collection) ReplaceOne(ctx context.Context, filter Filter, doc hubtypes.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("hubdb: marshal document: %w", err)
	}
	return c.withTx(ctx, func(tx execer) error {
		docs, err := c.loadAll(ctx, tx)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if filter.matches(d) {
				_, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %q SET doc = ? WHERE id = ?`, c.name), string(raw), d.ID())
				return err
			}
		}
		return fmt.Errorf("hubdb: replace in %s: no document matched filter", c.name)
	})
}

// Remove deletes every document matching filter and returns the count
// removed.
func (c *Collection) Remove(ctx context.Context, filter Filter) (int64, error) {
	var removed int64
	err := c.withTx(ctx, func(tx execer) error {
		docs, err := c.loadAll(ctx, tx)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if filter.matches(d) {
				res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, c.name), d.ID())
				if err != nil {
					return err
				}
				n, _ := res.RowsAffected()
				removed += n
			}
		}
		return nil
	})
	return removed, err
}

// Count returns the number of documents in the collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	row := c.db.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, c.name))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("hubdb: count %s: %w", c.name, err)
	}
	return n, nil
}

// Mutation is the abstract operator set applied by UpdateOne: set,
// unset, push (append to array), addToSet (append if absent), and pop
// (remove from front/back of array).
type Mutation struct {
	Set      map[string]any
	Unset    []string
	Push     map[string]any
	AddToSet map[string]any
	// Pop maps a field path to 1 (remove last element) or -1 (remove first).
	Pop map[string]int
}

// UpdateOne applies mutation to the first document matching filter. If
// upsert is true and no document matches, a new document is created
// from filter's equality constraints plus the mutation's Set values.
func (c *Collection) UpdateOne(ctx context.Context, filter Filter, mutation Mutation, upsert bool) error {
	return c.withTx(ctx, func(tx execer) error {
		docs, err := c.loadAll(ctx, tx)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if filter.matches(d) {
				applyMutation(d, mutation)
				raw, err := json.Marshal(d)
				if err != nil {
					return err
				}
				_, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %q SET doc = ? WHERE id = ?`, c.name), string(raw), d.ID())
				return err
			}
		}
		if !upsert {
			return fmt.Errorf("hubdb: update in %s: no document matched filter", c.name)
		}
		doc := hubtypes.Document{}
		for k, v := range filter {
			setPath(doc, k, v)
		}
		applyMutation(doc, mutation)
		id := doc.ID()
		if id == "" {
			return fmt.Errorf("hubdb: upsert into %s: resulting document has no _id", c.name)
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %q (id, doc) VALUES (?, ?)`, c.name), id, string(raw))
		return err
	})
}

func applyMutation(doc hubtypes.Document, m Mutation) {
	for k, v := range m.Set {
		setPath(doc, k, v)
	}
	for _, k := range m.Unset {
		unsetPath(doc, k)
	}
	for k, v := range m.Push {
		arr, _ := getPath(doc, k)
		list, _ := arr.([]any)
		list = append(list, v)
		setPath(doc, k, list)
	}
	for k, v := range m.AddToSet {
		arr, _ := getPath(doc, k)
		list, _ := arr.([]any)
		found := false
		for _, existing := range list {
			if fmt.Sprint(existing) == fmt.Sprint(v) {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
		setPath(doc, k, list)
	}
	for k, dir := range m.Pop {
		arr, _ := getPath(doc, k)
		list, _ := arr.([]any)
		if len(list) == 0 {
			continue
		}
		if dir >= 0 {
			list = list[:len(list)-1]
		} else {
			list = list[1:]
		}
		setPath(doc, k, list)
	}
}
