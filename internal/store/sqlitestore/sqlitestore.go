// Package sqlitestore implements store.DocumentStore over SQLite,
// reusing the same ncruces/go-sqlite3 driver and BEGIN IMMEDIATE
// write-serialization idiom as internal/hubdb, but as a
// document-store-shaped adapter (one table per collection, opened on
// demand) rather than hubdb's fixed collection set.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/biohub-dev/biohub/internal/hubtypes"
	"github.com/biohub-dev/biohub/internal/store"
)

// maxDocumentBytes bounds a single JSON-encoded document; SQLite's
// own TEXT column limit is far higher, but this keeps behavior
// consistent with the elasticsearch/mongo adapters' advertised caps.
const maxDocumentBytes = 16 * 1024 * 1024

// Backend opens DocumentStores against one SQLite database file.
type Backend struct {
	conn *sql.DB
	mu   sync.Mutex
}

// Open opens (creating if necessary) the SQLite file at path.
func Open(path string) (*Backend, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	return &Backend{conn: conn}, nil
}

func (b *Backend) Close() error { return b.conn.Close() }

var _ store.Opener = (*Backend)(nil)

// Open returns a DocumentStore for the named table, creating it if
// necessary.
func (b *Backend) Open(ctx context.Context, name string) (store.DocumentStore, error) {
	s := &Store{backend: b, name: name}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ListCollections returns every table name starting with prefix,
// sorted lexicographically (sqlite_master is already walked in name
// order via ORDER BY).
func (b *Backend) ListCollections(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.conn.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ? ESCAPE '\' ORDER BY name`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list collections with prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan collection name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var _ store.CollectionLister = (*Backend)(nil)

// Store is one table-backed document collection.
type Store struct {
	backend *Backend
	name    string
}

var _ store.DocumentStore = (*Store)(nil)

func (s *Store) Name() string { return s.name }

func (s *Store) ensureTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (id TEXT PRIMARY KEY, doc TEXT NOT NULL)`, s.name)
	_, err := s.backend.conn.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("sqlitestore: ensure table %s: %w", s.name, err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Conn) error) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	conn, err := s.backend.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("sqlitestore: begin immediate: %w", err)
	}
	if err := fn(conn); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, docs []hubtypes.Document) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Conn) error {
		for _, d := range docs {
			id := d.ID()
			if id == "" {
				return fmt.Errorf("sqlitestore: insert into %s: document has no _id", s.name)
			}
			if len(d) == 0 {
				continue
			}
			raw, err := json.Marshal(d)
			if err != nil {
				return err
			}
			if len(raw) > maxDocumentBytes {
				continue // oversized documents dropped, not failed
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %q (id, doc) VALUES (?, ?)`, s.name), id, string(raw)); err != nil {
				return fmt.Errorf("sqlitestore: insert into %s: %w", s.name, err)
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) Upsert(ctx context.Context, docs []hubtypes.Document) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Conn) error {
		for _, d := range docs {
			id := d.ID()
			if id == "" {
				return fmt.Errorf("sqlitestore: upsert into %s: document has no _id", s.name)
			}
			raw, err := json.Marshal(d)
			if err != nil {
				return err
			}
			if len(raw) > maxDocumentBytes {
				continue
			}
			_, err = tx.ExecContext(ctx,
				fmt.Sprintf(`INSERT INTO %q (id, doc) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`, s.name),
				id, string(raw))
			if err != nil {
				return fmt.Errorf("sqlitestore: upsert into %s: %w", s.name, err)
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) Update(ctx context.Context, docs []hubtypes.Document) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Conn) error {
		for _, d := range docs {
			id := d.ID()
			if id == "" {
				continue
			}
			raw, err := json.Marshal(d)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %q SET doc = ? WHERE id = ?`, s.name), string(raw), id)
			if err != nil {
				return fmt.Errorf("sqlitestore: update in %s: %w", s.name, err)
			}
			affected, _ := res.RowsAffected()
			n += int(affected)
		}
		return nil
	})
	return n, err
}

func (s *Store) Remove(ctx context.Context, ids []string) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Conn) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, s.name), id)
			if err != nil {
				return fmt.Errorf("sqlitestore: remove from %s: %w", s.name, err)
			}
			affected, _ := res.RowsAffected()
			n += int(affected)
		}
		return nil
	})
	return n, err
}

func (s *Store) FindByID(ctx context.Context, id string) (hubtypes.Document, bool, error) {
	row := s.backend.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT doc FROM %q WHERE id = ?`, s.name), id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sqlitestore: find %s in %s: %w", id, s.name, err)
	}
	var doc hubtypes.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, fmt.Errorf("sqlitestore: decode %s: %w", s.name, err)
	}
	return doc, true, nil
}

func (s *Store) All(ctx context.Context) iter.Seq2[hubtypes.Document, error] {
	return func(yield func(hubtypes.Document, error) bool) {
		rows, err := s.backend.conn.QueryContext(ctx, fmt.Sprintf(`SELECT doc FROM %q ORDER BY id`, s.name))
		if err != nil {
			yield(nil, fmt.Errorf("sqlitestore: query %s: %w", s.name, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				yield(nil, fmt.Errorf("sqlitestore: scan %s: %w", s.name, err))
				return
			}
			var doc hubtypes.Document
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				if !yield(nil, fmt.Errorf("sqlitestore: decode %s: %w", s.name, err)) {
					return
				}
				continue
			}
			if !yield(doc, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	row := s.backend.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, s.name))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlitestore: count %s: %w", s.name, err)
	}
	return n, nil
}

func (s *Store) MaxDocumentBytes() int { return maxDocumentBytes }

func (s *Store) RenameTo(ctx context.Context, newName string) error {
	return s.withTx(ctx, func(tx *sql.Conn) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, newName))
		if err != nil {
			return fmt.Errorf("sqlitestore: drop existing %s before rename: %w", newName, err)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %q RENAME TO %q`, s.name, newName))
		if err != nil {
			return fmt.Errorf("sqlitestore: rename %s to %s: %w", s.name, newName, err)
		}
		s.name = newName
		return nil
	})
}

func (s *Store) Drop(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Conn) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, s.name))
		if err != nil {
			return fmt.Errorf("sqlitestore: drop %s: %w", s.name, err)
		}
		return nil
	})
}
