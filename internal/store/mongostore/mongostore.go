// Package mongostore implements store.DocumentStore over MongoDB using
// go.mongodb.org/mongo-driver — the production-scale backend behind the
// abstract DocumentStore interface, alongside internal/store/sqlitestore
// as the dependency-free default.
package mongostore

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/biohub-dev/biohub/internal/hubtypes"
	"github.com/biohub-dev/biohub/internal/store"
)

// maxDocumentBytes matches MongoDB's own 16MiB BSON document cap.
const maxDocumentBytes = 16 * 1024 * 1024

// Backend opens DocumentStores as collections within one Mongo database.
type Backend struct {
	db *mongo.Database
}

// Connect dials uri and returns a Backend bound to database dbName.
func Connect(ctx context.Context, uri, dbName string) (*Backend, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	return &Backend{db: client.Database(dbName)}, nil
}

func (b *Backend) Close(ctx context.Context) error { return b.db.Client().Disconnect(ctx) }

var _ store.Opener = (*Backend)(nil)

func (b *Backend) Open(ctx context.Context, name string) (store.DocumentStore, error) {
	return &Store{coll: b.db.Collection(name), db: b.db, name: name}, nil
}

// ListCollections returns every collection name starting with prefix,
// sorted lexicographically.
func (b *Backend) ListCollections(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{"name": bson.M{"$regex": "^" + regexpQuoteMeta(prefix)}}
	names, err := b.db.ListCollectionNames(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongostore: list collections with prefix %s: %w", prefix, err)
	}
	sort.Strings(names)
	return names, nil
}

func regexpQuoteMeta(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\.+*?()|[]{}^$`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ store.CollectionLister = (*Backend)(nil)

// Store is one Mongo collection viewed as a DocumentStore.
type Store struct {
	coll *mongo.Collection
	db   *mongo.Database
	name string
}

var _ store.DocumentStore = (*Store)(nil)

func (s *Store) Name() string { return s.name }

func toBSON(d hubtypes.Document) bson.M {
	m := bson.M{}
	for k, v := range d {
		if k == "_id" {
			continue
		}
		m[k] = v
	}
	m["_id"] = d.ID()
	return m
}

func fromBSON(raw bson.M) hubtypes.Document {
	doc := hubtypes.Document{}
	for k, v := range raw {
		doc[k] = v
	}
	if id, ok := raw["_id"]; ok {
		if s, ok := id.(string); ok {
			doc["_id"] = s
		}
	}
	return doc
}

func (s *Store) Insert(ctx context.Context, docs []hubtypes.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	models := make([]any, 0, len(docs))
	for _, d := range docs {
		if d.ID() == "" {
			return 0, fmt.Errorf("mongostore: insert into %s: document has no _id", s.name)
		}
		models = append(models, toBSON(d))
	}
	res, err := s.coll.InsertMany(ctx, models)
	if err != nil {
		return len(res.InsertedIDs), fmt.Errorf("mongostore: insert into %s: %w", s.name, err)
	}
	return len(res.InsertedIDs), nil
}

func (s *Store) Upsert(ctx context.Context, docs []hubtypes.Document) (int, error) {
	var n int
	for _, d := range docs {
		id := d.ID()
		if id == "" {
			return n, fmt.Errorf("mongostore: upsert into %s: document has no _id", s.name)
		}
		_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": id}, toBSON(d), options.Replace().SetUpsert(true))
		if err != nil {
			return n, fmt.Errorf("mongostore: upsert %s in %s: %w", id, s.name, err)
		}
		n++
	}
	return n, nil
}

func (s *Store) Update(ctx context.Context, docs []hubtypes.Document) (int, error) {
	var n int
	for _, d := range docs {
		id := d.ID()
		if id == "" {
			continue
		}
		res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": id}, toBSON(d))
		if err != nil {
			return n, fmt.Errorf("mongostore: update %s in %s: %w", id, s.name, err)
		}
		n += int(res.ModifiedCount)
	}
	return n, nil
}

func (s *Store) Remove(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	anyIDs := make([]any, len(ids))
	for i, id := range ids {
		anyIDs[i] = id
	}
	res, err := s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": anyIDs}})
	if err != nil {
		return 0, fmt.Errorf("mongostore: remove from %s: %w", s.name, err)
	}
	return int(res.DeletedCount), nil
}

func (s *Store) FindByID(ctx context.Context, id string) (hubtypes.Document, bool, error) {
	var raw bson.M
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mongostore: find %s in %s: %w", id, s.name, err)
	}
	return fromBSON(raw), true, nil
}

func (s *Store) All(ctx context.Context) iter.Seq2[hubtypes.Document, error] {
	return func(yield func(hubtypes.Document, error) bool) {
		cur, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
		if err != nil {
			yield(nil, fmt.Errorf("mongostore: find all in %s: %w", s.name, err))
			return
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var raw bson.M
			if err := cur.Decode(&raw); err != nil {
				if !yield(nil, fmt.Errorf("mongostore: decode %s: %w", s.name, err)) {
					return
				}
				continue
			}
			if !yield(fromBSON(raw), nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("mongostore: count %s: %w", s.name, err)
	}
	return int(n), nil
}

func (s *Store) MaxDocumentBytes() int { return maxDocumentBytes }

// RenameTo issues the `renameCollection` admin command, matching the
// uploader's atomic temp-collection swap.
func (s *Store) RenameTo(ctx context.Context, newName string) error {
	fullFrom := fmt.Sprintf("%s.%s", s.db.Name(), s.name)
	fullTo := fmt.Sprintf("%s.%s", s.db.Name(), newName)
	admin := s.db.Client().Database("admin")
	cmd := bson.D{
		{Key: "renameCollection", Value: fullFrom},
		{Key: "to", Value: fullTo},
		{Key: "dropTarget", Value: true},
	}
	if err := admin.RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("mongostore: rename %s to %s: %w", s.name, newName, err)
	}
	s.name = newName
	s.coll = s.db.Collection(newName)
	return nil
}

func (s *Store) Drop(ctx context.Context) error {
	if err := s.coll.Drop(ctx); err != nil {
		return fmt.Errorf("mongostore: drop %s: %w", s.name, err)
	}
	return nil
}
