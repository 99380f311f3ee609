package hubdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/biohub-dev/biohub/internal/hubtypes"
)

// Source is the "src_dump" collection's document shape: a named data
// origin with download and per-sub-source upload state, plus the
// pending-flags set the dumper/uploader poll against.
type Source struct {
	ID       string                              `json:"_id"`
	Download hubtypes.DownloadState              `json:"download"`
	Upload   map[string]hubtypes.UploadJobState   `json:"upload_jobs,omitempty"`
	Pending  []string                             `json:"pending,omitempty"`
}

func (s *Source) toDocument() (hubtypes.Document, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var doc hubtypes.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func sourceFromDocument(doc hubtypes.Document) (*Source, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var s Source
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SourceRepo wraps the src_dump collection with typed accessors.
type SourceRepo struct{ col *Collection }

func (db *DB) Sources() *SourceRepo { return &SourceRepo{col: db.Collection(CollectionSrcDump)} }

func (r *SourceRepo) Get(ctx context.Context, id string) (*Source, bool, error) {
	doc, ok, err := r.col.FindOne(ctx, Filter{"_id": id})
	if err != nil || !ok {
		return nil, ok, err
	}
	s, err := sourceFromDocument(doc)
	return s, true, err
}

func (r *SourceRepo) Upsert(ctx context.Context, s *Source) error {
	doc, err := s.toDocument()
	if err != nil {
		return err
	}
	_, exists, err := r.col.FindOne(ctx, Filter{"_id": s.ID})
	if err != nil {
		return err
	}
	if exists {
		return r.col.ReplaceOne(ctx, Filter{"_id": s.ID}, doc)
	}
	return r.col.InsertOne(ctx, doc)
}

func (r *SourceRepo) All(ctx context.Context) ([]*Source, error) {
	docs, err := r.col.Find(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*Source, 0, len(docs))
	for _, d := range docs {
		s, err := sourceFromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *SourceRepo) Remove(ctx context.Context, id string) error {
	_, err := r.col.Remove(ctx, Filter{"_id": id})
	return err
}

// BuildRun is one append-only entry of a BuildConfig's build history.
type BuildRun struct {
	Status        hubtypes.RunStatus `json:"status"`
	StartedAt     time.Time          `json:"started_at"`
	StepStartedAt time.Time          `json:"step_started_at,omitempty"`
	ElapsedSecs   float64            `json:"elapsed_s,omitempty"`
	SrcCounts     map[string]int     `json:"src_counts,omitempty"`
	SrcVersions   map[string]string  `json:"src_versions,omitempty"`
	TargetBackend string             `json:"target_backend,omitempty"`
	TargetName    string             `json:"target_name,omitempty"`
	Logfile       string             `json:"logfile,omitempty"`
	Error         string             `json:"err,omitempty"`
}

// BuildConfig is the "src_build" collection's document shape: the named
// recipe describing which source collections merge into a target, and
// the append-only (capped) history of build attempts.
type BuildConfig struct {
	ID      string     `json:"_id"`
	Sources []string   `json:"sources"`
	Root    []string   `json:"root,omitempty"`
	Build   []BuildRun `json:"build,omitempty"`
}

// BuildRepo wraps the src_build collection.
type BuildRepo struct {
	col   *Collection
	keepN int
}

func (db *DB) Builds(keepN int) *BuildRepo {
	return &BuildRepo{col: db.Collection(CollectionSrcBuild), keepN: keepN}
}

func (r *BuildRepo) Get(ctx context.Context, id string) (*BuildConfig, bool, error) {
	doc, ok, err := r.col.FindOne(ctx, Filter{"_id": id})
	if err != nil || !ok {
		return nil, ok, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, false, err
	}
	var cfg BuildConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, false, err
	}
	return &cfg, true, nil
}

// AppendRun appends run to cfg's build history, dropping the oldest
// entries beyond keepN (§3: "oldest entries are dropped first").
func (r *BuildRepo) AppendRun(ctx context.Context, cfg *BuildConfig, run BuildRun) error {
	cfg.Build = append(cfg.Build, run)
	if r.keepN > 0 && len(cfg.Build) > r.keepN {
		cfg.Build = cfg.Build[len(cfg.Build)-r.keepN:]
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var doc hubtypes.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	_, exists, err := r.col.FindOne(ctx, Filter{"_id": cfg.ID})
	if err != nil {
		return err
	}
	if exists {
		return r.col.ReplaceOne(ctx, Filter{"_id": cfg.ID}, doc)
	}
	return r.col.InsertOne(ctx, doc)
}

// PluginRecord is the "data_plugin" collection's document shape.
type PluginRecord struct {
	ID            string `json:"_id"`
	URL           string `json:"url"`
	Type          string `json:"type"` // "github" | "local"
	Active        bool   `json:"active"`
	DataFolder    string `json:"data_folder,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	BiothingType  string `json:"biothing_type,omitempty"`
}

// PluginRepo wraps the data_plugin collection.
type PluginRepo struct{ col *Collection }

func (db *DB) Plugins() *PluginRepo { return &PluginRepo{col: db.Collection(CollectionDataPlugin)} }

func (r *PluginRepo) Get(ctx context.Context, id string) (*PluginRecord, bool, error) {
	doc, ok, err := r.col.FindOne(ctx, Filter{"_id": id})
	if err != nil || !ok {
		return nil, ok, err
	}
	raw, _ := json.Marshal(doc)
	var p PluginRecord
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (r *PluginRepo) Upsert(ctx context.Context, p *PluginRecord) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var doc hubtypes.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	_, exists, err := r.col.FindOne(ctx, Filter{"_id": p.ID})
	if err != nil {
		return err
	}
	if exists {
		return r.col.ReplaceOne(ctx, Filter{"_id": p.ID}, doc)
	}
	return r.col.InsertOne(ctx, doc)
}

// Rename performs the plugin loader's canonical-naming rename: insert
// the record under newID, then remove oldID, matching the teacher's
// daemon.Registry rename-by-insert/remove pattern so a crash between
// the two steps leaves both ids resolvable rather than neither.
func (r *PluginRepo) Rename(ctx context.Context, oldID, newID string) error {
	p, ok, err := r.Get(ctx, oldID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("hubdb: rename plugin %s: not found", oldID)
	}
	p.ID = newID
	if err := r.Upsert(ctx, p); err != nil {
		return err
	}
	_, err = r.col.Remove(ctx, Filter{"_id": oldID})
	return err
}

func (r *PluginRepo) All(ctx context.Context) ([]*PluginRecord, error) {
	docs, err := r.col.Find(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*PluginRecord, 0, len(docs))
	for _, d := range docs {
		raw, _ := json.Marshal(d)
		var p PluginRecord
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, nil
}

// CommandHistoryEntry is one CLI-invoked operation, appended to
// "hub_command_history" by cmd/hub after the operation has run — the
// audit trail the original hub's src_dump/event logging provided but
// spec.md's distillation didn't carry forward explicitly.
type CommandHistoryEntry struct {
	ID        string    `json:"_id"`
	Command   string    `json:"command"`
	Args      []string  `json:"args,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}

// CommandHistoryRepo wraps the hub_command_history collection.
type CommandHistoryRepo struct{ col *Collection }

func (db *DB) CommandHistory() *CommandHistoryRepo {
	return &CommandHistoryRepo{col: db.Collection(CollectionCommandHistory)}
}

func (r *CommandHistoryRepo) Append(ctx context.Context, e CommandHistoryEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var doc hubtypes.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return r.col.InsertOne(ctx, doc)
}

func (r *CommandHistoryRepo) All(ctx context.Context) ([]CommandHistoryEntry, error) {
	docs, err := r.col.Find(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]CommandHistoryEntry, 0, len(docs))
	for _, d := range docs {
		raw, _ := json.Marshal(d)
		var e CommandHistoryEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Event is one operation-outcome notice appended to "hub_event" — one
// per dump/upload/build/diff/sync/plugin command, recorded independently of the
// per-source status documents, so an operator can tail a single
// chronological stream instead of diffing status snapshots.
type Event struct {
	ID       string    `json:"_id"`
	Category string    `json:"category"` // "dump" | "upload" | "build" | "diff" | "sync" | "plugin"
	Source   string    `json:"source,omitempty"`
	Status   string    `json:"status"`
	At       time.Time `json:"at"`
	Detail   string    `json:"detail,omitempty"`
}

// EventRepo wraps the hub_event collection.
type EventRepo struct{ col *Collection }

func (db *DB) Events() *EventRepo { return &EventRepo{col: db.Collection(CollectionEvent)} }

func (r *EventRepo) Append(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var doc hubtypes.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return r.col.InsertOne(ctx, doc)
}

func (r *EventRepo) All(ctx context.Context) ([]Event, error) {
	docs, err := r.col.Find(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(docs))
	for _, d := range docs {
		raw, _ := json.Marshal(d)
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
