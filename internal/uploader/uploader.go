// Package uploader implements the hub's upload engine: it runs a
// plugin's parser over downloaded source data, pipes the resulting
// documents through a storagestrategy.Strategy into a temporary
// collection, and atomically renames that collection over the live one
// once the whole run succeeds.
package uploader

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/biohub-dev/biohub/internal/hubdb"
	"github.com/biohub-dev/biohub/internal/hubtypes"
	"github.com/biohub-dev/biohub/internal/jobmanager"
	"github.com/biohub-dev/biohub/internal/storagestrategy"
	"github.com/biohub-dev/biohub/internal/store"
)

// Parser turns a downloaded data folder into a stream of documents, per
// the plugin manifest's declared parser function and kwargs.
type Parser func(dataPath string, kwargs map[string]any) (iter.Seq[hubtypes.Document], error)

// SubSource is one uploadable unit (a plugin may declare several, one
// per sub-collection it populates).
type SubSource struct {
	Name             string
	DataPath         string
	Parser           Parser
	ParserKwargs     map[string]any
	TargetCollection string
	NewStrategy      func(target store.DocumentStore) storagestrategy.Strategy
}

// Source groups the sub-sources belonging to one plugin.
type Source struct {
	Name       string
	SubSources []SubSource
}

// Uploader runs Source uploads against a store.Opener, persisting
// per-sub-source status into HubDB.
type Uploader struct {
	Log    *zap.Logger
	Opener store.Opener
	Jobs   *jobmanager.Manager
	Sources *hubdb.SourceRepo
	// ArchiveKeepN bounds how many "<collection>_archive_*" generations
	// are kept per target collection; older ones are dropped once a
	// new upload succeeds. Zero falls back to 10.
	ArchiveKeepN int
}

func New(log *zap.Logger, opener store.Opener, jobs *jobmanager.Manager, sources *hubdb.SourceRepo) *Uploader {
	return &Uploader{Log: log, Opener: opener, Jobs: jobs, Sources: sources, ArchiveKeepN: 10}
}

func (u *Uploader) archiveKeepN() int {
	if u.ArchiveKeepN <= 0 {
		return 10
	}
	return u.ArchiveKeepN
}

// Load runs every sub-source of src sequentially, returning the total
// document count stored across all of them.
func (u *Uploader) Load(ctx context.Context, src Source, batchSize int, force bool) (int, error) {
	total := 0
	for _, sub := range src.SubSources {
		n, err := u.loadOne(ctx, src.Name, sub, batchSize, force)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// LoadParallel fans every sub-source out across JobManager.DeferToProcess,
// all writing independently into their own temp-then-rename pipeline, and
// awaits them in order, returning at the first error without waiting
// for the sub-sources still running.
func (u *Uploader) LoadParallel(ctx context.Context, src Source, batchSize int, force bool) (int, error) {
	futures := make([]*jobmanager.Future, len(src.SubSources))
	for i, sub := range src.SubSources {
		sub := sub
		info := jobmanager.JobInfo{
			Category:    "upload",
			Source:      src.Name,
			Step:        string(hubtypes.StepData),
			Description: fmt.Sprintf("upload %s/%s", src.Name, sub.Name),
		}
		futures[i] = u.Jobs.DeferToProcess(ctx, info, func(ctx context.Context) (any, error) {
			return u.loadOne(ctx, src.Name, sub, batchSize, force)
		})
	}

	total := 0
	for _, f := range futures {
		result, err := f.Await(ctx)
		if err != nil {
			return total, err
		}
		if n, ok := result.(int); ok {
			total += n
		}
	}
	return total, nil
}

func (u *Uploader) loadOne(ctx context.Context, sourceName string, sub SubSource, batchSize int, force bool) (int, error) {
	log := u.Log.With(zap.String("source", sourceName), zap.String("sub_source", sub.Name))

	if err := u.setState(ctx, sourceName, sub.Name, hubtypes.StatusBuilding, 0, nil); err != nil {
		return 0, err
	}
	start := time.Now()

	docs, err := sub.Parser(sub.DataPath, sub.ParserKwargs)
	if err != nil {
		err = fmt.Errorf("uploader: parse %s/%s: %w", sourceName, sub.Name, err)
		u.fail(ctx, sourceName, sub.Name, err)
		return 0, err
	}

	tempName := fmt.Sprintf("%s__tmp", sub.TargetCollection)
	tempStore, err := u.Opener.Open(ctx, tempName)
	if err != nil {
		err = fmt.Errorf("uploader: open temp collection %s: %w", tempName, err)
		u.fail(ctx, sourceName, sub.Name, err)
		return 0, err
	}

	strategy := sub.NewStrategy(tempStore)
	count, err := strategy.Store(ctx, docs, batchSize)
	if err != nil {
		err = fmt.Errorf("uploader: store %s/%s: %w", sourceName, sub.Name, err)
		u.fail(ctx, sourceName, sub.Name, err)
		return 0, err
	}

	if err := u.archiveLive(ctx, sub.TargetCollection); err != nil {
		err = fmt.Errorf("uploader: archive existing %s: %w", sub.TargetCollection, err)
		u.fail(ctx, sourceName, sub.Name, err)
		return 0, err
	}
	if err := tempStore.RenameTo(ctx, sub.TargetCollection); err != nil {
		err = fmt.Errorf("uploader: rename %s to %s: %w", tempName, sub.TargetCollection, err)
		u.fail(ctx, sourceName, sub.Name, err)
		return 0, err
	}

	elapsed := time.Since(start)
	now := time.Now()
	if err := u.setState(ctx, sourceName, sub.Name, hubtypes.StatusSuccess, count, nil); err != nil {
		return count, err
	}
	if err := u.setSuccessTiming(ctx, sourceName, sub.Name, now, elapsed); err != nil {
		return count, err
	}

	log.Info("upload complete", zap.Int("count", count), zap.Duration("elapsed", elapsed))
	return count, nil
}

// archiveLive renames targetName out of the way, into
// "<targetName>_archive_<unixts>_<rand>", before the temp collection is
// promoted over it — keeping the prior generation around instead of
// silently dropping it, then prunes generations beyond ArchiveKeepN.
// Backends that don't implement store.CollectionLister (or a live
// collection that doesn't exist yet) are a no-op.
func (u *Uploader) archiveLive(ctx context.Context, targetName string) error {
	lister, ok := u.Opener.(store.CollectionLister)
	if !ok {
		return nil
	}

	exact, err := lister.ListCollections(ctx, targetName)
	if err != nil {
		return err
	}
	exists := false
	for _, name := range exact {
		if name == targetName {
			exists = true
			break
		}
	}
	if exists {
		live, err := u.Opener.Open(ctx, targetName)
		if err != nil {
			return err
		}
		archiveName := fmt.Sprintf("%s_archive_%d_%04x", targetName, time.Now().Unix(), rand.Uint32()&0xffff)
		if err := live.RenameTo(ctx, archiveName); err != nil {
			return err
		}
	}

	return u.pruneArchives(ctx, lister, targetName)
}

// pruneArchives drops every "<targetName>_archive_*" generation beyond
// the newest ArchiveKeepN, oldest first (names sort lexicographically
// by their embedded unix timestamp).
func (u *Uploader) pruneArchives(ctx context.Context, lister store.CollectionLister, targetName string) error {
	names, err := lister.ListCollections(ctx, targetName+"_archive_")
	if err != nil {
		return err
	}
	sort.Strings(names)
	keep := u.archiveKeepN()
	if len(names) <= keep {
		return nil
	}
	for _, name := range names[:len(names)-keep] {
		s, err := u.Opener.Open(ctx, name)
		if err != nil {
			return err
		}
		if err := s.Drop(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (u *Uploader) setState(ctx context.Context, sourceName, subName string, status hubtypes.RunStatus, count int, cause error) error {
	src, found, err := u.Sources.Get(ctx, sourceName)
	if err != nil {
		return err
	}
	if !found {
		src = &hubdb.Source{ID: sourceName}
	}
	if src.Upload == nil {
		src.Upload = map[string]hubtypes.UploadJobState{}
	}
	state := src.Upload[subName]
	state.Status = status
	state.Count = count
	if status == hubtypes.StatusBuilding {
		state.StepStartedAt = time.Now()
	}
	if cause != nil {
		state.Error = cause.Error()
	} else {
		state.Error = ""
	}
	src.Upload[subName] = state
	return u.Sources.Upsert(ctx, src)
}

func (u *Uploader) setSuccessTiming(ctx context.Context, sourceName, subName string, at time.Time, elapsed time.Duration) error {
	src, found, err := u.Sources.Get(ctx, sourceName)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	state := src.Upload[subName]
	state.Time = at
	state.LastSuccess = at
	state.TimeInSeconds = elapsed.Seconds()
	src.Upload[subName] = state
	return u.Sources.Upsert(ctx, src)
}

func (u *Uploader) fail(ctx context.Context, sourceName, subName string, cause error) {
	if err := u.setState(ctx, sourceName, subName, hubtypes.StatusFailed, 0, cause); err != nil {
		u.Log.Error("failed to persist upload failure state", zap.String("source", sourceName), zap.String("sub_source", subName), zap.Error(err))
	}
}
